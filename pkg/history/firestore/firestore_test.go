package firestore

import (
	"testing"
	"time"

	"github.com/parlor-dev/parlor/pkg/history"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{ProjectID: "my-project"}, false},
		{"valid with ttl", Config{ProjectID: "my-project", TTL: time.Hour}, false},
		{"missing project", Config{}, true},
		{"negative ttl", Config{ProjectID: "my-project", TTL: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDocRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	msg := history.Message{
		SenderID:   "claude",
		Sender:     "Claude",
		SenderType: "ai",
		Content:    "hello",
		Timestamp:  now,
	}

	got := fromDoc(toDoc(msg, 0))
	if got != msg {
		t.Errorf("round trip: got %+v, want %+v", got, msg)
	}
}

func TestToDocExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	msg := history.Message{Sender: "Claude", Timestamp: now}

	doc := toDoc(msg, 0)
	if doc.ExpiresAt != nil {
		t.Errorf("zero TTL: ExpiresAt = %v, want nil", doc.ExpiresAt)
	}

	doc = toDoc(msg, time.Hour)
	if doc.ExpiresAt == nil {
		t.Fatal("TTL set: ExpiresAt is nil")
	}
	if want := now.Add(time.Hour); !doc.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", doc.ExpiresAt, want)
	}
}
