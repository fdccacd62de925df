package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestStartSpanWithoutInit(t *testing.T) {
	// Before Init the global noop provider serves spans; callers must not
	// have to care.
	tracer = nil

	ctx, span := StartSpan(context.Background(), "broker.broadcast",
		trace.WithAttributes(attribute.String("room", "room-1")),
	)
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}
	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}
	span.End()
}

func TestInitDisabled(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"disabled", Config{ServiceName: "parlor", Enabled: false}},
		{"exporter_none", Config{ServiceName: "parlor", Enabled: true, ExporterType: "none"}},
		{"empty_service_name", Config{Enabled: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Init(tt.config); err != nil {
				t.Fatalf("Init() error = %v, want nil", err)
			}
			_, span := StartSpan(context.Background(), "scheduler.respond")
			span.End()
		})
	}
}

func TestInitUnknownExporter(t *testing.T) {
	err := Init(Config{ServiceName: "parlor", Enabled: true, ExporterType: "carrier-pigeon"})
	if err == nil {
		t.Fatal("Init() with unknown exporter: error = nil, want error")
	}
}

func TestInitStdoutExporter(t *testing.T) {
	if err := Init(Config{ServiceName: "parlor", Enabled: true, ExporterType: "stdout"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() {
		_ = Shutdown(context.Background())
		tracerProvider = nil
		tracer = nil
	})

	_, span := StartSpan(context.Background(), "responder.generate",
		trace.WithAttributes(
			attribute.String("participant.id", "p1"),
			attribute.String("provider", "openai"),
		),
	)
	span.End()
}

func TestShutdownWithoutInit(t *testing.T) {
	tracerProvider = nil
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v, want nil", err)
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{"empty", "", nil},
		{"single", "Authorization=Bearer abc", map[string]string{"Authorization": "Bearer abc"}},
		{"multiple", "a=1,b=2", map[string]string{"a": "1", "b": "2"}},
		{"value_with_equals", "token=a=b", map[string]string{"token": "a=b"}},
		{"missing_value_skipped", "novalue", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHeaders(tt.input)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("parseHeaders(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseHeaders(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseHeaders(%q)[%q] = %q, want %q", tt.input, k, got[k], v)
				}
			}
		})
	}
}

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("PARLOR_OBS_TEST_KEY", "set")
	if got := getEnv("PARLOR_OBS_TEST_KEY", "fallback"); got != "set" {
		t.Errorf("getEnv() = %q, want %q", got, "set")
	}
	if got := getEnv("PARLOR_OBS_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnv() = %q, want %q", got, "fallback")
	}
}
