// Package history archives room transcripts beyond the scheduler's bounded
// in-memory context window. The scheduler treats a Store as an optional
// collaborator: when none is configured it falls back to the in-memory
// backend and behaves identically.
package history

import (
	"context"
	"errors"
	"time"
)

// Common errors for history operations.
var (
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("history store is closed")
)

// Message is one archived transcript line.
type Message struct {
	SenderID   string    `json:"senderId"`
	Sender     string    `json:"sender"`
	SenderType string    `json:"senderType"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store abstracts transcript persistence.
// Implementations must be safe for concurrent use and bound retention by
// entry count and, where the backend supports it, by TTL.
type Store interface {
	// Append records one message at the tail of a room's transcript
	// (append-only).
	Append(ctx context.Context, roomID string, msg Message) error

	// Recent returns up to limit messages from the tail of a room's
	// transcript, oldest first. An unknown room yields an empty slice,
	// not an error.
	Recent(ctx context.Context, roomID string, limit int) ([]Message, error)

	// Rooms lists the room IDs with archived messages.
	Rooms(ctx context.Context) ([]string, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
