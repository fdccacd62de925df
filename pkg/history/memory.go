package history

import (
	"context"
	"sort"
	"sync"
)

// DefaultMaxEntries bounds per-room retention for the in-memory store.
const DefaultMaxEntries = 500

// MemoryStore is an in-process Store. It is the fallback when no external
// backend is configured; transcripts do not survive a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	rooms      map[string][]Message
	maxEntries int
	closed     bool
}

// NewMemoryStore creates an in-memory store keeping at most maxEntries
// messages per room. maxEntries <= 0 selects DefaultMaxEntries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		rooms:      make(map[string][]Message),
		maxEntries: maxEntries,
	}
}

// Append records one message, evicting the oldest entry once the room is
// at capacity.
func (s *MemoryStore) Append(ctx context.Context, roomID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	log := append(s.rooms[roomID], msg)
	if len(log) > s.maxEntries {
		log = log[len(log)-s.maxEntries:]
	}
	s.rooms[roomID] = log
	return nil
}

// Recent returns up to limit messages from the tail, oldest first.
func (s *MemoryStore) Recent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	log := s.rooms[roomID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]Message, len(log))
	copy(out, log)
	return out, nil
}

// Rooms lists room IDs in sorted order.
func (s *MemoryStore) Rooms(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping always succeeds while the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close discards all transcripts.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.rooms = nil
	return nil
}
