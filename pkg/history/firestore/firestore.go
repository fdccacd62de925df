// Package firestore archives room transcripts to Google Cloud Firestore.
// Unlike the Redis store it is an archive: retention is enforced by a
// Firestore TTL policy on the expiresAt field, not by trimming on write.
package firestore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/parlor-dev/parlor/pkg/history"
)

// DefaultCollectionPrefix namespaces the per-room collections.
const DefaultCollectionPrefix = "parlor-history-"

// Store implements history.Store on Firestore. Each room maps to one
// collection named <prefix><roomID>; each message is one document ordered
// by its timestamp field.
type Store struct {
	client *firestore.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// Config contains configuration for the Firestore history store.
type Config struct {
	// ProjectID is the GCP project (required).
	ProjectID string
	// CredentialsFile uses service account credentials instead of
	// Application Default Credentials.
	CredentialsFile string
	// CollectionPrefix namespaces the per-room collections (default:
	// DefaultCollectionPrefix).
	CollectionPrefix string
	// TTL stamps each document's expiresAt field; a Firestore TTL policy
	// on that field enforces expiry. Zero means no expiresAt field.
	TTL time.Duration
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("firestore history: project ID is required")
	}
	if c.TTL < 0 {
		return fmt.Errorf("firestore history: negative TTL %v", c.TTL)
	}
	return nil
}

// message is the Firestore document layout for one transcript line.
type message struct {
	SenderID   string     `firestore:"senderId"`
	Sender     string     `firestore:"sender"`
	SenderType string     `firestore:"senderType"`
	Content    string     `firestore:"content"`
	Timestamp  time.Time  `firestore:"timestamp"`
	ExpiresAt  *time.Time `firestore:"expiresAt,omitempty"`
}

func toDoc(msg history.Message, ttl time.Duration) message {
	doc := message{
		SenderID:   msg.SenderID,
		Sender:     msg.Sender,
		SenderType: msg.SenderType,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
	}
	if ttl > 0 {
		expires := msg.Timestamp.Add(ttl)
		doc.ExpiresAt = &expires
	}
	return doc
}

func fromDoc(doc message) history.Message {
	return history.Message{
		SenderID:   doc.SenderID,
		Sender:     doc.Sender,
		SenderType: doc.SenderType,
		Content:    doc.Content,
		Timestamp:  doc.Timestamp,
	}
}

// New connects to Firestore.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = DefaultCollectionPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *Store) roomCollection(roomID string) *firestore.CollectionRef {
	return s.client.Collection(s.prefix + roomID)
}

// Append writes one message document.
func (s *Store) Append(ctx context.Context, roomID string, msg history.Message) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return history.ErrStoreClosed
	}
	s.mu.RUnlock()

	if _, _, err := s.roomCollection(roomID).Add(ctx, toDoc(msg, s.ttl)); err != nil {
		return fmt.Errorf("append to room %s: %w", roomID, err)
	}
	return nil
}

// Recent returns up to limit messages from the tail, oldest first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]history.Message, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, history.ErrStoreClosed
	}
	s.mu.RUnlock()

	// Query newest-first so the limit trims the head of the transcript,
	// then reverse back to chronological order.
	q := s.roomCollection(roomID).OrderBy("timestamp", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []history.Message
	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read room %s: %w", roomID, err)
		}
		var doc message
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		out = append(out, fromDoc(doc))
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Rooms lists the room IDs with archived messages.
func (s *Store) Rooms(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, history.ErrStoreClosed
	}
	s.mu.RUnlock()

	var ids []string
	iter := s.client.Collections(ctx)
	for {
		col, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
		if strings.HasPrefix(col.ID, s.prefix) && col.ID != s.prefix {
			ids = append(ids, strings.TrimPrefix(col.ID, s.prefix))
		}
	}
	return ids, nil
}

// Ping verifies the backend is reachable with a one-document probe.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return history.ErrStoreClosed
	}
	s.mu.RUnlock()

	iter := s.client.Collection(s.prefix + "ping").Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
