package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis lists, one list per room. It is the
// backend for deployments where transcripts must survive a restart or be
// read by another process.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxEntries int64
	ttl        time.Duration
	mu         sync.RWMutex
	closed     bool
}

// RedisConfig holds Redis connection configuration for the history store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all history keys (default:
	// "parlor:history:").
	Prefix string
	// MaxEntries bounds per-room retention (default: DefaultMaxEntries).
	MaxEntries int
	// TTL expires an idle room's transcript (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := NewRedisStoreFromClient(client, cfg.Prefix, cfg.MaxEntries, cfg.TTL)
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. Useful for testing with
// miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, maxEntries int, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "parlor:history:"
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		maxEntries: int64(maxEntries),
		ttl:        ttl,
	}
}

func (s *RedisStore) roomKey(roomID string) string {
	return s.prefix + roomID
}

// Append pushes one message onto the tail of the room's list, trims the
// list to the retention bound and refreshes the TTL, all in one pipeline.
func (s *RedisStore) Append(ctx context.Context, roomID string, msg Message) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := s.roomKey(roomID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.maxEntries, -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append to room %s: %w", roomID, err)
	}
	return nil
}

// Recent returns up to limit messages from the tail, oldest first.
func (s *RedisStore) Recent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, s.roomKey(roomID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read room %s: %w", roomID, err)
	}

	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			// A corrupt entry is skipped, not fatal for the room.
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Rooms scans for room keys under the store's prefix.
func (s *RedisStore) Rooms(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	var ids []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan rooms: %w", err)
	}
	return ids, nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
