package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LastSeenIndex remembers, per key, the newest record id already notified.
type LastSeenIndex interface {
	Get(ctx context.Context, key string) (id string, ok bool, err error)
	Set(ctx context.Context, key, id string) error
}

// LastSeenKey builds the index key for one user's view of one context.
func LastSeenKey(actor, contextID string) string {
	return actor + ":" + contextID
}

// MemoryIndex is a process-local LastSeenIndex. It is lost on restart.
type MemoryIndex struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{m: make(map[string]string)}
}

func (i *MemoryIndex) Get(ctx context.Context, key string) (string, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.m[key]
	return id, ok, nil
}

func (i *MemoryIndex) Set(ctx context.Context, key, id string) error {
	i.mu.Lock()
	i.m[key] = id
	i.mu.Unlock()
	return nil
}

// RedisIndex keeps the index in Redis so it survives reloads and restarts.
type RedisIndex struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisIndex creates an index on client. Entries expire after ttl of
// inactivity; ttl <= 0 keeps them forever.
func NewRedisIndex(client redis.UniversalClient, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, prefix: "lastseen:", ttl: ttl}
}

func (i *RedisIndex) Get(ctx context.Context, key string) (string, bool, error) {
	id, err := i.client.Get(ctx, i.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read last seen: %w", err)
	}
	return id, true, nil
}

func (i *RedisIndex) Set(ctx context.Context, key, id string) error {
	ttl := i.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := i.client.Set(ctx, i.prefix+key, id, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write last seen: %w", err)
	}
	return nil
}
