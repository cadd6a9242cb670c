// Package cache provides the injectable TTL cache for provider status
// snapshots. It replaces the original system's process-wide snapshot map
// with an explicit abstraction: bounded TTL, explicit invalidation when a
// contract goes terminal, and a Redis-backed implementation for deployments
// with more than one engine instance.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type SnapshotCache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

const keyPrefix = "contractcore:snapshot:"

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps a redis client as a snapshot cache. maxTTL bounds every
// Set regardless of what the caller asks for.
func NewRedis(client *redis.Client, maxTTL time.Duration) *Redis {
	if maxTTL <= 0 {
		maxTTL = 30 * time.Second
	}
	return &Redis{client: client, ttl: maxTTL}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > r.ttl {
		ttl = r.ttl
	}
	return r.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (r *Redis) Invalidate(ctx context.Context, key string) error {
	return r.client.Del(ctx, keyPrefix+key).Err()
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is the in-process implementation used in tests and single-node
// development setups.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(maxTTL time.Duration) *Memory {
	if maxTTL <= 0 {
		maxTTL = 30 * time.Second
	}
	return &Memory{entries: map[string]memoryEntry{}, ttl: maxTTL, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > m.ttl {
		ttl = m.ttl
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
