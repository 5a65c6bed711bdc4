// Package cache provides a TTL key/value store backed by Redis with an
// optional in-process tier in front of it. Values are JSON-serialized
// transparently; entries that fail to deserialize read as misses so foreign
// or corrupted keys never surface as errors.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// Store is a TTL-aware key/value store on top of Redis.
// All methods are safe for concurrent use.
type Store struct {
	rdb *redis.Client
	mem *gocache.Cache // nil when the memory tier is disabled
}

// Option configures a Store.
type Option func(*Store)

// WithMemoryTier enables an in-process cache in front of Redis. Entries are
// stored in the memory tier with the same TTL as in Redis, so the tier can
// never serve a value Redis would already have expired.
func WithMemoryTier(cleanupInterval time.Duration) Option {
	return func(s *Store) {
		s.mem = gocache.New(gocache.NoExpiration, cleanupInterval)
	}
}

// NewStore creates a Store on the given Redis client.
func NewStore(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set serializes value as JSON and stores it under key with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value for key %q: %w", key, err)
	}

	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}

	if s.mem != nil {
		s.mem.Set(key, data, ttl)
	}
	return nil
}

// Get reads key and deserializes it into out, which must be a pointer.
// The boolean reports whether a usable value was found: expired keys,
// missing keys and entries that fail to deserialize all read as absent.
// Only backing-store connectivity problems are returned as errors.
func (s *Store) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	if s.mem != nil {
		if cached, found := s.mem.Get(key); found {
			if data, ok := cached.([]byte); ok {
				if err := json.Unmarshal(data, out); err == nil {
					return true, nil
				}
				// Corrupted tier entry, fall through to Redis.
				s.mem.Delete(key)
			}
		}
	}

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read key %q: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		// Foreign or corrupted entry: treat as a miss, never an error.
		return false, nil
	}

	if s.mem != nil {
		if ttl, err := s.rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			s.mem.Set(key, data, ttl)
		}
	}
	return true, nil
}

// Delete removes key from the store. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.mem != nil {
		s.mem.Delete(key)
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// Keys enumerates keys matching the given Redis glob pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate keys for pattern %q: %w", pattern, err)
	}
	return keys, nil
}

// Ping verifies connectivity to the backing store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
