package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "walletwatch:seen:"

// RedisStore is a Store backed by Redis. SET NX gives the atomic
// check-then-set the dedup contract requires, and TTL expiry is handled
// by Redis itself.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed dedup store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// MarkIfNew claims the key via SET NX with TTL.
func (s *RedisStore) MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// Seen reports whether the key is currently marked.
func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}
