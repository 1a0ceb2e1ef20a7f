package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"board-sync/internal/consts"
)

// Deduper remembers idempotency keys of accepted drops.
type Deduper interface {
	Add(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
}

// RedisDeduper stores drop idempotency keys in Redis so a drop replayed by a
// retrying surface is applied once.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(key string) string {
	return consts.DropKeyPrefix + key
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), 1, r.ttl).Result()
}

// Remove forgets a key so a drop that was refused may be sent again.
func (r *RedisDeduper) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
