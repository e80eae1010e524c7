package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper stores chat idempotency keys and the replies sent for them in
// Redis so a retried request gets the first reply instead of a second
// dispatch, on any instance.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(scope, key string) string {
	return fmt.Sprintf("idem:%s:%s", scope, key)
}

func (r *RedisDeduper) replyKey(scope, key string) string {
	return r.key(scope, key) + ":reply"
}

func (r *RedisDeduper) Add(ctx context.Context, scope, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(scope, key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, scope, key string) error {
	return r.client.Del(ctx, r.key(scope, key), r.replyKey(scope, key)).Err()
}

func (r *RedisDeduper) Remember(ctx context.Context, scope, key string, body []byte) error {
	return r.client.Set(ctx, r.replyKey(scope, key), body, r.ttl).Err()
}

func (r *RedisDeduper) Recall(ctx context.Context, scope, key string) ([]byte, bool, error) {
	body, err := r.client.Get(ctx, r.replyKey(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}
