// Package idempotency remembers which order a client-supplied idempotency
// key produced, so retried requests return the original order.
package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xenking/heating-shop/internal/domain/order"
)

// DefaultTTL bounds how long keys are remembered.
const DefaultTTL = 24 * time.Hour

var _ order.IdempotencyStore = (*RedisStore)(nil)

// RedisStore keeps keys in Redis so they are shared across instances.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func lockKey(scope, key string) string   { return "idemp:" + scope + ":" + key }
func resultKey(scope, key string) string { return "idemp:map:" + scope + ":" + key }

func (s *RedisStore) TryLock(ctx context.Context, scope, key string) (bool, error) {
	return s.rdb.SetNX(ctx, lockKey(scope, key), "1", s.ttl).Result()
}

func (s *RedisStore) Remember(ctx context.Context, scope, key, orderID string) error {
	return s.rdb.Set(ctx, resultKey(scope, key), orderID, s.ttl).Err()
}

func (s *RedisStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, resultKey(scope, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Release(ctx context.Context, scope, key string) error {
	return s.rdb.Del(ctx, lockKey(scope, key)).Err()
}

// Ping checks the Redis connection for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
