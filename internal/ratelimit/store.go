package ratelimit

import (
	"context"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/redis"
)

// Store holds window counters. Incr adds n to key, creating it with the
// given lifetime if absent, and returns the new total.
type Store interface {
	Incr(ctx context.Context, key string, n int64, window time.Duration) (int64, error)
}

// RedisStore keeps counters in Redis so that every API replica shares the
// same windows.
type RedisStore struct {
	client *pkgredis.Client
}

func NewRedisStore(client *pkgredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, n int64, window time.Duration) (int64, error) {
	return s.client.IncrWithExpiry(ctx, key, n, window)
}
