// Package cache is the optional response cache in front of the internal API.
// Entries carry their own expiry, so a value read after its TTL is a miss
// even if the store has not evicted it yet.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/redis"
)

// Cache stores upstream response bodies by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Nop is the cache used when no store is configured: every Get misses and
// every Set is discarded.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

type entry struct {
	Value     []byte    `json:"value"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisCache stores entries in Redis under prefix+key.
type RedisCache struct {
	client *pkgredis.Client
	prefix string
	now    func() time.Time
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a RedisCache.
type Option func(*RedisCache)

// WithClock replaces time.Now for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *RedisCache) { c.now = now }
}

func NewRedisCache(client *pkgredis.Client, prefix string, opts ...Option) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: prefix,
		now:    time.Now,
		logger: slog.Default().With("component", "response-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key if it has not expired. Store
// errors and undecodable entries are reported as misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	k := c.prefix + key
	data, err := c.client.Get(ctx, k)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", k, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	if !c.now().Before(e.ExpiresAt) {
		if err := c.client.Del(ctx, k); err != nil {
			c.logger.Warn("deleting stale cache entry failed", "key", k, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", k)
	return e.Value, true
}

// Set stores value for ttl. A ttl of zero or less stores nothing.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := c.now()
	data, err := json.Marshal(entry{Value: value, CachedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("encoding cache entry %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes every entry under the cache prefix.
func (c *RedisCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.client.FlushByPattern(ctx, c.prefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return deleted, nil
}

func (c *RedisCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
