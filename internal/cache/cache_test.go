package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	pkgredis "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/redis"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewRedisCache(pkgredis.Wrap(rdb), "api:", WithClock(clock.Now)), mr, clock
}

func TestSetThenGet(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "gene:ENSG1", []byte(`{"gene_id":"ENSG1"}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get(ctx, "gene:ENSG1")
	if !ok || string(got) != `{"gene_id":"ENSG1"}` {
		t.Fatalf("expected hit with stored value, got %q (%v)", got, ok)
	}
	if !mr.Exists("api:gene:ENSG1") {
		t.Error("expected key to be stored under the prefix")
	}
	if ttl := mr.TTL("api:gene:ENSG1"); ttl != time.Minute {
		t.Errorf("expected store TTL of 1m, got %v", ttl)
	}
}

func TestGetAfterTTLIsMissEvenBeforeEviction(t *testing.T) {
	c, mr, clock := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte(`1`), 10*time.Second)

	clock.Advance(10 * time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss once the entry's TTL has elapsed")
	}
	if mr.Exists("api:k") {
		t.Error("expected stale entry to be deleted")
	}
}

func TestGetAfterStoreEviction(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte(`1`), time.Second)
	mr.FastForward(2 * time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after store eviction")
	}
}

func TestZeroTTLStoresNothing(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte(`1`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if mr.Exists("api:k") {
		t.Fatal("expected nothing stored for zero ttl")
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss")
	}
}

func TestUndecodableEntryIsMiss(t *testing.T) {
	c, mr, _ := newTestCache(t)
	_ = mr.Set("api:k", "not json")
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("expected miss for corrupt entry")
	}
}

func TestStoreDownIsMissAndSetErrors(t *testing.T) {
	c, mr, _ := newTestCache(t)
	mr.Close()
	ctx := context.Background()
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss when the store is unreachable")
	}
	if err := c.Set(ctx, "k", []byte(`1`), time.Minute); err == nil {
		t.Fatal("expected Set to report the store error")
	}
}

func TestStatsAndInvalidate(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "a", []byte(`1`), time.Minute)
	_ = c.Set(ctx, "b", []byte(`2`), time.Minute)
	_ = mr.Set("other:c", "3")
	c.Get(ctx, "a")
	c.Get(ctx, "missing")

	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %d/%d", hits, misses)
	}
	n, err := c.Invalidate(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 keys deleted, got %d (%v)", n, err)
	}
	if !mr.Exists("other:c") {
		t.Error("keys outside the prefix must survive invalidation")
	}
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	if err := c.Set(context.Background(), "k", []byte(`1`), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("Nop must always miss")
	}
}
