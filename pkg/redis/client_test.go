package redis

import (
	"context"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/config"
	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(config.RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestNewClientRejectsEmptyURL(t *testing.T) {
	if _, err := NewClient(config.RedisConfig{}); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestGetSetDel(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !IsNilError(err) {
		t.Fatalf("expected nil error for missing key, got %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("expected v, got %q (%v)", got, err)
	}
	if err := c.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !IsNilError(err) {
		t.Fatalf("expected key deleted, got %v", err)
	}
}

func TestIncrWithExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrWithExpiry(ctx, "counter", 1, time.Minute)
		if err != nil {
			t.Fatalf("IncrWithExpiry: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	got, _ := c.IncrWithExpiry(ctx, "counter", 5, time.Minute)
	if got != 8 {
		t.Fatalf("expected 8 after adding 5, got %d", got)
	}

	mr.FastForward(61 * time.Second)
	got, _ = c.IncrWithExpiry(ctx, "counter", 1, time.Minute)
	if got != 1 {
		t.Fatalf("expected counter to restart after expiry, got %d", got)
	}
}

func TestFlushByPattern(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	for _, k := range []string{"api:a", "api:b", "other:c"} {
		if err := c.Set(ctx, k, "1", 0); err != nil {
			t.Fatal(err)
		}
	}
	n, err := c.FlushByPattern(ctx, "api:*")
	if err != nil {
		t.Fatalf("FlushByPattern: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if _, err := c.Get(ctx, "other:c"); err != nil {
		t.Errorf("expected other:c to survive, got %v", err)
	}
}
