package internalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/limiter"
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/resilience"
)

type upstream struct {
	*httptest.Server
	calls atomic.Int32
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func geneHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"gene_id":"ENSG00000139618","symbol":"BRCA2","start":32315474}`)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newRedisCache(t *testing.T) (*cache.RedisCache, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return cache.NewRedisCache(pkgredis.Wrap(rdb), "api:", cache.WithClock(c.Now)), c
}

func newClient(url string, c cache.Cache, l *limiter.Limiter) *Client {
	if l == nil {
		l = limiter.New(4, 4)
	}
	return New(Config{BaseURL: url, Timeout: time.Second}, c, l, metrics.NewUnregistered())
}

func TestQueryDecodesJSON(t *testing.T) {
	u := newUpstream(t, geneHandler)
	client := newClient(u.URL, nil, nil)

	v, err := client.Query(context.Background(), "/GRCh38/gene/ENSG00000139618/")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	gene, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", v)
	}
	if gene["symbol"] != "BRCA2" {
		t.Errorf("expected BRCA2, got %v", gene["symbol"])
	}
	if n, _ := gene["start"].(json.Number).Int64(); n != 32315474 {
		t.Errorf("expected start to survive as an exact number, got %v", gene["start"])
	}
}

func TestQueryWithCacheKeyCallsUpstreamOnceUntilExpiry(t *testing.T) {
	u := newUpstream(t, geneHandler)
	rc, clk := newRedisCache(t)
	client := newClient(u.URL, rc, nil)
	ctx := context.Background()
	opts := []QueryOption{WithCacheKey("gene:ENSG00000139618"), WithCacheExpiration(time.Hour)}

	for i := 0; i < 5; i++ {
		if _, err := client.Query(ctx, "/GRCh38/gene/ENSG00000139618/", opts...); err != nil {
			t.Fatal(err)
		}
	}
	if n := u.calls.Load(); n != 1 {
		t.Fatalf("expected 1 upstream call, got %d", n)
	}

	clk.Advance(time.Hour)
	if _, err := client.Query(ctx, "/GRCh38/gene/ENSG00000139618/", opts...); err != nil {
		t.Fatal(err)
	}
	if n := u.calls.Load(); n != 2 {
		t.Fatalf("expected refetch after expiry, got %d calls", n)
	}
}

func TestZeroExpirationIsNeverStale(t *testing.T) {
	var version atomic.Int32
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":%d}`, version.Add(1))
	})
	rc, _ := newRedisCache(t)
	client := newClient(u.URL, rc, nil)
	ctx := context.Background()
	opts := []QueryOption{WithCacheKey("k"), WithCacheExpiration(0)}

	first, _ := client.Query(ctx, "/x/", opts...)
	second, _ := client.Query(ctx, "/x/", opts...)
	if first.(map[string]any)["version"] == second.(map[string]any)["version"] {
		t.Fatalf("expected a fresh response, got %v twice", first)
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		geneHandler(w, r)
	})
	rc, _ := newRedisCache(t)
	client := newClient(u.URL, rc, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Query(context.Background(), "/g/", WithCacheKey("g"), WithCacheExpiration(time.Minute)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := u.calls.Load(); n != 1 {
		t.Fatalf("expected 1 upstream call, got %d", n)
	}
}

func TestNotFoundIsEmptyResult(t *testing.T) {
	for name, h := range map[string]http.HandlerFunc{
		"404":        func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		"empty body": func(w http.ResponseWriter, r *http.Request) {},
	} {
		t.Run(name, func(t *testing.T) {
			u := newUpstream(t, h)
			v, err := newClient(u.URL, nil, nil).Query(context.Background(), "/GRCh38/gene/ENSG0/")
			if err != nil || v != nil {
				t.Fatalf("expected (nil, nil), got (%v, %v)", v, err)
			}
		})
	}
}

func TestNon2xxIsUpstreamError(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "elasticsearch exploded", http.StatusInternalServerError)
	})
	_, err := newClient(u.URL, nil, nil).Query(context.Background(), "/x/")
	var ue *apperrors.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.StatusCode != 500 || ue.Body != "elasticsearch exploded\n" {
		t.Errorf("unexpected error detail: %+v", ue)
	}
	if !errors.Is(err, apperrors.ErrUpstream) || errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstream only, got %v", err)
	}
}

func TestMalformedJSONIsUpstreamError(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"gene_id":`)
	})
	_, err := newClient(u.URL, nil, nil).Query(context.Background(), "/x/")
	if !errors.Is(err, apperrors.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestTimeoutIsUnavailableAndReleasesSlot(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	l := limiter.New(1, 0)
	client := New(Config{BaseURL: u.URL, Timeout: 20 * time.Millisecond}, nil, l, nil)

	_, err := client.Query(context.Background(), "/slow/")
	if !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if st := l.Stats(); st.Active != 0 {
		t.Fatalf("slot leaked after timeout: %+v", st)
	}
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := newClient(url, nil, nil).Query(context.Background(), "/x/")
	if !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestCacheHitBypassesLimiter(t *testing.T) {
	u := newUpstream(t, geneHandler)
	rc, _ := newRedisCache(t)
	l := limiter.New(1, 0)
	client := newClient(u.URL, rc, l)
	ctx := context.Background()
	if err := rc.Set(ctx, "gene:1", []byte(`{"symbol":"TTN"}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	held, _, _ := l.Acquire(ctx)
	defer held.Release()

	v, err := client.Query(ctx, "/gene/1/", WithCacheKey("gene:1"))
	if err != nil {
		t.Fatalf("expected cache hit while the limiter is saturated, got %v", err)
	}
	if v.(map[string]any)["symbol"] != "TTN" || u.calls.Load() != 0 {
		t.Fatalf("expected cached value without upstream call, got %v", v)
	}
}

func TestLimiterRejectionSurfaces(t *testing.T) {
	u := newUpstream(t, geneHandler)
	l := limiter.New(1, 0)
	client := newClient(u.URL, nil, l)
	held, _, _ := l.Acquire(context.Background())
	defer held.Release()

	_, err := client.Query(context.Background(), "/x/")
	if !errors.Is(err, apperrors.ErrTooManyRequests) {
		t.Fatalf("expected ErrTooManyRequests, got %v", err)
	}
	if u.calls.Load() != 0 {
		t.Error("rejected request must not reach the upstream")
	}
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("READONLY You can't write against a read only replica")
}

func TestCacheWriteFailureDoesNotFailRequest(t *testing.T) {
	u := newUpstream(t, geneHandler)
	m := metrics.NewUnregistered()
	client := New(Config{BaseURL: u.URL}, brokenCache{}, limiter.New(2, 2), m)

	v, err := client.Query(context.Background(), "/g/", WithCacheKey("g"))
	if err != nil || v == nil {
		t.Fatalf("expected success despite cache failure, got (%v, %v)", v, err)
	}
	if n := testutil.ToFloat64(m.CacheWriteErrorsTotal); n != 1 {
		t.Errorf("expected 1 cache write error, got %v", n)
	}
}

func TestCircuitOpensOnServerErrorsOnly(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	})
	client := New(Config{
		BaseURL: u.URL,
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
	}, nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		client.Query(ctx, "/missing/")
	}
	if client.BreakerState() != resilience.StateClosed {
		t.Fatal("404s must not open the circuit")
	}

	status.Store(http.StatusBadGateway)
	client.Query(ctx, "/x/")
	client.Query(ctx, "/x/")
	calls := u.calls.Load()
	_, err := client.Query(ctx, "/x/")
	if !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Fatalf("expected open circuit to surface as unavailable, got %v", err)
	}
	if u.calls.Load() != calls {
		t.Error("open circuit must not call the upstream")
	}

	status.Store(http.StatusOK)
	client.ResetBreaker()
	if client.BreakerState() != resilience.StateClosed {
		t.Fatal("expected reset to close the circuit")
	}
	if _, err := client.Query(ctx, "/x/"); err != nil {
		t.Fatalf("expected upstream to be called after reset, got %v", err)
	}
	if u.calls.Load() != calls+1 {
		t.Error("expected one upstream call after reset")
	}
}

func TestRequestIDIsForwarded(t *testing.T) {
	var got atomic.Value
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-Request-ID"))
		geneHandler(w, r)
	})
	ctx := logger.WithRequestID(context.Background(), "req-123")
	if _, err := newClient(u.URL, nil, nil).Query(ctx, "/x/"); err != nil {
		t.Fatal(err)
	}
	if got.Load() != "req-123" {
		t.Errorf("expected request id forwarded, got %v", got.Load())
	}
}

func TestQueryInto(t *testing.T) {
	u := newUpstream(t, geneHandler)
	var gene struct {
		GeneID string `json:"gene_id"`
	}
	found, err := newClient(u.URL, nil, nil).QueryInto(context.Background(), "/x/", &gene)
	if err != nil || !found || gene.GeneID != "ENSG00000139618" {
		t.Fatalf("unexpected result: found=%v gene=%+v err=%v", found, gene, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// blockingUpstream answers /held/ only once release is called. Other paths
// answer immediately.
func blockingUpstream(t *testing.T) (*upstream, func()) {
	t.Helper()
	gate := make(chan struct{})
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/held/" {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		geneHandler(w, r)
	})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return u, release
}

func TestCachedQueryCancelledWhileQueuedLeavesQueue(t *testing.T) {
	u, release := blockingUpstream(t)
	rc, _ := newRedisCache(t)
	l := limiter.New(1, 1)
	client := newClient(u.URL, rc, l)

	held := make(chan error, 1)
	go func() {
		_, err := client.Query(context.Background(), "/held/", WithCacheKey("held"))
		held <- err
	}()
	waitFor(t, func() bool { return l.Stats().Active == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Query(ctx, "/a/", WithCacheKey("a")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	waitFor(t, func() bool { return l.Stats().Queued == 0 })

	// The freed queue position is available to a live caller.
	next := make(chan error, 1)
	go func() {
		_, err := client.Query(context.Background(), "/b/", WithCacheKey("b"))
		next <- err
	}()
	waitFor(t, func() bool { return l.Stats().Queued == 1 })
	release()

	for _, ch := range []chan error{held, next} {
		if err := <-ch; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := u.calls.Load(); n != 2 {
		t.Errorf("expected the abandoned query never to reach the upstream, got %d calls", n)
	}
	if st := l.Stats(); st.Active != 0 || st.Queued != 0 {
		t.Errorf("expected an idle limiter, got %+v", st)
	}
}

func TestSharedFetchSurvivesWhileAnyCallerWaits(t *testing.T) {
	u, release := blockingUpstream(t)
	rc, _ := newRedisCache(t)
	l := limiter.New(1, 1)
	client := newClient(u.URL, rc, l)

	held := make(chan error, 1)
	go func() {
		_, err := client.Query(context.Background(), "/held/", WithCacheKey("held"))
		held <- err
	}()
	waitFor(t, func() bool { return l.Stats().Active == 1 })

	patient := make(chan error, 1)
	go func() {
		_, err := client.Query(context.Background(), "/a/", WithCacheKey("a"))
		patient <- err
	}()
	waitFor(t, func() bool { return l.Stats().Queued == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := client.Query(ctx, "/a/", WithCacheKey("a")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if st := l.Stats(); st.Queued != 1 {
		t.Fatalf("expected the shared fetch to stay queued, got %+v", st)
	}

	release()
	if err := <-held; err != nil {
		t.Fatal(err)
	}
	if err := <-patient; err != nil {
		t.Fatal(err)
	}
	if n := u.calls.Load(); n != 2 {
		t.Errorf("expected 2 upstream calls, got %d", n)
	}
	if _, ok := rc.Get(context.Background(), "a"); !ok {
		t.Error("expected the shared result to be cached")
	}
}

func TestFetchHoldingSlotCompletesAfterCallerLeaves(t *testing.T) {
	u, release := blockingUpstream(t)
	rc, _ := newRedisCache(t)
	l := limiter.New(1, 0)
	client := newClient(u.URL, rc, l)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := client.Query(ctx, "/held/", WithCacheKey("held")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	release()
	waitFor(t, func() bool {
		_, ok := rc.Get(context.Background(), "held")
		return ok
	})
	waitFor(t, func() bool { return l.Stats().Active == 0 })
}
