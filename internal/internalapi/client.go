// Package internalapi talks to the upstream REST service that stores the
// genomic data. Every request passes through the response cache, the
// concurrency limiter and a circuit breaker.
package internalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/limiter"
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/resilience"
)

const maxErrorBody = 1024

type queryOptions struct {
	cacheKey        string
	cacheExpiration time.Duration
}

// QueryOption adjusts a single Query call.
type QueryOption func(*queryOptions)

// WithCacheKey caches the response under key.
func WithCacheKey(key string) QueryOption {
	return func(o *queryOptions) { o.cacheKey = key }
}

// WithCacheExpiration sets how long a cached response stays fresh. Zero or
// less disables caching for the call.
func WithCacheExpiration(d time.Duration) QueryOption {
	return func(o *queryOptions) { o.cacheExpiration = d }
}

// Config is the client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// DefaultCacheExpiration applies when WithCacheKey is given without
	// WithCacheExpiration.
	DefaultCacheExpiration time.Duration
	Breaker                resilience.CircuitBreakerConfig
}

type Client struct {
	baseURL    string
	timeout    time.Duration
	defaultTTL time.Duration
	http       *http.Client
	cache      cache.Cache
	limiter    *limiter.Limiter
	breaker    *resilience.CircuitBreaker
	group      singleflight.Group
	mu         sync.Mutex
	flights    map[string]*flight
	flightSeq  uint64
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New builds a Client. A nil cache disables caching; a nil metrics value
// records into a private registry.
func New(cfg Config, c cache.Cache, l *limiter.Limiter, m *metrics.Metrics) *Client {
	if c == nil {
		c = cache.Nop{}
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if l == nil {
		l = limiter.New(32, 100)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DefaultCacheExpiration <= 0 {
		cfg.DefaultCacheExpiration = time.Hour
	}
	bcfg := cfg.Breaker
	bcfg.IsFailure = isBreakerFailure
	bcfg.OnStateChange = func(name string, _, to resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		defaultTTL: cfg.DefaultCacheExpiration,
		http:       &http.Client{},
		cache:      c,
		limiter:    l,
		breaker:    resilience.NewCircuitBreaker("internal-api", bcfg),
		flights:    make(map[string]*flight),
		metrics:    m,
		logger:     slog.Default().With("component", "internal-api-client"),
	}
}

// Query fetches path and decodes the JSON body. A 404 or an empty body
// yields (nil, nil).
func (c *Client) Query(ctx context.Context, path string, opts ...QueryOption) (any, error) {
	body, err := c.QueryRaw(ctx, path, opts...)
	if err != nil || body == nil {
		return nil, err
	}
	return decode(path, body)
}

// QueryInto fetches path and decodes the JSON body into dst. It reports
// false when the upstream has no such entity.
func (c *Client) QueryInto(ctx context.Context, path string, dst any, opts ...QueryOption) (bool, error) {
	body, err := c.QueryRaw(ctx, path, opts...)
	if err != nil || body == nil {
		return false, err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return false, &apperrors.UpstreamError{Path: path, StatusCode: http.StatusOK, Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	return true, nil
}

// QueryRaw is Query without decoding. The returned body has been checked to
// be valid JSON.
func (c *Client) QueryRaw(ctx context.Context, path string, opts ...QueryOption) ([]byte, error) {
	o := queryOptions{cacheExpiration: -1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheKey == "" {
		return c.fetch(ctx, path, false)
	}
	if o.cacheExpiration < 0 {
		o.cacheExpiration = c.defaultTTL
	}
	if o.cacheExpiration == 0 {
		return c.fetch(ctx, path, false)
	}

	if body, ok := c.cache.Get(ctx, o.cacheKey); ok {
		c.metrics.CacheHitsTotal.Inc()
		return body, nil
	}
	c.metrics.CacheMissesTotal.Inc()

	f := c.joinFlight(ctx, o.cacheKey)
	defer c.leaveFlight(o.cacheKey, f)

	ch := c.group.DoChan(f.key, func() (any, error) {
		if body, ok := c.cache.Get(f.ctx, o.cacheKey); ok {
			return body, nil
		}
		body, err := c.fetch(f.ctx, path, true)
		if err != nil || body == nil {
			return body, err
		}
		if err := c.cache.Set(context.WithoutCancel(f.ctx), o.cacheKey, body, o.cacheExpiration); err != nil {
			c.metrics.CacheWriteErrorsTotal.Inc()
			c.logger.Warn("cache write failed", "key", o.cacheKey, "error", err)
		}
		return body, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		body, _ := res.Val.([]byte)
		return body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flight is one shared fetch for a cache key. Its context is cancelled when
// the last waiting caller leaves; once the fetch holds a limiter slot it no
// longer observes that cancellation.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	callers int
}

func (c *Client) joinFlight(ctx context.Context, cacheKey string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[cacheKey]
	if !ok {
		c.flightSeq++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{
			key:    cacheKey + "#" + strconv.FormatUint(c.flightSeq, 10),
			ctx:    fctx,
			cancel: cancel,
		}
		c.flights[cacheKey] = f
	}
	f.callers++
	return f
}

func (c *Client) leaveFlight(cacheKey string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.callers--
	if f.callers > 0 {
		return
	}
	if c.flights[cacheKey] == f {
		delete(c.flights, cacheKey)
	}
	f.cancel()
}

// fetch takes a limiter slot and performs the request. With detach set the
// request outlives ctx once the slot is held, so a shared fetch that got
// through the queue completes and fills the cache.
func (c *Client) fetch(ctx context.Context, path string, detach bool) ([]byte, error) {
	slot, _, err := c.limiter.Acquire(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrTooManyRequests) {
			c.metrics.UpstreamRequestsTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}
	defer slot.Release()
	if detach {
		ctx = context.WithoutCancel(ctx)
	}

	var body []byte
	err = c.breaker.Execute(func() error {
		var err error
		body, err = c.do(ctx, path)
		return err
	})
	c.metrics.UpstreamLatency.Observe(slot.Held().Seconds())

	log := logger.FromContext(ctx).With("component", "internal-api-client", "path", path)
	switch {
	case err == nil && body == nil:
		c.metrics.UpstreamRequestsTotal.WithLabelValues("not_found").Inc()
		return nil, nil
	case err == nil:
		c.metrics.UpstreamRequestsTotal.WithLabelValues("ok").Inc()
		return body, nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.metrics.UpstreamRequestsTotal.WithLabelValues("unavailable").Inc()
		log.Warn("internal api circuit open")
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstreamUnavailable, err)
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		c.metrics.UpstreamRequestsTotal.WithLabelValues("unavailable").Inc()
		log.Error("internal api unavailable", "error", err)
		return nil, err
	default:
		c.metrics.UpstreamRequestsTotal.WithLabelValues("error").Inc()
		var ue *apperrors.UpstreamError
		if errors.As(err, &ue) {
			log.Error("internal api error", "status", ue.StatusCode, "body", ue.Body, "error", ue.Err)
		} else {
			log.Error("internal api error", "error", err)
		}
		return nil, err
	}
}

// do performs one GET. It returns (nil, nil) for a 404 or an empty body.
func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrUpstreamUnavailable, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperrors.UpstreamError{Path: path, StatusCode: resp.StatusCode, Body: truncate(body)}
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, &apperrors.UpstreamError{Path: path, StatusCode: resp.StatusCode, Body: truncate(body), Err: errors.New("malformed JSON")}
	}
	return body, nil
}

func decode(path string, body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &apperrors.UpstreamError{Path: path, StatusCode: http.StatusOK, Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	return v, nil
}

// isBreakerFailure counts transport failures and 5xx answers. 4xx answers
// come from a healthy upstream.
func isBreakerFailure(err error) bool {
	var ue *apperrors.UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode >= 500
	}
	return errors.Is(err, apperrors.ErrUpstreamUnavailable)
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}

// Stats exposes the limiter state for the status endpoint.
func (c *Client) Stats() limiter.Stats {
	return c.limiter.Stats()
}

// ResetBreaker closes the circuit breaker.
func (c *Client) ResetBreaker() {
	c.breaker.Reset()
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.GetState()
}
