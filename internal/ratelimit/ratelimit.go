// Package ratelimit enforces the per-client request and query-cost windows.
// Windows are fixed, aligned to multiples of the window length, and counted
// in a shared Store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
)

const (
	WindowRequests = "requests"
	WindowCost     = "cost"
)

// Decision is the result of charging a client's window.
type Decision struct {
	Allowed bool
	Window  string
	Count   int64
	Limit   int64
	ResetAt time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}

// Err returns nil when the decision allows the request, and an
// ErrRateLimited AppError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperrors.Newf(apperrors.ErrRateLimited, http.StatusTooManyRequests,
		"%s limit of %d per window exceeded", d.Window, d.Limit)
}

// Limits are the per-window ceilings. A ceiling of zero or less disables
// that window.
type Limits struct {
	RequestsPerWindow int
	CostPerWindow     int
}

type Limiter struct {
	store   Store
	limits  Limits
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func New(store Store, limits Limits, window time.Duration, opts ...Option) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		store:  store,
		limits: limits,
		window: window,
		now:    time.Now,
		logger: slog.Default().With("component", "rate-limiter"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AllowRequest charges one request to client.
func (l *Limiter) AllowRequest(ctx context.Context, client string) Decision {
	return l.allow(ctx, WindowRequests, client, 1, l.limits.RequestsPerWindow)
}

// AllowCost charges cost to client's query-cost window.
func (l *Limiter) AllowCost(ctx context.Context, client string, cost int) Decision {
	return l.allow(ctx, WindowCost, client, int64(cost), l.limits.CostPerWindow)
}

func (l *Limiter) allow(ctx context.Context, window, client string, n int64, limit int) Decision {
	now := l.now()
	start := now.Truncate(l.window)
	d := Decision{Allowed: true, Window: window, Limit: int64(limit), ResetAt: start.Add(l.window)}
	if limit <= 0 {
		return d
	}
	key := fmt.Sprintf("ratelimit:%s:%s:%s", window, client, strconv.FormatInt(start.Unix(), 10))
	count, err := l.store.Incr(ctx, key, n, l.window)
	if err != nil {
		// Fail open.
		l.logger.Error("rate window store failed, allowing request", "window", window, "client", client, "error", err)
		return d
	}
	d.Count = count
	d.Allowed = count <= int64(limit)
	if !d.Allowed {
		l.logger.Warn("rate limit exceeded", "window", window, "client", client, "count", count, "limit", limit)
		if l.metrics != nil {
			l.metrics.RateLimitRejectionsTotal.WithLabelValues(window).Inc()
		}
	}
	return d
}
