// Package handler implements the API's operational endpoints: cache and
// limiter statistics, cache invalidation, breaker reset and the analytics
// proxy.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/limiter"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/resilience"
)

// CacheAdmin is implemented by the Redis response cache.
type CacheAdmin interface {
	Stats() (hits, misses int64)
	Invalidate(ctx context.Context) (int64, error)
}

// Upstream is implemented by the internal API client.
type Upstream interface {
	Stats() limiter.Stats
	BreakerState() resilience.State
	ResetBreaker()
}

type Handler struct {
	cache          CacheAdmin
	upstream       Upstream
	analyticsProxy *httputil.ReverseProxy
	logger         *slog.Logger
}

// New builds the handler. cache is nil when response caching is disabled;
// analyticsURL is empty when no analytics service is deployed.
func New(cache CacheAdmin, upstream Upstream, analyticsURL string) (*Handler, error) {
	h := &Handler{
		cache:    cache,
		upstream: upstream,
		logger:   slog.Default().With("component", "admin-handler"),
	}
	if analyticsURL != "" {
		u, err := url.Parse(analyticsURL)
		if err != nil {
			return nil, err
		}
		h.analyticsProxy = httputil.NewSingleHostReverseProxy(u)
		h.analyticsProxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Error("analytics proxy failed", "error", err)
			h.writeError(w, http.StatusBadGateway, "analytics service unavailable")
		}
	}
	return h, nil
}

type cacheStatsResponse struct {
	Enabled bool    `json:"enabled"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// CacheStats handles GET /api/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	resp := cacheStatsResponse{}
	if h.cache != nil {
		resp.Enabled = true
		resp.Hits, resp.Misses = h.cache.Stats()
		if total := resp.Hits + resp.Misses; total > 0 {
			resp.HitRate = float64(resp.Hits) / float64(total)
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CacheInvalidate handles POST /api/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"deleted": 0})
		return
	}
	n, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.logger.Info("response cache invalidated", "deleted", n)
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

type limiterStatsResponse struct {
	limiter.Stats
	CircuitBreaker string `json:"circuit_breaker"`
}

// LimiterStats handles GET /api/limiter/stats.
func (h *Handler) LimiterStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, limiterStatsResponse{
		Stats:          h.upstream.Stats(),
		CircuitBreaker: h.upstream.BreakerState().String(),
	})
}

// ResetBreaker handles POST /api/limiter/breaker/reset.
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	prev := h.upstream.BreakerState()
	h.upstream.ResetBreaker()
	h.logger.Info("internal api circuit breaker reset", "previous_state", prev.String())
	h.writeJSON(w, http.StatusOK, map[string]string{
		"previous_state":  prev.String(),
		"circuit_breaker": h.upstream.BreakerState().String(),
	})
}

// ProxyAnalytics forwards /api/v1/analytics requests to the analytics
// service.
func (h *Handler) ProxyAnalytics(w http.ResponseWriter, r *http.Request) {
	if h.analyticsProxy == nil {
		h.writeError(w, http.StatusNotFound, "analytics service not configured")
		return
	}
	h.analyticsProxy.ServeHTTP(w, r)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
