package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/ratelimit"
	pkgmw "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/redis"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAdminToken(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		value      string
		wantStatus int
	}{
		{"disabled", "", "Authorization", "Bearer anything", http.StatusForbidden},
		{"missing", "tok", "", "", http.StatusUnauthorized},
		{"wrong bearer", "tok", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme ignored", "tok", "Authorization", "Basic tok", http.StatusUnauthorized},
		{"bearer", "tok", "Authorization", "Bearer tok", http.StatusOK},
		{"header", "tok", "X-Admin-Token", "tok", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			AdminToken(tt.configured)(okHandler).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://allowed.example.org"}
	h := CORS(cfg)(okHandler)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api", nil)
		req.Header.Set("Origin", "https://allowed.example.org")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
			t.Errorf("unexpected allow-methods %q", got)
		}
		if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
			t.Errorf("unexpected max-age %q", got)
		}
	})

	t.Run("simple request exposes headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api", nil)
		req.Header.Set("Origin", "https://allowed.example.org")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID, Retry-After" {
			t.Errorf("unexpected expose-headers %q", got)
		}
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api", nil)
		req.Header.Set("Origin", "https://evil.example.org")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS headers for a disallowed origin")
		}
	})
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := ratelimit.NewRedisStore(pkgredis.Wrap(rdb))
	now := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	limiter := ratelimit.New(store, ratelimit.Limits{RequestsPerWindow: 2}, time.Minute,
		ratelimit.WithClock(func() time.Time { return now }))
	h := pkgmw.ClientIP(false)(RateLimit(limiter)(okHandler))

	send := func(method, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send(http.MethodPost, "203.0.113.5:1000"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := send(http.MethodPost, "203.0.113.5:1001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	if rec := send(http.MethodOptions, "203.0.113.5:1002"); rec.Code != http.StatusOK {
		t.Errorf("expected preflight to bypass the window, got %d", rec.Code)
	}
	if rec := send(http.MethodPost, "203.0.113.6:1000"); rec.Code != http.StatusOK {
		t.Errorf("expected another client to be allowed, got %d", rec.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) AllowRequest(context.Context, string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: false, Window: ratelimit.WindowRequests, Limit: 1}
}

func TestRateLimitRejectionBody(t *testing.T) {
	rec := httptest.NewRecorder()
	RateLimit(failingLimiter{})(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected minimum Retry-After of 1, got %q", rec.Header().Get("Retry-After"))
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
}
