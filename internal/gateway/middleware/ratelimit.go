package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/ratelimit"
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/logger"
	pkgmw "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/middleware"
)

// RequestLimiter charges a client's request window.
type RequestLimiter interface {
	AllowRequest(ctx context.Context, client string) ratelimit.Decision
}

// RateLimit enforces the per-client request window, keyed by the address
// stored by pkg/middleware.ClientIP. Rejected requests get 429 with
// Retry-After and never reach the handler.
func RateLimit(limiter RequestLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			client := pkgmw.GetClientIP(r)
			d := limiter.AllowRequest(r.Context(), client)
			if !d.Allowed {
				logger.FromContext(r.Context()).Info("request rate limited",
					"client", client,
					"count", d.Count,
					"limit", d.Limit,
				)
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(time.Now())))
				err := d.Err()
				writeError(w, http.StatusTooManyRequests, apperrors.Code(err), apperrors.PublicMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
