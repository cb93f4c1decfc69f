// Package router wires the API routes and applies the middleware chain
// (RequestID → ClientIP → Metrics → CORS).
package router

import (
	"net/http"
	"time"

	gwhandler "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/middleware"
)

// Deps are the handlers and policies the router needs.
type Deps struct {
	GraphQL        http.Handler
	Admin          *gwhandler.Handler
	Health         *health.Checker
	Requests       gwmw.RequestLimiter
	Metrics        *metrics.Metrics
	TrustProxy     bool
	AdminToken     string
	RequestTimeout time.Duration
	CORS           gwmw.CORSConfig
}

// New builds the API's HTTP handler.
//
// Route table:
//
//	GET|POST /api                     → GraphQL (request window, timeout)
//	GET      /api/cache/stats         → response cache hit/miss counts
//	POST     /api/cache/invalidate    → drop cached responses (admin token)
//	GET      /api/limiter/stats       → upstream slot pool and breaker
//	POST     /api/limiter/breaker/reset → close the breaker (admin token)
//	GET      /api/v1/analytics[/history] → analytics service (proxy)
//	GET      /health/live, /health/ready
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	var api http.Handler = d.GraphQL
	if d.RequestTimeout > 0 {
		api = pkgmw.Timeout(d.RequestTimeout)(api)
	}
	if d.Requests != nil {
		api = gwmw.RateLimit(d.Requests)(api)
	}
	mux.Handle("/api", api)

	mux.HandleFunc("GET /api/cache/stats", d.Admin.CacheStats)
	mux.Handle("POST /api/cache/invalidate", gwmw.AdminToken(d.AdminToken)(http.HandlerFunc(d.Admin.CacheInvalidate)))
	mux.HandleFunc("GET /api/limiter/stats", d.Admin.LimiterStats)
	mux.Handle("POST /api/limiter/breaker/reset", gwmw.AdminToken(d.AdminToken)(http.HandlerFunc(d.Admin.ResetBreaker)))
	mux.HandleFunc("GET /api/v1/analytics", d.Admin.ProxyAnalytics)
	mux.HandleFunc("GET /api/v1/analytics/history", d.Admin.ProxyAnalytics)

	mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())

	// Applied inside-out: request → RequestID → ClientIP → Metrics → CORS → mux
	var chain http.Handler = mux
	chain = gwmw.CORS(d.CORS)(chain)
	if d.Metrics != nil {
		chain = pkgmw.Metrics(d.Metrics)(chain)
	}
	chain = pkgmw.ClientIP(d.TrustProxy)(chain)
	chain = pkgmw.RequestID(chain)
	return chain
}
