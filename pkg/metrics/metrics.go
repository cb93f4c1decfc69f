// Package metrics defines the Prometheus collectors used by the API and the
// analytics service, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the API.
type Metrics struct {
	HTTPRequestsTotal        *prometheus.CounterVec
	HTTPRequestDuration      *prometheus.HistogramVec
	HTTPRequestsInFlight     prometheus.Gauge
	GraphQLRequestsTotal     *prometheus.CounterVec
	GraphQLQueryCost         prometheus.Histogram
	UpstreamRequestsTotal    *prometheus.CounterVec
	UpstreamLatency          prometheus.Histogram
	CacheHitsTotal           prometheus.Counter
	CacheMissesTotal         prometheus.Counter
	CacheWriteErrorsTotal    prometheus.Counter
	LimiterActiveSlots       prometheus.Gauge
	LimiterQueuedRequests    prometheus.Gauge
	LimiterAdmissionsTotal   *prometheus.CounterVec
	RateLimitRejectionsTotal *prometheus.CounterVec
	GeneSearchQueriesTotal   *prometheus.CounterVec
	GeneIndexSymbols         *prometheus.GaugeVec
	CircuitBreakerState      *prometheus.GaugeVec
	AnalyticsEventsTotal     *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. Tests pass a fresh
// prometheus.NewRegistry so that repeated construction does not panic.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		GraphQLRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphql_requests_total",
				Help: "GraphQL requests by result (ok, partial, invalid, too_expensive, rate_limited).",
			},
			[]string{"result"},
		),
		GraphQLQueryCost: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "graphql_query_cost",
				Help:    "Static cost of accepted GraphQL queries.",
				Buckets: []float64{1, 2, 5, 10, 15, 20, 25, 50, 100},
			},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "internal_api_requests_total",
				Help: "Requests to the internal API by outcome (ok, not_found, error, unavailable, rejected).",
			},
			[]string{"outcome"},
		),
		UpstreamLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "internal_api_latency_seconds",
				Help:    "Internal API request latency in seconds, excluding queue time.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of response cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of response cache misses.",
			},
		),
		CacheWriteErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_write_errors_total",
				Help: "Response cache writes that failed and were dropped.",
			},
		),
		LimiterActiveSlots: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "internal_api_active_slots",
				Help: "Internal API queries currently holding a slot.",
			},
		),
		LimiterQueuedRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "internal_api_queued_requests",
				Help: "Internal API queries waiting for a slot.",
			},
		),
		LimiterAdmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "internal_api_admissions_total",
				Help: "Slot admission decisions (admitted, queued, rejected).",
			},
			[]string{"admission"},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_rejections_total",
				Help: "Requests rejected by a per-client window (requests, cost).",
			},
			[]string{"window"},
		),
		GeneSearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gene_search_queries_total",
				Help: "Gene symbol searches by result type (hit, zero_result).",
			},
			[]string{"result_type"},
		),
		GeneIndexSymbols: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gene_index_symbols",
				Help: "Distinct symbols in the gene search index.",
			},
			[]string{"reference_genome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		AnalyticsEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_events_total",
				Help: "Analytics events by status (published, dropped, failed, consumed, skipped).",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.GraphQLRequestsTotal,
		m.GraphQLQueryCost,
		m.UpstreamRequestsTotal,
		m.UpstreamLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheWriteErrorsTotal,
		m.LimiterActiveSlots,
		m.LimiterQueuedRequests,
		m.LimiterAdmissionsTotal,
		m.RateLimitRejectionsTotal,
		m.GeneSearchQueriesTotal,
		m.GeneIndexSymbols,
		m.CircuitBreakerState,
		m.AnalyticsEventsTotal,
	)

	return m
}

// NewUnregistered returns collectors bound to a private registry. It is used
// by tests and by components constructed without metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the scrape handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
