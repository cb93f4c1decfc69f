// Command api starts the genomics GraphQL API.
//
// It loads the gene symbol index, connects to the rate-limiter Redis (and the
// optional response-cache Redis), and serves GraphQL at /api. Upstream
// requests go through the shared concurrency limiter and circuit breaker.
// When Kafka brokers are configured, per-query analytics events are
// published for the analytics service.
//
// Usage:
//
//	go run ./cmd/api [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/cache"
	gwhandler "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/genesearch"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/graphql"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/internalapi"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/limiter"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("genomics api failed", "error", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so that deferred cleanup always runs.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting genomics api",
		"port", cfg.Server.Port,
		"internal_api_url", cfg.InternalAPI.URL,
		"max_concurrent_internal_api_queries", cfg.Limits.MaxConcurrentInternalAPIQueries,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
	}

	checker := health.NewChecker()

	// Rate windows must be shared across instances, so their Redis is required.
	rateRedis, err := pkgredis.NewClient(cfg.RateLimiter.Redis)
	if err != nil {
		return fmt.Errorf("connecting to rate limiter redis: %w", err)
	}
	defer rateRedis.Close()
	checker.Register("rate_limiter_redis", health.PingCheck(rateRedis, true))

	var (
		responseCache cache.Cache = cache.Nop{}
		cacheAdmin    gwhandler.CacheAdmin
	)
	if cfg.Cache.Redis.URL != "" {
		cacheRedis, err := pkgredis.NewClient(cfg.Cache.Redis)
		if err != nil {
			return fmt.Errorf("connecting to cache redis: %w", err)
		}
		defer cacheRedis.Close()
		rc := cache.NewRedisCache(cacheRedis, cfg.Cache.KeyPrefix)
		responseCache, cacheAdmin = rc, rc
		checker.Register("cache_redis", health.PingCheck(cacheRedis, false))
		slog.Info("response cache enabled", "prefix", cfg.Cache.KeyPrefix)
	} else {
		slog.Warn("CACHE_REDIS_URL not set, response caching disabled")
	}

	slots := limiter.New(cfg.Limits.MaxConcurrentInternalAPIQueries, cfg.Limits.MaxQueuedInternalAPIQueries,
		limiter.WithMetrics(m))
	api := internalapi.New(internalapi.Config{
		BaseURL: cfg.InternalAPI.URL,
		Timeout: cfg.InternalAPI.Timeout,
	}, responseCache, slots, m)
	checker.Register("circuit_breaker", func(context.Context) health.ComponentHealth {
		if s := api.BreakerState(); s != resilience.StateClosed {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "internal api breaker " + s.String()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	index, err := loadGeneIndex(ctx, cfg.GeneSearch, api, m)
	if err != nil {
		return fmt.Errorf("loading gene search index: %w", err)
	}
	checker.Register("gene_index", geneIndexCheck(index, cfg.GeneSearch.ReferenceGenomes))

	windows := ratelimit.New(ratelimit.NewRedisStore(rateRedis), ratelimit.Limits{
		RequestsPerWindow: cfg.Limits.MaxRequestsPerMinute,
		CostPerWindow:     cfg.Limits.MaxQueryCostPerMinute,
	}, cfg.RateLimiter.Window, ratelimit.WithMetrics(m))

	var collector *analytics.Collector
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.QueryEvents)
		defer producer.Close()
		collector = analytics.NewCollector(producer, analytics.WithMetrics(m))
		collector.Start(ctx)
		defer collector.Close()
		checker.Register("kafka", health.PingCheck(producer, false))
		slog.Info("query analytics enabled", "topic", cfg.Kafka.Topics.QueryEvents)
	}

	resolverOpts := []resolver.Option{resolver.WithMetrics(m)}
	handlerOpts := []graphql.HandlerOption{
		graphql.WithCostLimiter(windows),
		graphql.WithMetrics(m),
	}
	if collector != nil {
		resolverOpts = append(resolverOpts, resolver.WithRecorder(collector))
		handlerOpts = append(handlerOpts, graphql.WithRecorder(collector))
	}
	if cfg.Tracing.Enabled {
		handlerOpts = append(handlerOpts, graphql.WithSlowQueryThreshold(cfg.Tracing.SlowQueryThreshold))
	}

	schema, err := graphql.LoadSchema()
	if err != nil {
		return fmt.Errorf("loading graphql schema: %w", err)
	}
	res := resolver.New(api, index, resolver.Config{
		DefaultSearchLimit: cfg.GeneSearch.DefaultLimit,
		MaxSearchLimit:     cfg.GeneSearch.MaxLimit,
	}, resolverOpts...)
	gql := graphql.NewHandler(schema, res.Resolvers(), cfg.Limits.MaxQueryCost, handlerOpts...)

	admin, err := gwhandler.New(cacheAdmin, api, cfg.Analytics.ServiceURL)
	if err != nil {
		return fmt.Errorf("invalid analytics service url: %w", err)
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.New(router.Deps{
			GraphQL:        gql,
			Admin:          admin,
			Health:         checker,
			Requests:       windows,
			Metrics:        m,
			TrustProxy:     cfg.Server.TrustProxy,
			AdminToken:     cfg.Server.AdminToken,
			RequestTimeout: cfg.Server.RequestTimeout(),
			CORS:           gwmw.DefaultCORSConfig(),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("genomics api listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}

	slog.Info("genomics api stopped")
	return nil
}

// geneIndexCheck reports degraded when a configured genome has no symbols.
func geneIndexCheck(index *genesearch.Index, genomes []string) health.Check {
	return func(context.Context) health.ComponentHealth {
		for _, g := range genomes {
			if index.Size(g) == 0 {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: "no symbols for " + g}
			}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: "loaded " + strings.Join(index.Genomes(), ", ")}
	}
}

// loadGeneIndex builds the symbol index from local term files when a
// directory is configured, otherwise from the internal API with retries.
func loadGeneIndex(ctx context.Context, cfg config.GeneSearchConfig, api *internalapi.Client, m *metrics.Metrics) (*genesearch.Index, error) {
	var source genesearch.TermSource
	if cfg.TermsDir != "" {
		source = genesearch.NewFileSource(cfg.TermsDir)
	} else {
		source = genesearch.NewAPISource(api)
	}
	loader := genesearch.NewLoader(source, cfg.LoadTimeout).WithRetry(resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	})
	index, err := loader.Load(ctx, cfg.ReferenceGenomes)
	if err != nil {
		return nil, err
	}
	for _, g := range cfg.ReferenceGenomes {
		m.GeneIndexSymbols.WithLabelValues(g).Set(float64(index.Size(g)))
	}
	return index, nil
}
