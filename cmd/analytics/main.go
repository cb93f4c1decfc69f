// Command analytics starts the standalone query analytics service.
//
// It consumes query and gene-search events from Kafka, aggregates them in
// memory (totals, latency and cost percentiles, top root fields, error codes,
// gene searches), and serves GET /api/v1/analytics. When PostgreSQL is
// configured, snapshots are saved periodically and served from
// GET /api/v1/analytics/history.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/analytics/store"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("ANALYTICS_KAFKA_BROKERS is required")
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	aggregator := analytics.NewAggregator(m)
	checker := health.NewChecker()

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.QueryEvents, aggregator.Handle)
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.QueryEvents)

	var snapshots analytics.SnapshotLister
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		st := store.New(db)
		if err := st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("creating analytics schema: %w", err)
		}
		st.StartPeriodicSave(ctx, aggregator, cfg.Analytics.SnapshotInterval, cfg.Analytics.SnapshotRetention)
		snapshots = st
		checker.Register("postgres", health.PingCheck(db, false))
	} else {
		slog.Warn("ANALYTICS_POSTGRES_HOST not set, snapshots disabled")
	}

	h := analytics.NewHandler(aggregator, snapshots)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", h.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port+1, prometheus.DefaultGatherer)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      middleware.RequestID(mux),
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
			shutdownMetrics(shutdownCtx)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}

	slog.Info("analytics service stopped")
	return nil
}
