// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, InternalAPI, Cache, RateLimiter, Limits, GeneSearch,
// Analytics, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	InternalAPI InternalAPIConfig `yaml:"internalApi"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimiter RateLimiterConfig `yaml:"rateLimiter"`
	Limits      LimitsConfig      `yaml:"limits"`
	GeneSearch  GeneSearchConfig  `yaml:"geneSearch"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	TrustProxy      bool          `yaml:"trustProxy"`
	AdminToken      string        `yaml:"adminToken"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// requestTimeoutMargin leaves room to write the timeout response before the
// server's write deadline.
const requestTimeoutMargin = time.Second

// RequestTimeout bounds GraphQL request handling.
func (s ServerConfig) RequestTimeout() time.Duration {
	return s.WriteTimeout - requestTimeoutMargin
}

// InternalAPIConfig points at the upstream REST service that stores the
// genomic data.
type InternalAPIConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig holds connection parameters for one Redis deployment. An
// empty URL means "not configured".
type RedisConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"poolSize"`
}

// CacheConfig controls the upstream response cache.
type CacheConfig struct {
	Redis     RedisConfig `yaml:"redis"`
	KeyPrefix string      `yaml:"keyPrefix"`
}

// RateLimiterConfig controls where per-client rate windows are stored.
type RateLimiterConfig struct {
	Redis  RedisConfig   `yaml:"redis"`
	Window time.Duration `yaml:"window"`
}

// LimitsConfig holds the admission-control thresholds.
type LimitsConfig struct {
	MaxConcurrentInternalAPIQueries int `yaml:"maxConcurrentInternalApiQueries"`
	MaxQueuedInternalAPIQueries     int `yaml:"maxQueuedInternalApiQueries"`
	MaxQueryCost                    int `yaml:"maxQueryCost"`
	MaxQueryCostPerMinute           int `yaml:"maxQueryCostPerMinute"`
	MaxRequestsPerMinute            int `yaml:"maxRequestsPerMinute"`
}

// GeneSearchConfig controls how the gene symbol index is built at startup.
// When TermsDir is empty the terms are fetched from the internal API.
type GeneSearchConfig struct {
	TermsDir         string        `yaml:"termsDir"`
	ReferenceGenomes []string      `yaml:"referenceGenomes"`
	LoadTimeout      time.Duration `yaml:"loadTimeout"`
	DefaultLimit     int           `yaml:"defaultLimit"`
	MaxLimit         int           `yaml:"maxLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters for the analytics
// snapshot store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for query analytics.
// No brokers means analytics publishing is disabled.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	QueryEvents string `yaml:"queryEvents"`
}

// AnalyticsConfig controls the analytics service and how the API reaches it.
type AnalyticsConfig struct {
	ServiceURL        string        `yaml:"serviceUrl"`
	Port              int           `yaml:"port"`
	SnapshotInterval  time.Duration `yaml:"snapshotInterval"`
	SnapshotRetention time.Duration `yaml:"snapshotRetention"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls the slow-query span log.
type TracingConfig struct {
	Enabled            bool          `yaml:"enabled"`
	SlowQueryThreshold time.Duration `yaml:"slowQueryThreshold"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values. Load does not check required values; call Validate for that.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or out-of-range setting the API cannot
// start without.
func (c *Config) Validate() error {
	var errs []error
	if c.InternalAPI.URL == "" {
		errs = append(errs, errors.New("INTERNAL_API_URL is required"))
	}
	if c.RateLimiter.Redis.URL == "" {
		errs = append(errs, errors.New("RATE_LIMITER_REDIS_URL is required"))
	}
	if c.Limits.MaxConcurrentInternalAPIQueries < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_INTERNAL_API_QUERIES must be at least 1"))
	}
	if c.Limits.MaxQueuedInternalAPIQueries < 0 {
		errs = append(errs, errors.New("MAX_QUEUED_INTERNAL_API_QUERIES must not be negative"))
	}
	if c.Server.WriteTimeout <= requestTimeoutMargin {
		errs = append(errs, fmt.Errorf("server writeTimeout must be greater than %v", requestTimeoutMargin))
	}
	if c.Limits.MaxQueryCost < 1 {
		errs = append(errs, errors.New("MAX_QUERY_COST must be at least 1"))
	}
	return errors.Join(errs...)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		InternalAPI: InternalAPIConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Redis:     RedisConfig{PoolSize: 10},
			KeyPrefix: "api:",
		},
		RateLimiter: RateLimiterConfig{
			Redis:  RedisConfig{PoolSize: 10},
			Window: time.Minute,
		},
		Limits: LimitsConfig{
			MaxConcurrentInternalAPIQueries: 32,
			MaxQueuedInternalAPIQueries:     100,
			MaxQueryCost:                    25,
			MaxQueryCostPerMinute:           100,
			MaxRequestsPerMinute:            30,
		},
		GeneSearch: GeneSearchConfig{
			ReferenceGenomes: []string{"GRCh37", "GRCh38"},
			LoadTimeout:      2 * time.Minute,
			DefaultLimit:     5,
			MaxLimit:         25,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "genomics_api",
			User:            "genomics_api",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "genomics-api-analytics",
			Topics: KafkaTopics{
				QueryEvents: "api-query-events",
			},
		},
		Analytics: AnalyticsConfig{
			Port:              8090,
			SnapshotInterval:  time.Minute,
			SnapshotRetention: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:            true,
			SlowQueryThreshold: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads the deployment environment variables and overrides
// the corresponding config fields. Malformed numeric values are reported
// rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setInt("PORT", &cfg.Server.Port)
	if v := os.Getenv("TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TRUST_PROXY: %w", err))
		} else {
			cfg.Server.TrustProxy = b
		}
	}

	setString("ADMIN_TOKEN", &cfg.Server.AdminToken)

	setString("INTERNAL_API_URL", &cfg.InternalAPI.URL)
	cfg.InternalAPI.URL = strings.TrimRight(cfg.InternalAPI.URL, "/")
	setDuration("INTERNAL_API_TIMEOUT", &cfg.InternalAPI.Timeout)

	setString("CACHE_REDIS_URL", &cfg.Cache.Redis.URL)
	setString("RATE_LIMITER_REDIS_URL", &cfg.RateLimiter.Redis.URL)

	setInt("MAX_CONCURRENT_INTERNAL_API_QUERIES", &cfg.Limits.MaxConcurrentInternalAPIQueries)
	setInt("MAX_QUEUED_INTERNAL_API_QUERIES", &cfg.Limits.MaxQueuedInternalAPIQueries)
	setInt("MAX_QUERY_COST", &cfg.Limits.MaxQueryCost)
	setInt("MAX_QUERY_COST_PER_MINUTE", &cfg.Limits.MaxQueryCostPerMinute)
	setInt("MAX_REQUESTS_PER_MINUTE", &cfg.Limits.MaxRequestsPerMinute)

	setString("GENE_SEARCH_TERMS_DIR", &cfg.GeneSearch.TermsDir)

	setString("ANALYTICS_POSTGRES_HOST", &cfg.Postgres.Host)
	setString("ANALYTICS_POSTGRES_USER", &cfg.Postgres.User)
	setString("ANALYTICS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("ANALYTICS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	if v := os.Getenv("ANALYTICS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	setString("ANALYTICS_SERVICE_URL", &cfg.Analytics.ServiceURL)
	setInt("ANALYTICS_PORT", &cfg.Analytics.Port)
	setDuration("ANALYTICS_SNAPSHOT_INTERVAL", &cfg.Analytics.SnapshotInterval)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setInt("METRICS_PORT", &cfg.Metrics.Port)
	setDuration("SLOW_QUERY_THRESHOLD", &cfg.Tracing.SlowQueryThreshold)

	return errors.Join(errs...)
}
