package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.Server.Port)
	}
	l := cfg.Limits
	if l.MaxConcurrentInternalAPIQueries != 32 || l.MaxQueuedInternalAPIQueries != 100 {
		t.Errorf("unexpected concurrency defaults: %+v", l)
	}
	if l.MaxQueryCost != 25 || l.MaxQueryCostPerMinute != 100 || l.MaxRequestsPerMinute != 30 {
		t.Errorf("unexpected cost defaults: %+v", l)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INTERNAL_API_URL", "http://internal:9000/")
	t.Setenv("RATE_LIMITER_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("MAX_CONCURRENT_INTERNAL_API_QUERIES", "4")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("INTERNAL_API_TIMEOUT", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InternalAPI.URL != "http://internal:9000" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.InternalAPI.URL)
	}
	if cfg.Limits.MaxConcurrentInternalAPIQueries != 4 {
		t.Errorf("expected 4, got %d", cfg.Limits.MaxConcurrentInternalAPIQueries)
	}
	if !cfg.Server.TrustProxy {
		t.Error("expected TrustProxy to be true")
	}
	if cfg.InternalAPI.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.InternalAPI.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestMalformedEnvIsAnError(t *testing.T) {
	t.Setenv("MAX_QUERY_COST", "lots")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric MAX_QUERY_COST")
	}
}

func TestValidateRequiresUpstreamAndRateLimiter(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, name := range []string{"INTERNAL_API_URL", "RATE_LIMITER_REDIS_URL"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("expected error to mention %s, got %q", name, err)
		}
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
internalApi:
  url: http://from-file:8010
limits:
  maxQueryCost: 40
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAX_QUERY_COST", "50")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InternalAPI.URL != "http://from-file:8010" {
		t.Errorf("expected url from file, got %q", cfg.InternalAPI.URL)
	}
	if cfg.Limits.MaxQueryCost != 50 {
		t.Errorf("expected env to win, got %d", cfg.Limits.MaxQueryCost)
	}
	if cfg.Limits.MaxRequestsPerMinute != 30 {
		t.Errorf("expected default to survive partial yaml, got %d", cfg.Limits.MaxRequestsPerMinute)
	}
}

func TestValidateRejectsShortWriteTimeout(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.InternalAPI.URL = "http://internal-api:8010"
	cfg.RateLimiter.Redis.URL = "redis://localhost:6379/0"
	if got := cfg.Server.RequestTimeout(); got != 59*time.Second {
		t.Errorf("expected default request timeout 59s, got %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	for _, d := range []time.Duration{0, time.Second} {
		cfg.Server.WriteTimeout = d
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "writeTimeout") {
			t.Errorf("writeTimeout %v: expected validation error, got %v", d, err)
		}
	}
}
