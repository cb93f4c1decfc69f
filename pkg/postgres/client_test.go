package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/config"
)

var unreachable = config.PostgresConfig{
	Host:     "127.0.0.1",
	Port:     1,
	Database: "genomics_api",
	User:     "genomics_api",
	SSLMode:  "disable",
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	start := time.Now()
	if _, err := New(context.Background(), unreachable); err == nil {
		t.Fatal("expected error connecting to a closed port")
	}
	if took := time.Since(start); took > connectTimeout+time.Second {
		t.Errorf("expected New to give up within its ping timeout, took %v", took)
	}
}

func TestNewHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(ctx, unreachable)
	if err == nil {
		t.Fatal("expected error with a cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Logf("ping failed before observing cancellation: %v", err)
	}
}
