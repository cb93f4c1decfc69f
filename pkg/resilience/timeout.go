package resilience

import (
	"context"
	"fmt"
	"time"
)

type result[T any] struct {
	val T
	err error
}

// WithTimeout calls fn with a context cancelled after timeout and returns its
// value. If fn has not returned by then, the zero value and an error
// wrapping context.DeadlineExceeded are returned and fn's eventual result is
// discarded. A timeout of zero or less calls fn directly.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(timeoutCtx)
		done <- result[T]{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: cancelled: %w", name, ctx.Err())
		}
		return zero, fmt.Errorf("%s: %w after %v", name, context.DeadlineExceeded, timeout)
	}
}
