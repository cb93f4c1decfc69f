// Package limiter bounds concurrent queries to the internal API. A caller
// either takes a free slot, waits in a bounded FIFO queue, or is rejected.
package limiter

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
)

// Admission is the outcome of Acquire.
type Admission int

const (
	Admitted Admission = iota
	Queued
	Rejected
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case Queued:
		return "queued"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	MaxConcurrent int `json:"max_concurrent"`
	MaxQueued     int `json:"max_queued"`
}

// Limiter owns maxConcurrent slots and a queue of at most maxQueued waiters.
// Freed slots are handed directly to the longest waiter, so a new arrival
// never overtakes a queued caller.
type Limiter struct {
	mu            sync.Mutex
	maxConcurrent int
	maxQueued     int
	active        int
	waiters       list.List
	metrics       *metrics.Metrics
}

type Option func(*Limiter)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func New(maxConcurrent, maxQueued int, opts ...Option) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxQueued < 0 {
		maxQueued = 0
	}
	l := &Limiter{maxConcurrent: maxConcurrent, maxQueued: maxQueued}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Slot is held for the duration of one internal API query.
type Slot struct {
	l          *Limiter
	once       sync.Once
	acquiredAt time.Time
}

// Release returns the slot. Calling it more than once is a no-op.
func (s *Slot) Release() {
	s.once.Do(s.l.release)
}

// Held reports how long the slot has been held.
func (s *Slot) Held() time.Duration {
	return time.Since(s.acquiredAt)
}

// Acquire takes a slot. It returns immediately with Admitted when a slot is
// free, or with Rejected and ErrTooManyRequests when the queue is full.
// Otherwise it blocks and returns Queued once a slot is handed over. If ctx
// ends while queued the caller leaves the queue and ctx.Err() is returned
// alongside Queued.
func (l *Limiter) Acquire(ctx context.Context) (*Slot, Admission, error) {
	l.mu.Lock()
	if l.active < l.maxConcurrent && l.waiters.Len() == 0 {
		l.active++
		l.observe(Admitted)
		l.mu.Unlock()
		return l.newSlot(), Admitted, nil
	}
	if l.waiters.Len() >= l.maxQueued {
		l.observe(Rejected)
		l.mu.Unlock()
		return nil, Rejected, fmt.Errorf("%w: %d active, %d queued", apperrors.ErrTooManyRequests, l.maxConcurrent, l.maxQueued)
	}
	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.observe(Queued)
	l.mu.Unlock()

	select {
	case <-ready:
		return l.newSlot(), Queued, nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// The slot was handed over as ctx ended; pass it on.
			l.mu.Unlock()
			l.release()
		default:
			l.waiters.Remove(elem)
			l.updateGauges()
			l.mu.Unlock()
		}
		return nil, Queued, ctx.Err()
	}
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Active:        l.active,
		Queued:        l.waiters.Len(),
		MaxConcurrent: l.maxConcurrent,
		MaxQueued:     l.maxQueued,
	}
}

func (l *Limiter) newSlot() *Slot {
	return &Slot{l: l, acquiredAt: time.Now()}
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if front := l.waiters.Front(); front != nil {
		l.waiters.Remove(front)
		close(front.Value.(chan struct{}))
	} else {
		l.active--
	}
	l.updateGauges()
}

// observe must be called with mu held.
func (l *Limiter) observe(a Admission) {
	if l.metrics == nil {
		return
	}
	l.metrics.LimiterAdmissionsTotal.WithLabelValues(a.String()).Inc()
	l.updateGauges()
}

func (l *Limiter) updateGauges() {
	if l.metrics == nil {
		return
	}
	l.metrics.LimiterActiveSlots.Set(float64(l.active))
	l.metrics.LimiterQueuedRequests.Set(float64(l.waiters.Len()))
}
