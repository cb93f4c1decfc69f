package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
)

// Publisher is the part of the Kafka producer the Collector needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers events in memory and publishes them in batches, either
// when a batch fills or when the flush interval elapses. Recording never
// blocks the request path: when the buffer is full the event is dropped.
//
// A nil *Collector is valid and records nothing.
type Collector struct {
	publisher     Publisher
	batchSize     int
	maxBuffered   int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []kafka.Event

	flushCh chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	now     func() time.Time
}

type Option func(*Collector)

func WithBatchSize(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithMaxBuffered bounds the number of events held between flushes.
func WithMaxBuffered(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxBuffered = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

func NewCollector(publisher Publisher, opts ...Option) *Collector {
	c := &Collector{
		publisher:     publisher,
		batchSize:     100,
		flushInterval: 5 * time.Second,
		logger:        slog.Default().With("component", "analytics-collector"),
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBuffered < c.batchSize {
		c.maxBuffered = c.batchSize * 10
	}
	if c.metrics == nil {
		c.metrics = metrics.NewUnregistered()
	}
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	return c
}

// Start launches the flush loop. It runs until Close is called or ctx is
// cancelled, then publishes whatever is still buffered.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-c.flushCh:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
		"max_buffered", c.maxBuffered,
	)
}

// Close stops the flush loop and waits for the final flush.
func (c *Collector) Close() {
	if c == nil || c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Collector) RecordQuery(ev QueryEvent) {
	if c == nil {
		return
	}
	ev.Type = EventQuery
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now().UTC()
	}
	c.track(ev.OperationName, ev)
}

func (c *Collector) RecordGeneSearch(ev GeneSearchEvent) {
	if c == nil {
		return
	}
	ev.Type = EventGeneSearch
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now().UTC()
	}
	c.track(ev.ReferenceGenome, ev)
}

// Buffered returns the number of events waiting to be published.
func (c *Collector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) track(key string, value any) {
	c.mu.Lock()
	if len(c.buffer) >= c.maxBuffered {
		c.mu.Unlock()
		c.metrics.AnalyticsEventsTotal.WithLabelValues("dropped").Inc()
		c.logger.Warn("analytics event dropped (buffer full)")
		return
	}
	c.buffer = append(c.buffer, kafka.Event{Key: key, Value: value})
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if full {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.metrics.AnalyticsEventsTotal.WithLabelValues("failed").Add(float64(len(batch)))
		c.logger.Error("analytics batch flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if len(c.buffer) > c.maxBuffered {
			dropped := len(c.buffer) - c.maxBuffered
			c.buffer = c.buffer[:c.maxBuffered]
			c.metrics.AnalyticsEventsTotal.WithLabelValues("dropped").Add(float64(dropped))
			c.logger.Warn("analytics buffer overflow, events dropped", "dropped", dropped)
		}
		c.mu.Unlock()
		return
	}
	c.metrics.AnalyticsEventsTotal.WithLabelValues("published").Add(float64(len(batch)))
	c.logger.Debug("analytics batch flushed", "events", len(batch))
}
