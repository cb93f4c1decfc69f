package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
)

const (
	maxSamples = 10000
	// maxSearchTerms bounds the distinct gene-search terms tracked per table.
	maxSearchTerms = 10000
)

type AggregatedStats struct {
	TotalQueries           int64     `json:"total_queries"`
	FailedQueries          int64     `json:"failed_queries"`
	TotalGeneSearches      int64     `json:"total_gene_searches"`
	ZeroResultSearches     int64     `json:"zero_result_searches"`
	AvgLatencyMs           float64   `json:"avg_latency_ms"`
	P50LatencyMs           int64     `json:"p50_latency_ms"`
	P95LatencyMs           int64     `json:"p95_latency_ms"`
	P99LatencyMs           int64     `json:"p99_latency_ms"`
	AvgCost                float64   `json:"avg_cost"`
	P95Cost                int64     `json:"p95_cost"`
	MaxCost                int64     `json:"max_cost"`
	TopRootFields          []Count   `json:"top_root_fields"`
	TopErrorCodes          []Count   `json:"top_error_codes"`
	TopGeneSearches        []Count   `json:"top_gene_searches"`
	ZeroResultGeneSearches []Count   `json:"zero_result_gene_searches"`
	QueriesPerMinute       float64   `json:"queries_per_minute"`
	CapturedAt             time.Time `json:"captured_at"`
}

type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Aggregator folds consumed events into running totals.
type Aggregator struct {
	mu              sync.RWMutex
	totalQueries    int64
	failedQueries   int64
	geneSearches    int64
	zeroResults     int64
	latencies       []int64
	costs           []int64
	rootFields      map[string]int64
	errorCodes      map[string]int64
	searchCounts    map[string]int64
	zeroResultTerms map[string]int64
	maxTerms        int
	startTime       time.Time

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewAggregator(m *metrics.Metrics) *Aggregator {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Aggregator{
		latencies:       make([]int64, 0, 1024),
		costs:           make([]int64, 0, 1024),
		rootFields:      make(map[string]int64),
		errorCodes:      make(map[string]int64),
		searchCounts:    make(map[string]int64),
		zeroResultTerms: make(map[string]int64),
		maxTerms:        maxSearchTerms,
		startTime:       time.Now(),
		now:             time.Now,
		metrics:         m,
		logger:          slog.Default().With("component", "analytics-aggregator"),
	}
}

// Handle is a kafka.MessageHandler. Undecodable or unknown events are logged
// and skipped so they are still committed.
func (a *Aggregator) Handle(_ context.Context, _ []byte, value []byte) error {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		a.skip(err)
		return nil
	}
	switch envelope.Type {
	case EventQuery:
		ev, err := kafka.DecodeJSON[QueryEvent](value)
		if err != nil {
			a.skip(err)
			return nil
		}
		a.RecordQuery(ev)
	case EventGeneSearch:
		ev, err := kafka.DecodeJSON[GeneSearchEvent](value)
		if err != nil {
			a.skip(err)
			return nil
		}
		a.RecordGeneSearch(ev)
	default:
		a.skip(fmt.Errorf("unknown event type %q", envelope.Type))
		return nil
	}
	a.metrics.AnalyticsEventsTotal.WithLabelValues("consumed").Inc()
	return nil
}

func (a *Aggregator) skip(err error) {
	a.metrics.AnalyticsEventsTotal.WithLabelValues("skipped").Inc()
	a.logger.Error("failed to decode analytics event", "error", err)
}

func (a *Aggregator) RecordQuery(ev QueryEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalQueries++
	if ev.Status >= 400 || len(ev.ErrorCodes) > 0 {
		a.failedQueries++
	}
	a.latencies = appendSample(a.latencies, ev.LatencyMs)
	a.costs = appendSample(a.costs, int64(ev.Cost))
	for _, f := range ev.RootFields {
		a.rootFields[f]++
	}
	for _, code := range ev.ErrorCodes {
		a.errorCodes[code]++
	}
}

func (a *Aggregator) RecordGeneSearch(ev GeneSearchEvent) {
	term := strings.ToUpper(strings.TrimSpace(ev.Query))
	a.mu.Lock()
	defer a.mu.Unlock()
	a.geneSearches++
	countTerm(a.searchCounts, term, a.maxTerms)
	if ev.Returned == 0 {
		a.zeroResults++
		countTerm(a.zeroResultTerms, term, a.maxTerms)
	}
}

// countTerm increments counts[term]. A new term arriving at the limit first
// drops all but the most frequent half.
func countTerm(counts map[string]int64, term string, limit int) {
	if _, ok := counts[term]; !ok && len(counts) >= limit {
		keep := make(map[string]struct{}, limit/2)
		for _, c := range topN(counts, limit/2) {
			keep[c.Key] = struct{}{}
		}
		for k := range counts {
			if _, ok := keep[k]; !ok {
				delete(counts, k)
			}
		}
	}
	counts[term]++
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	stats := AggregatedStats{
		TotalQueries:           a.totalQueries,
		FailedQueries:          a.failedQueries,
		TotalGeneSearches:      a.geneSearches,
		ZeroResultSearches:     a.zeroResults,
		TopRootFields:          topN(a.rootFields, 10),
		TopErrorCodes:          topN(a.errorCodes, 10),
		TopGeneSearches:        topN(a.searchCounts, 10),
		ZeroResultGeneSearches: topN(a.zeroResultTerms, 10),
		CapturedAt:             now.UTC(),
	}
	if len(a.latencies) > 0 {
		sorted := sortedCopy(a.latencies)
		stats.AvgLatencyMs = mean(sorted)
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if len(a.costs) > 0 {
		sorted := sortedCopy(a.costs)
		stats.AvgCost = mean(sorted)
		stats.P95Cost = percentile(sorted, 95)
		stats.MaxCost = sorted[len(sorted)-1]
	}
	if elapsed := now.Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
	}
	return stats
}

// appendSample keeps at most maxSamples values, discarding the oldest half
// once full.
func appendSample(samples []int64, v int64) []int64 {
	if len(samples) >= maxSamples {
		samples = append(samples[:0], samples[maxSamples/2:]...)
	}
	return append(samples, v)
}

func sortedCopy(values []int64) []int64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

func mean(values []int64) float64 {
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count descending, then key ascending.
func topN(counts map[string]int64, n int) []Count {
	result := make([]Count, 0, len(counts))
	for key, count := range counts {
		result = append(result, Count{Key: key, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Key < result[j].Key
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
