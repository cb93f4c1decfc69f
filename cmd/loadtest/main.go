// Command loadtest drives the GraphQL endpoint with a fixed mix of gene,
// variant and region queries and reports latency, status codes and GraphQL
// error codes. With -clients > 1 each worker sends a distinct
// X-Forwarded-For so per-client rate windows can be exercised against an API
// started with TRUST_PROXY=true.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var queryMix = []string{
	`{ gene(gene_symbol: "BRCA2", reference_genome: GRCh38) { gene_id symbol chrom start stop } }`,
	`{ gene(gene_id: "ENSG00000141510", reference_genome: GRCh38) { symbol clinvar_variants { variant_id } } }`,
	`{ gene_search(query: "BRC", reference_genome: GRCh38) { ensembl_id symbol } }`,
	`{ variant(variantId: "13-32315474-G-T", dataset: gnomad_r4) { variant_id } }`,
	`{ region(chrom: "17", start: 43044295, stop: 43125483, reference_genome: GRCh38) { genes { gene_id symbol } } }`,
	`{ clinvar_variant(variant_id: "17-43045712-T-C", reference_genome: GRCh38) { variant_id } }`,
}

type Config struct {
	URL         string
	Concurrency int
	Clients     int
	Duration    time.Duration
}

type Stats struct {
	total     atomic.Int64
	transport atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
	errorCodes  map[string]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
		errorCodes:  make(map[string]int64),
	}
}

func (s *Stats) Record(d time.Duration, status int, codes []string) {
	s.total.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[status]++
	for _, c := range codes {
		s.errorCodes[c]++
	}
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.URL, "url", "http://localhost:8000/api", "GraphQL endpoint")
	flag.IntVar(&cfg.Concurrency, "concurrency", 10, "number of concurrent workers")
	flag.IntVar(&cfg.Clients, "clients", 1, "distinct client addresses to spread workers over")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.Parse()

	fmt.Println("=== Genomics API Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.URL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Clients:     %d\n", cfg.Clients)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Println()

	stats := run(cfg)
	report(stats, cfg.Duration)
}

func run(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			forwardedFor := ""
			if cfg.Clients > 1 {
				forwardedFor = fmt.Sprintf("10.0.%d.%d", (worker%cfg.Clients)/250, (worker%cfg.Clients)%250+1)
			}
			for i := worker; ctx.Err() == nil; i++ {
				start := time.Now()
				status, codes, err := send(ctx, client, cfg.URL, queryMix[i%len(queryMix)], forwardedFor)
				if err != nil {
					if ctx.Err() == nil {
						stats.transport.Add(1)
					}
					continue
				}
				stats.Record(time.Since(start), status, codes)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func send(ctx context.Context, client *http.Client, url, query, forwardedFor string) (int, []string, error) {
	body, _ := json.Marshal(map[string]string{"query": query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Errors []struct {
			Extensions struct {
				Code string `json:"code"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	var codes []string
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil {
		for _, e := range out.Errors {
			if e.Extensions.Code != "" {
				codes = append(codes, e.Extensions.Code)
			}
		}
	}
	return resp.StatusCode, codes, nil
}

func report(stats *Stats, duration time.Duration) {
	total := stats.total.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Responses:        %d\n", total)
	fmt.Printf("Transport errors: %d\n", stats.transport.Load())
	if total > 0 {
		fmt.Printf("Requests/sec:     %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	if n := len(stats.latencies); n > 0 {
		lat := stats.latencies
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		var sum time.Duration
		for _, l := range lat {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:  %s\n", lat[0])
		fmt.Printf("Avg:  %s\n", sum/time.Duration(n))
		fmt.Printf("P50:  %s\n", percentile(lat, 50))
		fmt.Printf("P95:  %s\n", percentile(lat, 95))
		fmt.Printf("P99:  %s\n", percentile(lat, 99))
		fmt.Printf("Max:  %s\n", lat[n-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(stats.statusCodes))
	for c := range stats.statusCodes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Printf("  %d: %d\n", c, stats.statusCodes[c])
	}

	if len(stats.errorCodes) > 0 {
		fmt.Println()
		fmt.Println("=== GraphQL Error Codes ===")
		names := make([]string, 0, len(stats.errorCodes))
		for c := range stats.errorCodes {
			names = append(names, c)
		}
		sort.Strings(names)
		for _, c := range names {
			fmt.Printf("  %s: %d\n", c, stats.errorCodes[c])
		}
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the API running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
