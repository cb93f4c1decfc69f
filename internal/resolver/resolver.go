// Package resolver implements the GraphQL field resolvers. Gene symbols are
// resolved through the in-memory gene index; everything else is fetched from
// the internal API with a per-entity cache key.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/genesearch"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/graphql"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/internalapi"
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
)

// Querier is the part of the internal API client the resolvers need.
type Querier interface {
	Query(ctx context.Context, path string, opts ...internalapi.QueryOption) (any, error)
}

// GeneIndex answers gene symbol lookups.
type GeneIndex interface {
	Lookup(genome, symbol string) ([]genesearch.GeneRef, bool)
	Search(genome, query string, limit int) []genesearch.SearchResult
}

// GeneSearchRecorder receives one event per gene_search.
type GeneSearchRecorder interface {
	RecordGeneSearch(ev analytics.GeneSearchEvent)
}

type Config struct {
	DefaultSearchLimit int
	MaxSearchLimit     int
	// CacheExpiration is how long upstream entities stay cached.
	CacheExpiration time.Duration
	// MaxRegionSize bounds stop-start for region queries.
	MaxRegionSize int
}

type Resolver struct {
	api      Querier
	index    GeneIndex
	cfg      Config
	recorder GeneSearchRecorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Resolver)

func WithRecorder(r GeneSearchRecorder) Option {
	return func(res *Resolver) { res.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(res *Resolver) { res.metrics = m }
}

func New(api Querier, index GeneIndex, cfg Config, opts ...Option) *Resolver {
	if cfg.DefaultSearchLimit <= 0 {
		cfg.DefaultSearchLimit = 5
	}
	if cfg.MaxSearchLimit < cfg.DefaultSearchLimit {
		cfg.MaxSearchLimit = cfg.DefaultSearchLimit
	}
	if cfg.CacheExpiration <= 0 {
		cfg.CacheExpiration = time.Hour
	}
	if cfg.MaxRegionSize <= 0 {
		cfg.MaxRegionSize = 10_000_000
	}
	r := &Resolver{
		api:    api,
		index:  index,
		cfg:    cfg,
		logger: slog.Default().With("component", "resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewUnregistered()
	}
	return r
}

// Resolvers returns the field resolvers keyed by "Type.field".
func (r *Resolver) Resolvers() graphql.Resolvers {
	return graphql.Resolvers{
		"Query.gene":                 r.gene,
		"Query.gene_search":          r.geneSearch,
		"Query.variant":              r.variant,
		"Query.region":               r.region,
		"Query.clinvar_variant":      r.clinvarVariant,
		"Gene.clinvar_variants":      r.geneClinvarVariants,
		"Gene.structural_variants":   r.geneStructuralVariants,
		"Region.genes":               r.regionGenes,
		"Region.clinvar_variants":    r.regionClinvarVariants,
		"Region.structural_variants": r.regionStructuralVariants,
	}
}

// fetch queries path, caching the response under key.
func (r *Resolver) fetch(ctx context.Context, path, key string) (any, error) {
	return r.api.Query(ctx, path,
		internalapi.WithCacheKey(key),
		internalapi.WithCacheExpiration(r.cfg.CacheExpiration),
	)
}

// fetchList is fetch for list endpoints; a missing body is an empty list.
func (r *Resolver) fetchList(ctx context.Context, path, key string) (any, error) {
	v, err := r.fetch(ctx, path, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []any{}, nil
	}
	if _, ok := v.([]any); !ok {
		return nil, &apperrors.UpstreamError{Path: path, StatusCode: 200, Err: fmt.Errorf("expected a JSON array, got %T", v)}
	}
	return v, nil
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// intArg reads an Int argument, which arrives as a literal (int64) or a
// variable (json.Number or a Go number).
func intArg(args map[string]any, name string) (int, bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case float64:
		if t != math.Trunc(t) {
			return 0, true, apperrors.Invalidf("%s must be an integer", name)
		}
		n = int64(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, true, apperrors.Invalidf("%s must be an integer", name)
		}
		n = i
	default:
		return 0, true, apperrors.Invalidf("%s must be an integer", name)
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, true, apperrors.Invalidf("%s is out of range", name)
	}
	return int(n), true, nil
}

// parentField reads a string field from the parent object.
func parentField(p graphql.ResolveParams, name string) string {
	switch parent := p.Parent.(type) {
	case map[string]any:
		s, _ := parent[name].(string)
		return s
	case *graphql.Object:
		v, _ := parent.Get(name)
		s, _ := v.(string)
		return s
	}
	return ""
}
