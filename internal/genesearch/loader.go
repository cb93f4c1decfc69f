package genesearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/internalapi"
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/resilience"
)

// TermSource supplies the gene search terms for one reference genome.
type TermSource interface {
	FetchTerms(ctx context.Context, genome string) ([]SearchTerm, error)
}

// Querier is the part of the internal API client the APISource needs.
type Querier interface {
	QueryInto(ctx context.Context, path string, dst any, opts ...internalapi.QueryOption) (bool, error)
}

// APISource fetches terms from GET /{genome}/gene_search_terms/.
type APISource struct {
	client Querier
}

func NewAPISource(client Querier) *APISource {
	return &APISource{client: client}
}

func (s *APISource) FetchTerms(ctx context.Context, genome string) ([]SearchTerm, error) {
	var terms []SearchTerm
	found, err := s.client.QueryInto(ctx, fmt.Sprintf("/%s/gene_search_terms/", genome), &terms)
	if err != nil {
		err = fmt.Errorf("fetching gene search terms for %s: %w", genome, err)
		// A 4xx or an undecodable body will not change on retry.
		var ue *apperrors.UpstreamError
		if errors.As(err, &ue) && ue.StatusCode < 500 {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	if !found {
		return nil, resilience.Permanent(fmt.Errorf("no gene search terms for %s", genome))
	}
	return terms, nil
}

// FileSource reads terms from <dir>/<genome>.json.
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) FetchTerms(_ context.Context, genome string) ([]SearchTerm, error) {
	path := filepath.Join(s.dir, genome+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("reading gene search terms %s: %w", path, err))
	}
	var terms []SearchTerm
	if err := json.Unmarshal(data, &terms); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("parsing gene search terms %s: %w", path, err))
	}
	return terms, nil
}

// Loader builds the Index at startup.
type Loader struct {
	source  TermSource
	timeout time.Duration
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

func NewLoader(source TermSource, timeout time.Duration) *Loader {
	return &Loader{
		source:  source,
		timeout: timeout,
		logger:  slog.Default().With("component", "gene-search-loader"),
	}
}

// WithRetry overrides the retry policy used per genome.
func (l *Loader) WithRetry(cfg resilience.RetryConfig) *Loader {
	l.retry = cfg
	return l
}

// Load fetches terms for every genome and builds the Index. Any genome that
// cannot be loaded after retries fails the whole load.
func (l *Loader) Load(ctx context.Context, genomes []string) (*Index, error) {
	terms := make(map[string][]SearchTerm, len(genomes))
	for _, genome := range genomes {
		start := time.Now()
		var fetched []SearchTerm
		err := resilience.Retry(ctx, "load gene search terms "+genome, l.retry, func() error {
			t, err := resilience.WithTimeout(ctx, l.timeout, "fetch "+genome, func(ctx context.Context) ([]SearchTerm, error) {
				return l.source.FetchTerms(ctx, genome)
			})
			if err != nil {
				return err
			}
			fetched = t
			return nil
		})
		if err != nil {
			return nil, err
		}
		terms[genome] = fetched
		l.logger.Info("gene search terms loaded",
			"reference_genome", genome,
			"genes", len(fetched),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return NewIndex(terms), nil
}
