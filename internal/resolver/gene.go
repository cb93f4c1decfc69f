package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/graphql"
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/logger"
)

var geneIDPattern = regexp.MustCompile(`^ENSG\d{11}$`)

func (r *Resolver) gene(ctx context.Context, p graphql.ResolveParams) (any, error) {
	rg := stringArg(p.Args, "reference_genome")
	geneID := strings.ToUpper(strings.TrimSpace(stringArg(p.Args, "gene_id")))
	symbol := strings.TrimSpace(stringArg(p.Args, "gene_symbol"))

	switch {
	case geneID != "" && symbol != "":
		return nil, apperrors.Invalidf("Provide only one of gene_id or gene_symbol")
	case geneID != "":
		if !geneIDPattern.MatchString(geneID) {
			return nil, apperrors.Invalidf("Invalid gene ID: %s", geneID)
		}
	case symbol != "":
		refs, ok := r.index.Lookup(rg, symbol)
		if !ok {
			return nil, apperrors.NotFoundf("Gene not found")
		}
		if len(refs) > 1 {
			return nil, apperrors.Invalidf("Gene symbol %s is ambiguous, query by gene_id", refs[0].Symbol)
		}
		geneID = refs[0].GeneID
	default:
		return nil, apperrors.Invalidf("One of gene_id or gene_symbol is required")
	}
	return r.fetchGene(ctx, rg, geneID)
}

func (r *Resolver) fetchGene(ctx context.Context, rg, geneID string) (any, error) {
	v, err := r.fetch(ctx, fmt.Sprintf("/%s/gene/%s/", rg, geneID), fmt.Sprintf("gene:%s:%s", rg, geneID))
	if err != nil {
		return nil, err
	}
	gene, ok := v.(map[string]any)
	if !ok {
		return nil, apperrors.NotFoundf("Gene not found")
	}
	if _, ok := gene["reference_genome"]; !ok {
		gene["reference_genome"] = rg
	}
	if _, ok := gene["gene_id"]; !ok {
		gene["gene_id"] = geneID
	}
	return gene, nil
}

func (r *Resolver) geneSearch(ctx context.Context, p graphql.ResolveParams) (any, error) {
	rg := stringArg(p.Args, "reference_genome")
	query := strings.TrimSpace(stringArg(p.Args, "query"))
	limit, set, err := intArg(p.Args, "limit")
	if err != nil {
		return nil, err
	}
	switch {
	case !set:
		limit = r.cfg.DefaultSearchLimit
	case limit < 1:
		return nil, apperrors.Invalidf("limit must be at least 1")
	case limit > r.cfg.MaxSearchLimit:
		limit = r.cfg.MaxSearchLimit
	}

	matches := r.index.Search(rg, query, limit)
	results := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		results = append(results, map[string]any{
			"ensembl_id":     m.GeneID,
			"symbol":         m.Symbol,
			"matched_symbol": m.MatchedSymbol,
		})
	}

	resultType := "hit"
	if len(results) == 0 {
		resultType = "zero_result"
	}
	r.metrics.GeneSearchQueriesTotal.WithLabelValues(resultType).Inc()
	if r.recorder != nil {
		r.recorder.RecordGeneSearch(analytics.GeneSearchEvent{
			Query:           query,
			ReferenceGenome: rg,
			Returned:        len(results),
			RequestID:       logger.RequestID(ctx),
		})
	}
	return results, nil
}

func (r *Resolver) geneClinvarVariants(ctx context.Context, p graphql.ResolveParams) (any, error) {
	rg, geneID := parentField(p, "reference_genome"), parentField(p, "gene_id")
	return r.fetchList(ctx,
		fmt.Sprintf("/%s/gene/%s/clinvar_variants/", rg, geneID),
		fmt.Sprintf("clinvar_variants:gene:%s:%s", rg, geneID),
	)
}

func (r *Resolver) geneStructuralVariants(ctx context.Context, p graphql.ResolveParams) (any, error) {
	rg, geneID := parentField(p, "reference_genome"), parentField(p, "gene_id")
	dataset := stringArg(p.Args, "dataset")
	if err := checkDataset(dataset, rg); err != nil {
		return nil, err
	}
	return r.fetchList(ctx,
		fmt.Sprintf("/%s/gene/%s/structural_variants/", dataset, geneID),
		fmt.Sprintf("structural_variants:gene:%s:%s", dataset, geneID),
	)
}
