package resolver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/graphql"
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
)

// normalizeChrom accepts 1-22, X, Y and M (or MT), with an optional "chr"
// prefix.
func normalizeChrom(chrom string) (string, bool) {
	c := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(chrom)), "CHR")
	switch c {
	case "X", "Y", "M":
		return c, true
	case "MT":
		return "M", true
	}
	n, err := strconv.Atoi(c)
	if err != nil || n < 1 || n > 22 {
		return "", false
	}
	return strconv.Itoa(n), true
}

func (r *Resolver) region(_ context.Context, p graphql.ResolveParams) (any, error) {
	chrom, ok := normalizeChrom(stringArg(p.Args, "chrom"))
	if !ok {
		return nil, apperrors.Invalidf("Invalid chromosome: %s", stringArg(p.Args, "chrom"))
	}
	start, _, err := intArg(p.Args, "start")
	if err != nil {
		return nil, err
	}
	stop, _, err := intArg(p.Args, "stop")
	if err != nil {
		return nil, err
	}
	switch {
	case start < 1:
		return nil, apperrors.Invalidf("Region start must be at least 1")
	case stop < start:
		return nil, apperrors.Invalidf("Region stop must not be before start")
	case stop-start > r.cfg.MaxRegionSize:
		return nil, apperrors.Invalidf("Region is larger than the maximum of %d bases", r.cfg.MaxRegionSize)
	}
	return map[string]any{
		"reference_genome": stringArg(p.Args, "reference_genome"),
		"chrom":            chrom,
		"start":            start,
		"stop":             stop,
	}, nil
}

// interval reads the region from the parent object.
func interval(p graphql.ResolveParams) (rg, chrom string, start, stop int) {
	parent, _ := p.Parent.(map[string]any)
	rg, _ = parent["reference_genome"].(string)
	chrom, _ = parent["chrom"].(string)
	start, _ = parent["start"].(int)
	stop, _ = parent["stop"].(int)
	return rg, chrom, start, stop
}

func (r *Resolver) regionGenes(ctx context.Context, p graphql.ResolveParams) (any, error) {
	rg, chrom, start, stop := interval(p)
	return r.fetchList(ctx,
		fmt.Sprintf("/%s/genes/?intervals=%s:%d-%d", rg, chrom, start, stop),
		fmt.Sprintf("genes:region:%s:%s:%d-%d", rg, chrom, start, stop),
	)
}

func (r *Resolver) regionClinvarVariants(ctx context.Context, p graphql.ResolveParams) (any, error) {
	rg, chrom, start, stop := interval(p)
	return r.fetchList(ctx,
		fmt.Sprintf("/%s/clinvar_variants/?intervals=%s:%d-%d", rg, chrom, start, stop),
		fmt.Sprintf("clinvar_variants:region:%s:%s:%d-%d", rg, chrom, start, stop),
	)
}

func (r *Resolver) regionStructuralVariants(ctx context.Context, p graphql.ResolveParams) (any, error) {
	rg, chrom, start, stop := interval(p)
	dataset := stringArg(p.Args, "dataset")
	if err := checkDataset(dataset, rg); err != nil {
		return nil, err
	}
	return r.fetchList(ctx,
		fmt.Sprintf("/%s/structural_variants/?intervals=%s:%d-%d", dataset, chrom, start, stop),
		fmt.Sprintf("structural_variants:region:%s:%s:%d-%d", dataset, chrom, start, stop),
	)
}
