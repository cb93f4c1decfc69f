package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/graphql"
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
)

var variantIDPattern = regexp.MustCompile(`^(\d+|X|Y|M|MT)[-:]([0-9]+)[-:]([ACGT]+)[-:]([ACGT]+)$`)

// NormalizeVariantID returns id as chrom-pos-ref-alt. It accepts "-" or ":"
// separators, lower case alleles and a "chr" prefix.
func NormalizeVariantID(id string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(id))
	s = strings.TrimPrefix(s, "CHR")
	m := variantIDPattern.FindStringSubmatch(s)
	if m == nil {
		return "", apperrors.Invalidf("Invalid variant ID: %s", id)
	}
	chrom := m[1]
	if chrom == "MT" {
		chrom = "M"
	}
	if n, err := strconv.Atoi(chrom); err == nil {
		if n < 1 || n > 22 {
			return "", apperrors.Invalidf("Invalid variant ID: %s", id)
		}
		chrom = strconv.Itoa(n)
	}
	pos, err := strconv.Atoi(m[2])
	if err != nil || pos < 1 {
		return "", apperrors.Invalidf("Invalid variant ID: %s", id)
	}
	return fmt.Sprintf("%s-%d-%s-%s", chrom, pos, m[3], m[4]), nil
}

func (r *Resolver) variant(ctx context.Context, p graphql.ResolveParams) (any, error) {
	dataset := stringArg(p.Args, "dataset")
	rg, err := genomeForDataset(dataset)
	if err != nil {
		return nil, err
	}
	id, err := NormalizeVariantID(stringArg(p.Args, "variantId"))
	if err != nil {
		return nil, err
	}
	v, err := r.fetch(ctx, fmt.Sprintf("/%s/variant/%s/", dataset, id), fmt.Sprintf("variant:%s:%s", dataset, id))
	if err != nil {
		return nil, err
	}
	variant, ok := v.(map[string]any)
	if !ok {
		return nil, apperrors.NotFoundf("Variant not found")
	}
	if _, ok := variant["reference_genome"]; !ok {
		variant["reference_genome"] = rg
	}
	return variant, nil
}

func (r *Resolver) clinvarVariant(ctx context.Context, p graphql.ResolveParams) (any, error) {
	rg := stringArg(p.Args, "reference_genome")
	id, err := NormalizeVariantID(stringArg(p.Args, "variant_id"))
	if err != nil {
		return nil, err
	}
	v, err := r.fetch(ctx, fmt.Sprintf("/%s/clinvar_variant/%s/", rg, id), fmt.Sprintf("clinvar_variant:%s:%s", rg, id))
	if err != nil {
		return nil, err
	}
	variant, ok := v.(map[string]any)
	if !ok {
		return nil, apperrors.NotFoundf("ClinVar variant not found")
	}
	if _, ok := variant["reference_genome"]; !ok {
		variant["reference_genome"] = rg
	}
	return variant, nil
}
