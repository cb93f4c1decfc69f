package resolver

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
)

// datasetGenome is the reference genome each dataset is aligned to.
var datasetGenome = map[string]string{
	"gnomad_r4":      "GRCh38",
	"gnomad_r3":      "GRCh38",
	"gnomad_r2_1":    "GRCh37",
	"exac":           "GRCh37",
	"gnomad_sv_r4":   "GRCh38",
	"gnomad_sv_r2_1": "GRCh37",
}

func genomeForDataset(dataset string) (string, error) {
	rg, ok := datasetGenome[dataset]
	if !ok {
		return "", apperrors.Invalidf("Unknown dataset: %s", dataset)
	}
	return rg, nil
}

// checkDataset fails when dataset is not aligned to rg.
func checkDataset(dataset, rg string) error {
	want, err := genomeForDataset(dataset)
	if err != nil {
		return err
	}
	if want != rg {
		return apperrors.Invalidf("Dataset %s is not available for %s; it uses %s", dataset, rg, want)
	}
	return nil
}
