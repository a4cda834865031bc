package services

import (
	"github.com/sophialabs/apiscenario/internal/domain/catalog"
	"github.com/sophialabs/apiscenario/internal/domain/definition"
)

// Coverage reports which catalog operations the loaded files exercise.
type Coverage struct {
	Total     int      `json:"total"`
	Covered   int      `json:"covered"`
	Uncovered []string `json:"uncovered,omitempty"`
}

// Ratio returns the covered fraction, or 0 for an empty catalog.
func (c Coverage) Ratio() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Covered) / float64(c.Total)
}

// ComputeCoverage counts the catalog operations referenced by at least one
// RestCall step of files.
func ComputeCoverage(cat *catalog.Catalog, files ...*definition.File) Coverage {
	used := make(map[string]bool)
	visit := func(steps []*definition.Step) {
		for _, s := range steps {
			if s.Kind == definition.KindRestCall {
				used[s.RestCall.Operation.ID] = true
			}
		}
	}
	for _, f := range files {
		visit(f.PrepareSteps)
		for _, sc := range f.Scenarios {
			visit(sc.Steps)
		}
	}

	cov := Coverage{}
	for _, op := range cat.Operations() {
		cov.Total++
		if used[op.ID] {
			cov.Covered++
		} else {
			cov.Uncovered = append(cov.Uncovered, op.ID)
		}
	}
	return cov
}
