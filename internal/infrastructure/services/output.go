package services

import (
	"fmt"
	"maps"
	"slices"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
)

// EvaluateOutputs reads every output variable from a response body.
func EvaluateOutputs(body any, outputs map[string]definition.OutputVariable) (map[string]any, error) {
	values := make(map[string]any, len(outputs))
	for _, name := range slices.Sorted(maps.Keys(outputs)) {
		v, err := Lookup(body, outputs[name].FromResponse)
		if err != nil {
			return nil, fmt.Errorf("output variable %q: %w", name, err)
		}
		values[name] = v
	}
	return values, nil
}
