package services

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

// ExampleResponse is one recorded response of an example file.
type ExampleResponse struct {
	Headers map[string]any `json:"headers,omitempty"`
	Body    any            `json:"body,omitempty"`
}

// Example is a recorded request/response payload.
type Example struct {
	Parameters map[string]any
	Responses  map[int]ExampleResponse
}

// LoadExample reads the example at path.
func LoadExample(fs ports.FileSystem, path string) (*Example, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read example %s: %w", path, err)
	}
	var raw struct {
		Parameters map[string]any             `json:"parameters"`
		Responses  map[string]ExampleResponse `json:"responses"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse example %s: %w", path, err)
	}

	ex := &Example{
		Parameters: raw.Parameters,
		Responses:  make(map[int]ExampleResponse, len(raw.Responses)),
	}
	if ex.Parameters == nil {
		ex.Parameters = map[string]any{}
	}
	for code, r := range raw.Responses {
		n, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("example %s: invalid status code %q", path, code)
		}
		ex.Responses[n] = r
	}
	return ex, nil
}
