package services

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeJSON parses data into plain maps, slices and float64 numbers.
func DecodeJSON(data []byte) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// DeepCopy returns a structurally independent copy of a JSON-shaped value.
func DeepCopy(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	out, err := DecodeJSON(data)
	if err != nil {
		return v
	}
	return out
}

// DeepCopyMap copies a parameter map.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := DeepCopy(m).(map[string]any)
	return out
}

func asObject(v any, what string) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s is %T, expected a JSON object", what, v)
	}
	return m, nil
}
