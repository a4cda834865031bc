// Package variables implements the run-scoped variable store and placeholder substitution.
package variables

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Scope maps variable names to string or JSON values. A Scope is owned by a
// single run and is not safe for concurrent mutation.
type Scope struct {
	values map[string]any
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{values: make(map[string]any)}
}

// FromMap creates a scope seeded with a copy of m.
func FromMap(m map[string]any) *Scope {
	s := NewScope()
	s.SetBatch(m)
	return s
}

// Get returns the raw value stored under name.
func (s *Scope) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// GetString returns the value under name rendered as a string. Non-string
// values are encoded as JSON.
func (s *Scope) GetString(name string) (string, bool) {
	v, ok := s.values[name]
	if !ok {
		return "", false
	}
	return Stringify(v), true
}

// Set stores v under name, replacing any previous value.
func (s *Scope) Set(name string, v any) {
	s.values[name] = v
}

// SetBatch merges m into the scope. Entries in m win over existing ones.
func (s *Scope) SetBatch(m map[string]any) {
	for k, v := range m {
		s.values[k] = v
	}
}

// Has reports whether name is set.
func (s *Scope) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Names returns the set variable names in sorted order.
func (s *Scope) Names() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Len returns the number of variables.
func (s *Scope) Len() int { return len(s.values) }

// Clone returns an independent copy. Nested JSON values are deep-copied so
// the two scopes never alias.
func (s *Scope) Clone() *Scope {
	c := NewScope()
	for k, v := range s.values {
		c.values[k] = deepCopy(v)
	}
	return c
}

// Snapshot returns a deep copy of all values.
func (s *Scope) Snapshot() map[string]any {
	return s.Clone().values
}

// Missing returns the names in required that are not set, preserving order.
func (s *Scope) Missing(required []string) []string {
	var missing []string
	for _, name := range required {
		if !s.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Stringify renders a variable value for substitution into text.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
