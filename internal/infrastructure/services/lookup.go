package services

import (
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/go-openapi/jsonpointer"
)

// Lookup evaluates expr against doc. Expressions starting with "$" are
// JSONPath; anything else is an RFC 6901 JSON pointer.
func Lookup(doc any, expr string) (any, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "$") {
		v, err := jsonpath.Get(expr, doc)
		if err != nil {
			return nil, fmt.Errorf("jsonpath %s: %w", expr, err)
		}
		return v, nil
	}
	if expr != "" && !strings.HasPrefix(expr, "/") {
		expr = "/" + expr
	}
	p, err := jsonpointer.New(expr)
	if err != nil {
		return nil, fmt.Errorf("json pointer %q: %w", expr, err)
	}
	v, _, err := p.Get(doc)
	if err != nil {
		return nil, fmt.Errorf("json pointer %q: %w", expr, err)
	}
	return v, nil
}
