// Package catalog indexes API operations and the example files that declare them.
package catalog

import (
	"net/http"
	"strconv"
	"strings"
)

// Parameter locations.
const (
	InPath     = "path"
	InQuery    = "query"
	InHeader   = "header"
	InBody     = "body"
	InFormData = "formData"
)

// Parameter describes one operation parameter after reference resolution.
type Parameter struct {
	Name     string         `json:"name"`
	In       string         `json:"in"`
	Required bool           `json:"required"`
	Type     string         `json:"type,omitempty"`
	Schema   map[string]any `json:"schema,omitempty"`
}

// Response describes the schema declared for one status code.
type Response struct {
	StatusCode string         `json:"statusCode"`
	Schema     map[string]any `json:"schema,omitempty"`
}

// Operation is a read-only descriptor of one API operation.
type Operation struct {
	ID            string              `json:"operationId"`
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	SourceFile    string              `json:"sourceFile,omitempty"`
	Parameters    []Parameter         `json:"parameters"`
	Responses     map[string]Response `json:"responses"`
	LongRunning   bool                `json:"longRunning"`
	FinalStateVia string              `json:"finalStateVia,omitempty"`
	Examples      map[string]string   `json:"examples,omitempty"`
}

// IsPut reports whether the operation uses the PUT method.
func (o *Operation) IsPut() bool {
	return strings.EqualFold(o.Method, http.MethodPut)
}

// BodyParameter returns the parameter carried in the request body, if any.
func (o *Operation) BodyParameter() (Parameter, bool) {
	for _, p := range o.Parameters {
		if p.In == InBody {
			return p, true
		}
	}
	return Parameter{}, false
}

// ResponseSchema returns the schema declared for statusCode, falling back to
// the "default" response.
func (o *Operation) ResponseSchema(statusCode int) map[string]any {
	if r, ok := o.Responses[strconv.Itoa(statusCode)]; ok {
		return r.Schema
	}
	if r, ok := o.Responses["default"]; ok {
		return r.Schema
	}
	return nil
}

// Provider returns the resource provider namespace of a path template, e.g.
// "Microsoft.Compute". It is empty when the path has no providers segment.
func Provider(pathTemplate string) string {
	segs := segments(pathTemplate)
	i := lastProviders(segs)
	if i < 0 || i+1 >= len(segs) {
		return ""
	}
	return segs[i+1]
}

// ResourceType derives the fully qualified resource type of a path template,
// e.g. "Microsoft.Compute/virtualMachines/extensions".
func ResourceType(pathTemplate string) string {
	segs := segments(pathTemplate)
	i := lastProviders(segs)
	if i < 0 || i+1 >= len(segs) {
		return ""
	}
	parts := []string{segs[i+1]}
	for j := i + 2; j < len(segs); j += 2 {
		if isParam(segs[j]) {
			break
		}
		parts = append(parts, segs[j])
	}
	return strings.Join(parts, "/")
}

func segments(p string) []string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lastProviders(segs []string) int {
	for i := len(segs) - 1; i >= 0; i-- {
		if strings.EqualFold(segs[i], "providers") {
			return i
		}
	}
	return -1
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}
