package services

import (
	"fmt"

	"github.com/sophialabs/apiscenario/internal/domain/catalog"
	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/runner"
	"github.com/sophialabs/apiscenario/internal/domain/variables"
)

// BuildRequest routes every operation parameter of rc to its request
// location. A parameter's value is taken from env when set there, else from
// the step's request parameters; placeholders are resolved against env.
func BuildRequest(rc *definition.RestCall, env *variables.Scope) (runner.ClientRequest, error) {
	op := rc.Operation
	req := runner.ClientRequest{
		Method:     op.Method,
		Path:       op.Path,
		PathParams: map[string]string{},
		Query:      map[string]string{},
		Headers:    map[string]string{},
		Operation:  op,
	}

	for _, p := range op.Parameters {
		v, ok := env.Get(p.Name)
		if !ok || p.In == catalog.InBody {
			v, ok = rc.RequestParameters[p.Name]
		}
		if !ok {
			continue
		}
		v = env.ResolveValue(v)

		switch p.In {
		case catalog.InPath:
			req.PathParams[p.Name] = variables.Stringify(v)
		case catalog.InQuery:
			req.Query[p.Name] = variables.Stringify(v)
		case catalog.InHeader:
			req.Headers[p.Name] = variables.Stringify(v)
		case catalog.InBody:
			req.Body = v
		default:
			return runner.ClientRequest{}, fmt.Errorf("parameter %q: unsupported location %q", p.Name, p.In)
		}
	}
	return req, nil
}
