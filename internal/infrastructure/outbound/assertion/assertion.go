// Package assertion checks response status codes against an expr expression.
package assertion

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

// DefaultExpression accepts the success codes of resource-management APIs.
const DefaultExpression = "statusCode in [200, 201, 202, 204]"

var _ ports.StatusAssertion = (*StatusAssertion)(nil)

// env is what an assertion expression can see. expectedStatusCode is 0 when
// the step does not declare one.
type env struct {
	StatusCode         int    `expr:"statusCode"`
	ExpectedStatusCode int    `expr:"expectedStatusCode"`
	Step               string `expr:"step"`
}

// StatusAssertion is a compiled status expression.
type StatusAssertion struct {
	source  string
	program *vm.Program
}

// New compiles source, or DefaultExpression when source is empty.
func New(source string) (*StatusAssertion, error) {
	if strings.TrimSpace(source) == "" {
		source = DefaultExpression
	}
	program, err := expr.Compile(source, expr.Env(env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile status assertion %q: %w", source, err)
	}
	return &StatusAssertion{source: source, program: program}, nil
}

// Expression returns the source the assertion was compiled from.
func (a *StatusAssertion) Expression() string { return a.source }

// Check evaluates the assertion for one response.
func (a *StatusAssertion) Check(step string, statusCode, expected int) error {
	out, err := expr.Run(a.program, env{StatusCode: statusCode, ExpectedStatusCode: expected, Step: step})
	if err != nil {
		return fmt.Errorf("status assertion failed to evaluate: %w", err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("%w: %d does not satisfy %q", errs.ErrUnexpectedStatus, statusCode, a.source)
	}
	return nil
}
