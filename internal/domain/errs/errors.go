// Package errs defines the error taxonomy shared by loading and execution.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by the phase that produced it.
type Kind string

const (
	// KindDefinition marks a malformed test-definition document.
	KindDefinition Kind = "definition"
	// KindResolution marks an unresolvable reference found while loading.
	KindResolution Kind = "resolution"
	// KindLroContract marks a long-running response that cannot be tracked.
	KindLroContract Kind = "lro_contract"
	// KindRuntime marks a transport or status failure while executing a step.
	KindRuntime Kind = "runtime"
	// KindVariable marks a required variable missing when a run starts.
	KindVariable Kind = "variable"
)

var (
	ErrAmbiguousExample         = errors.New("example file is referenced by more than one operation")
	ErrUnboundExample           = errors.New("example file is not referenced by any operation")
	ErrNotFound                 = errors.New("not found")
	ErrOperationNotFound        = errors.New("operation not found")
	ErrDuplicateOperation       = errors.New("duplicate operationId")
	ErrUnsupportedParameterType = errors.New("unsupported template parameter type")
	ErrDuplicateStep            = errors.New("duplicate step name")
	ErrUnknownStepShape         = errors.New("unknown step shape")
	ErrPatchFailed              = errors.New("patch failed")
	ErrMissingTrackingMetadata  = errors.New("response carries no long-running operation tracking metadata")
	ErrPollingURLUndetermined   = errors.New("polling url cannot be determined")
	ErrFinalGetURLUndetermined  = errors.New("final GET url cannot be determined")
	ErrPollLimitExceeded        = errors.New("long-running operation exceeded poll limit")
	ErrUnexpectedStatus         = errors.New("unexpected status code")
	ErrMissingVariable          = errors.New("required variable is not set")
)

// Error carries the kind of failure along with the step or document that caused it.
type Error struct {
	Kind Kind
	Op   string
	Step string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Op != "" {
		fmt.Fprintf(&b, " in %s", e.Op)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, " (step %q)", e.Step)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " [%s]", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Definition wraps err as a malformed-document error for path.
func Definition(path string, err error) error {
	return &Error{Kind: KindDefinition, Op: "load", Path: path, Err: err}
}

// Resolution wraps err as a load-time resolution error naming step.
func Resolution(step string, err error) error {
	return &Error{Kind: KindResolution, Op: "resolve", Step: step, Err: err}
}

// LroContract wraps err as a long-running operation contract violation.
func LroContract(op string, err error) error {
	return &Error{Kind: KindLroContract, Op: op, Err: err}
}

// Runtime wraps err as an execution failure of step.
func Runtime(step string, err error) error {
	return &Error{Kind: KindRuntime, Op: "execute", Step: step, Err: err}
}

// Variable reports the required variables missing before a run.
func Variable(scenario string, missing []string) error {
	return &Error{
		Kind: KindVariable,
		Op:   "run " + scenario,
		Err:  fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", ")),
	}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == k {
			return true
		}
		err = e.Err
	}
	return false
}

// StepOf returns the step name recorded on the outermost *Error in err's chain.
func StepOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return ""
}
