package services

import (
	"fmt"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
)

// Tracking is the load-time wiring state of one definition file. Resource
// producers are tracked file-wide in document order; step names are unique
// per scope (the prepare steps plus one scenario's own steps).
type Tracking struct {
	resources map[string]*definition.Step
	prepare   map[string]*definition.Step
	steps     map[string]*definition.Step
}

// NewTracking starts tracking at the file's prepare steps.
func NewTracking() *Tracking {
	prepare := make(map[string]*definition.Step)
	return &Tracking{
		resources: make(map[string]*definition.Step),
		prepare:   prepare,
		steps:     prepare,
	}
}

// EnterScenario opens a new step-name scope seeded with the prepare steps.
func (t *Tracking) EnterScenario() {
	t.steps = make(map[string]*definition.Step, len(t.prepare))
	for k, v := range t.prepare {
		t.steps[k] = v
	}
}

// Register records step under its name and, for RestCalls declaring a
// resource name, as that resource's latest producer.
func (t *Tracking) Register(step *definition.Step) error {
	if _, dup := t.steps[step.Name]; dup {
		return errs.Resolution(step.Name, fmt.Errorf("%w %q", errs.ErrDuplicateStep, step.Name))
	}
	t.steps[step.Name] = step
	if step.Kind == definition.KindRestCall && step.RestCall.ResourceName != "" {
		t.resources[step.RestCall.ResourceName] = step
	}
	return nil
}

// Producer returns the latest step that produced resource.
func (t *Tracking) Producer(resource string) (*definition.Step, bool) {
	s, ok := t.resources[resource]
	return s, ok
}

// Step returns the step registered under name in the current scope.
func (t *Tracking) Step(name string) (*definition.Step, bool) {
	s, ok := t.steps[name]
	return s, ok
}

// AutoName returns the first prefix_N not yet used in the current scope.
func (t *Tracking) AutoName(prefix string) string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d", prefix, i)
		if _, used := t.steps[name]; !used {
			return name
		}
	}
}
