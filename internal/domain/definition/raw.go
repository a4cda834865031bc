package definition

import (
	"fmt"

	"github.com/sophialabs/apiscenario/internal/domain/errs"
)

// RawFile is the test-definition document as written on disk.
type RawFile struct {
	Scope             string         `yaml:"scope,omitempty" json:"scope,omitempty"`
	RequiredVariables []string       `yaml:"requiredVariables,omitempty" json:"requiredVariables,omitempty"`
	Variables         map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	PrepareSteps      []RawStep      `yaml:"prepareSteps,omitempty" json:"prepareSteps,omitempty"`
	TestScenarios     []RawScenario  `yaml:"testScenarios" json:"testScenarios" jsonschema:"minItems=1"`
}

// RawScenario is one entry of testScenarios.
type RawScenario struct {
	Description       string         `yaml:"description,omitempty" json:"description,omitempty"`
	ShareTestScope    *bool          `yaml:"shareTestScope,omitempty" json:"shareTestScope,omitempty"`
	Variables         map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	RequiredVariables []string       `yaml:"requiredVariables,omitempty" json:"requiredVariables,omitempty"`
	Steps             []RawStep      `yaml:"steps" json:"steps"`
}

// RawOutputVariable maps a response location to a variable.
type RawOutputVariable struct {
	FromResponse string `yaml:"fromResponse" json:"fromResponse"`
}

// RawStep is one step before resolution. Kind is decided once by Classify.
type RawStep struct {
	Step        string         `yaml:"step,omitempty" json:"step,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Variables   map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`

	ArmTemplateDeployment string `yaml:"armTemplateDeployment,omitempty" json:"armTemplateDeployment,omitempty"`
	ArmTemplateParameters string `yaml:"armTemplateParameters,omitempty" json:"armTemplateParameters,omitempty"`

	ExampleFile     string                       `yaml:"exampleFile,omitempty" json:"exampleFile,omitempty"`
	ResourceName    string                       `yaml:"resourceName,omitempty" json:"resourceName,omitempty"`
	OperationID     string                       `yaml:"operationId,omitempty" json:"operationId,omitempty"`
	StatusCode      int                          `yaml:"statusCode,omitempty" json:"statusCode,omitempty"`
	OutputVariables map[string]RawOutputVariable `yaml:"outputVariables,omitempty" json:"outputVariables,omitempty"`
	ResourceUpdate  []map[string]any             `yaml:"resourceUpdate,omitempty" json:"resourceUpdate,omitempty"`
	RequestUpdate   []map[string]any             `yaml:"requestUpdate,omitempty" json:"requestUpdate,omitempty"`
	ResponseUpdate  []map[string]any             `yaml:"responseUpdate,omitempty" json:"responseUpdate,omitempty"`

	RawURL         string            `yaml:"rawUrl,omitempty" json:"rawUrl,omitempty"`
	Method         string            `yaml:"method,omitempty" json:"method,omitempty"`
	RequestHeaders map[string]string `yaml:"requestHeaders,omitempty" json:"requestHeaders,omitempty"`
	RequestBody    any               `yaml:"requestBody,omitempty" json:"requestBody,omitempty"`

	Kind StepKind `yaml:"-" json:"-"`
}

// Classify decides the step variant from the mutually exclusive keys present.
func (r *RawStep) Classify() (StepKind, error) {
	var kinds []StepKind
	if r.ArmTemplateDeployment != "" {
		kinds = append(kinds, KindArmTemplate)
	}
	if r.ExampleFile != "" || r.ResourceName != "" || r.OperationID != "" {
		kinds = append(kinds, KindRestCall)
	}
	if r.RawURL != "" {
		kinds = append(kinds, KindRawCall)
	}
	switch len(kinds) {
	case 1:
		r.Kind = kinds[0]
		return r.Kind, nil
	case 0:
		return KindUnknown, fmt.Errorf("%w: step %q declares none of armTemplateDeployment, exampleFile/resourceName/operationId, rawUrl", errs.ErrUnknownStepShape, r.Step)
	default:
		return KindUnknown, fmt.Errorf("%w: step %q mixes %s and %s", errs.ErrUnknownStepShape, r.Step, kinds[0], kinds[1])
	}
}

// ClassifyAll classifies every step of the document.
func (f *RawFile) ClassifyAll() error {
	for i := range f.PrepareSteps {
		if _, err := f.PrepareSteps[i].Classify(); err != nil {
			return fmt.Errorf("prepareSteps[%d]: %w", i, err)
		}
	}
	for si := range f.TestScenarios {
		steps := f.TestScenarios[si].Steps
		for i := range steps {
			if _, err := steps[i].Classify(); err != nil {
				return fmt.Errorf("testScenarios[%d].steps[%d]: %w", si, i, err)
			}
		}
	}
	return nil
}
