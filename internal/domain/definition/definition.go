// Package definition holds the resolved test-definition model: files,
// scenarios and their tagged step variants.
package definition

import (
	"slices"

	"github.com/sophialabs/apiscenario/internal/domain/catalog"
)

// ScopeResourceGroup scopes a file's scenarios to one resource group.
const ScopeResourceGroup = "ResourceGroup"

// StepKind tags the step variant.
type StepKind int

const (
	KindUnknown StepKind = iota
	KindRestCall
	KindArmTemplate
	KindRawCall
)

func (k StepKind) String() string {
	switch k {
	case KindRestCall:
		return "RestCall"
	case KindArmTemplate:
		return "ArmTemplateDeployment"
	case KindRawCall:
		return "RawCall"
	default:
		return "Unknown"
	}
}

// File is one loaded test-definition document. It is immutable after load.
type File struct {
	Path              string
	Scope             string
	RequiredVariables []string
	Variables         map[string]any
	PrepareSteps      []*Step
	Scenarios         []*Scenario
}

// IsResourceGroupScoped reports whether scenarios run inside a resource group.
func (f *File) IsResourceGroupScoped() bool {
	return f.Scope == ScopeResourceGroup
}

// Scenario is one ordered step sequence sharing a resource scope.
type Scenario struct {
	Description       string
	ShareScope        bool
	Variables         map[string]any
	RequiredVariables []string
	Steps             []*Step

	// ResolvedSteps is the file's prepare steps followed by Steps. Prepare
	// steps are shared by pointer across the file's scenarios.
	ResolvedSteps []*Step
}

// Step is a resolved step. Exactly one of RestCall, ArmTemplate and RawCall
// is set, matching Kind.
type Step struct {
	Kind          StepKind
	Name          string
	Description   string
	Variables     map[string]any
	IsPrepareStep bool

	RestCall    *RestCall
	ArmTemplate *ArmTemplate
	RawCall     *RawCall
}

// OutputVariable maps a location in the live response body to a variable.
type OutputVariable struct {
	FromResponse string
}

// RestCall is a step bound to a catalog operation.
type RestCall struct {
	Operation         *catalog.Operation
	OperationID       string
	ExampleFile       string
	ExampleName       string
	ResourceName      string
	ResourceType      string
	FromStep          string
	StatusCode        int
	RequestParameters map[string]any
	ExpectedResponse  any
	OutputVariables   map[string]OutputVariable
	ResourceUpdate    PatchList
	RequestUpdate     PatchList
	ResponseUpdate    PatchList
}

// TemplateParameter is a parameter declared by a deployment template.
type TemplateParameter struct {
	Name       string
	Type       string
	HasDefault bool
}

// ArmTemplate is a template deployment step.
type ArmTemplate struct {
	TemplatePath   string
	ParametersPath string
	Template       map[string]any
	Parameters     map[string]any
	Declared       []TemplateParameter
	Outputs        []string
}

// RawCall is a fully caller-specified request.
type RawCall struct {
	Method     string
	URL        string
	Headers    map[string]string
	Body       any
	StatusCode int
}

// AddRequired appends the names not already present in list.
func AddRequired(list []string, names ...string) []string {
	for _, n := range names {
		if !slices.Contains(list, n) {
			list = append(list, n)
		}
	}
	return list
}
