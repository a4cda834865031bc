package services

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sophialabs/apiscenario/internal/domain/catalog"
	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

// ResolveContext is the load-time state a step is resolved against.
type ResolveContext struct {
	File     *definition.File
	Scenario *definition.Scenario
	Tracking *Tracking
}

func (rc *ResolveContext) dir() string {
	return filepath.Dir(rc.File.Path)
}

// addRequired registers an inferred required variable on the enclosing
// scenario, or on the file for prepare steps.
func (rc *ResolveContext) addRequired(name string) {
	if rc.Scenario != nil {
		rc.Scenario.RequiredVariables = definition.AddRequired(rc.Scenario.RequiredVariables, name)
		return
	}
	rc.File.RequiredVariables = definition.AddRequired(rc.File.RequiredVariables, name)
}

// StepResolver binds raw steps to catalog operations and payloads.
type StepResolver struct {
	catalog *catalog.Catalog
	fs      ports.FileSystem
}

// NewStepResolver creates a resolver over one catalog.
func NewStepResolver(cat *catalog.Catalog, fs ports.FileSystem) *StepResolver {
	return &StepResolver{catalog: cat, fs: fs}
}

// Resolve converts raw into a bound step and registers it with rc.Tracking.
func (r *StepResolver) Resolve(raw definition.RawStep, rc *ResolveContext) (*definition.Step, error) {
	step := &definition.Step{
		Kind:          raw.Kind,
		Name:          raw.Step,
		Description:   raw.Description,
		Variables:     raw.Variables,
		IsPrepareStep: rc.Scenario == nil,
	}

	var err error
	switch raw.Kind {
	case definition.KindRestCall:
		err = r.resolveRestCall(raw, step, rc)
	case definition.KindArmTemplate:
		err = r.resolveArmTemplate(raw, step, rc)
	case definition.KindRawCall:
		r.resolveRawCall(raw, step)
	default:
		return nil, errs.Definition(rc.File.Path, fmt.Errorf("%w: step %q", errs.ErrUnknownStepShape, raw.Step))
	}
	if err != nil {
		return nil, err
	}

	if step.Name == "" {
		if step.Kind != definition.KindRawCall {
			return nil, errs.Definition(rc.File.Path, fmt.Errorf("%s step requires a step name", step.Kind))
		}
		step.Name = rc.Tracking.AutoName("raw_" + strings.ToLower(step.RawCall.Method))
	}
	if err := rc.Tracking.Register(step); err != nil {
		return nil, err
	}
	return step, nil
}

func (r *StepResolver) resolveRestCall(raw definition.RawStep, step *definition.Step, rc *ResolveContext) error {
	call := &definition.RestCall{
		OperationID:  raw.OperationID,
		ResourceName: raw.ResourceName,
		StatusCode:   raw.StatusCode,
	}
	if call.StatusCode == 0 {
		call.StatusCode = http.StatusOK
	}
	step.RestCall = call

	if raw.ExampleFile != "" {
		if err := r.bindExample(raw, call, rc); err != nil {
			return errs.Resolution(raw.Step, err)
		}
	} else if err := r.bindProducer(raw, call, rc); err != nil {
		return errs.Resolution(raw.Step, err)
	}
	call.ResourceType = catalog.ResourceType(call.Operation.Path)

	call.OutputVariables = make(map[string]definition.OutputVariable, len(raw.OutputVariables))
	for name, ov := range raw.OutputVariables {
		call.OutputVariables[name] = definition.OutputVariable{FromResponse: ov.FromResponse}
	}

	var err error
	if call.ResourceUpdate, err = definition.ParsePatchList(raw.ResourceUpdate); err != nil {
		return errs.Resolution(raw.Step, fmt.Errorf("resourceUpdate: %w", err))
	}
	if call.RequestUpdate, err = definition.ParsePatchList(raw.RequestUpdate); err != nil {
		return errs.Resolution(raw.Step, fmt.Errorf("requestUpdate: %w", err))
	}
	if call.ResponseUpdate, err = definition.ParsePatchList(raw.ResponseUpdate); err != nil {
		return errs.Resolution(raw.Step, fmt.Errorf("responseUpdate: %w", err))
	}
	return applyUpdates(raw.Step, call)
}

func (r *StepResolver) bindExample(raw definition.RawStep, call *definition.RestCall, rc *ResolveContext) error {
	path := raw.ExampleFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(rc.dir(), path)
	}
	ref, err := r.exampleRef(path, raw.OperationID)
	if err != nil {
		return err
	}
	ex, err := LoadExample(r.fs, path)
	if err != nil {
		return err
	}

	call.Operation = ref.Operation
	call.OperationID = ref.Operation.ID
	call.ExampleFile = path
	call.ExampleName = ref.ExampleName
	call.RequestParameters = ex.Parameters
	if resp, ok := ex.Responses[call.StatusCode]; ok {
		call.ExpectedResponse = resp.Body
	}
	return nil
}

// exampleRef binds the example at path to its operation. An explicit
// operationID picks among several operations declaring the same example.
func (r *StepResolver) exampleRef(path, operationID string) (catalog.ExampleRef, error) {
	if operationID == "" {
		return r.catalog.BindExample(path)
	}
	if _, err := r.catalog.Operation(operationID); err != nil {
		return catalog.ExampleRef{}, err
	}
	ref, ok := r.catalog.Examples(path)[operationID]
	if !ok {
		return catalog.ExampleRef{}, fmt.Errorf("%w: %s is not declared by %s", errs.ErrUnboundExample, path, operationID)
	}
	return ref, nil
}

// bindProducer copies the baseline of a step without an example from the
// last PUT RestCall that produced the same resource.
func (r *StepResolver) bindProducer(raw definition.RawStep, call *definition.RestCall, rc *ResolveContext) error {
	if raw.ResourceName == "" {
		return fmt.Errorf("%w: step without exampleFile must name a resourceName", errs.ErrNotFound)
	}
	producer, ok := rc.Tracking.Producer(raw.ResourceName)
	if !ok {
		return fmt.Errorf("%w: resource %q has not been produced by an earlier step", errs.ErrNotFound, raw.ResourceName)
	}
	if producer.Kind != definition.KindRestCall {
		return fmt.Errorf("%w: resource %q was produced by %s step %q", errs.ErrNotFound, raw.ResourceName, producer.Kind, producer.Name)
	}
	from := producer.RestCall
	if !from.Operation.IsPut() {
		return fmt.Errorf("%w: resource %q was last produced by %s step %q, only PUT results can be reused",
			errs.ErrNotFound, raw.ResourceName, from.Operation.Method, producer.Name)
	}

	call.FromStep = producer.Name
	call.ExampleFile = from.ExampleFile
	call.ExampleName = from.ExampleName
	call.RequestParameters = DeepCopyMap(from.RequestParameters)
	call.ExpectedResponse = DeepCopy(from.ExpectedResponse)
	if raw.OperationID == "" {
		call.Operation = from.Operation
		call.OperationID = from.OperationID
		return nil
	}
	op, err := r.catalog.Operation(raw.OperationID)
	if err != nil {
		return err
	}
	if !op.IsPut() {
		return fmt.Errorf("%w: step reusing resource %q must call a PUT operation, %s is %s",
			errs.ErrNotFound, raw.ResourceName, op.ID, op.Method)
	}
	call.Operation = op
	call.OperationID = op.ID
	return nil
}

// applyUpdates runs resourceUpdate, then requestUpdate, then responseUpdate.
func applyUpdates(stepName string, call *definition.RestCall) error {
	if len(call.ResourceUpdate) > 0 {
		if err := applyResourceUpdate(call); err != nil {
			return errs.Resolution(stepName, fmt.Errorf("resourceUpdate on expected response: %w", err))
		}
	}
	if len(call.RequestUpdate) > 0 {
		params, err := ApplyPatch(call.RequestParameters, call.RequestUpdate)
		if err != nil {
			return errs.Resolution(stepName, fmt.Errorf("requestUpdate on request parameters: %w", err))
		}
		obj, ok := params.(map[string]any)
		if !ok {
			return errs.Resolution(stepName, fmt.Errorf("%w: requestUpdate must leave request parameters an object, got %T", errs.ErrPatchFailed, params))
		}
		call.RequestParameters = obj
	}
	if len(call.ResponseUpdate) > 0 {
		resp, err := ApplyPatch(call.ExpectedResponse, call.ResponseUpdate)
		if err != nil {
			return errs.Resolution(stepName, fmt.Errorf("responseUpdate on expected response: %w", err))
		}
		call.ExpectedResponse = resp
	}
	return nil
}

func applyResourceUpdate(call *definition.RestCall) error {
	resource := DeepCopy(call.ExpectedResponse)
	bodyParam, hasBody := call.Operation.BodyParameter()
	if hasBody {
		if body, ok := call.RequestParameters[bodyParam.Name]; ok {
			merged, err := DeepMerge(resource, body)
			if err != nil {
				return err
			}
			resource = merged
		}
	}

	patched, err := ApplyPatch(resource, call.ResourceUpdate)
	if err != nil {
		return err
	}

	schema := call.Operation.ResponseSchema(call.StatusCode)
	if hasBody {
		params := DeepCopyMap(call.RequestParameters)
		if params == nil {
			params = map[string]any{}
		}
		params[bodyParam.Name] = ResponseToRequest(patched, schema)
		call.RequestParameters = params
	}
	call.ExpectedResponse = RequestToResponse(patched, schema)
	return nil
}

func (r *StepResolver) resolveArmTemplate(raw definition.RawStep, step *definition.Step, rc *ResolveContext) error {
	tpl := &definition.ArmTemplate{TemplatePath: r.relative(rc, raw.ArmTemplateDeployment)}
	if err := r.readJSON(tpl.TemplatePath, &tpl.Template); err != nil {
		return errs.Resolution(raw.Step, fmt.Errorf("template: %w", err))
	}

	supplied := map[string]any{}
	if raw.ArmTemplateParameters != "" {
		tpl.ParametersPath = r.relative(rc, raw.ArmTemplateParameters)
		var doc map[string]any
		if err := r.readJSON(tpl.ParametersPath, &doc); err != nil {
			return errs.Resolution(raw.Step, fmt.Errorf("template parameters: %w", err))
		}
		if inner, ok := doc["parameters"].(map[string]any); ok {
			doc = inner
		}
		supplied = doc
	}
	tpl.Parameters = supplied

	declared, _ := tpl.Template["parameters"].(map[string]any)
	for _, name := range slices.Sorted(maps.Keys(declared)) {
		def, _ := declared[name].(map[string]any)
		typ, _ := def["type"].(string)
		_, hasDefault := def["defaultValue"]
		tpl.Declared = append(tpl.Declared, definition.TemplateParameter{Name: name, Type: typ, HasDefault: hasDefault})

		if hasDefault {
			continue
		}
		if _, ok := supplied[name]; ok {
			continue
		}
		if !strings.EqualFold(typ, "string") {
			return errs.Resolution(raw.Step, fmt.Errorf("%w: parameter %q of type %q has no default value", errs.ErrUnsupportedParameterType, name, typ))
		}
		rc.addRequired(name)
	}

	outputs, _ := tpl.Template["outputs"].(map[string]any)
	tpl.Outputs = slices.Sorted(maps.Keys(outputs))
	step.ArmTemplate = tpl
	return nil
}

func (r *StepResolver) resolveRawCall(raw definition.RawStep, step *definition.Step) {
	method := strings.ToUpper(raw.Method)
	if method == "" {
		method = http.MethodGet
	}
	status := raw.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	step.RawCall = &definition.RawCall{
		Method:     method,
		URL:        raw.RawURL,
		Headers:    raw.RequestHeaders,
		Body:       raw.RequestBody,
		StatusCode: status,
	}
}

func (r *StepResolver) relative(rc *ResolveContext, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(rc.dir(), p)
}

func (r *StepResolver) readJSON(path string, v any) error {
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
