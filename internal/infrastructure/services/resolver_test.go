package services_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sophialabs/apiscenario/internal/domain/catalog"
	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/infrastructure/services"
	"github.com/sophialabs/apiscenario/internal/testutil"
)

const vmPath = "/subscriptions/{subscriptionId}/resourceGroups/{resourceGroupName}/providers/Microsoft.Compute/virtualMachines/{vmName}"

const createExample = `{
  "parameters": {
    "subscriptionId": "sub",
    "resourceGroupName": "rg",
    "vmName": "vm1",
    "api-version": "2024-03-01",
    "parameters": {
      "location": "westus",
      "properties": {"osProfile": {"adminUsername": "admin", "adminPassword": "pw"}}
    }
  },
  "responses": {
    "200": {"body": {
      "id": "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/vm1",
      "location": "westus",
      "properties": {"osProfile": {"adminUsername": "admin"}, "provisioningState": "Succeeded"}
    }},
    "201": {"body": {"name": "vm1"}}
  }
}`

const getExample = `{
  "parameters": {"subscriptionId": "sub", "resourceGroupName": "rg", "vmName": "vm1", "api-version": "2024-03-01"},
  "responses": {"200": {"body": {"name": "vm1"}}}
}`

func vmSchema() map[string]any {
	return map[string]any{
		"allOf": []any{map[string]any{"properties": map[string]any{
			"id": map[string]any{"readOnly": true},
		}}},
		"properties": map[string]any{
			"properties": map[string]any{"properties": map[string]any{
				"provisioningState": map[string]any{"readOnly": true},
				"osProfile": map[string]any{"properties": map[string]any{
					"adminPassword": map[string]any{"x-ms-secret": true},
				}},
			}},
		},
	}
}

func vmParams() []catalog.Parameter {
	return []catalog.Parameter{
		{Name: "subscriptionId", In: catalog.InPath, Required: true},
		{Name: "resourceGroupName", In: catalog.InPath, Required: true},
		{Name: "vmName", In: catalog.InPath, Required: true},
		{Name: "api-version", In: catalog.InQuery, Required: true},
		{Name: "parameters", In: catalog.InBody, Required: true},
	}
}

type fixture struct {
	catalog  *catalog.Catalog
	fs       *testutil.MemoryFS
	resolver *services.StepResolver
	file     *definition.File
	tracking *services.Tracking
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := catalog.New()
	ops := []*catalog.Operation{
		{
			ID: "VirtualMachines_CreateOrUpdate", Method: "PUT", Path: vmPath, Parameters: vmParams(),
			Responses:   map[string]catalog.Response{"200": {StatusCode: "200", Schema: vmSchema()}},
			LongRunning: true,
			Examples:    map[string]string{"Create a vm": "/defs/examples/VM_Create.json"},
		},
		{
			ID: "VirtualMachines_Get", Method: "GET", Path: vmPath, Parameters: vmParams()[:4],
			Examples: map[string]string{"Get a vm": "/defs/examples/VM_Get.json"},
		},
		{
			ID: "VirtualMachines_Update", Method: "PATCH", Path: vmPath, Parameters: vmParams(),
		},
	}
	for _, op := range ops {
		if err := cat.Add(op); err != nil {
			t.Fatalf("catalog add: %v", err)
		}
	}
	fs := testutil.NewMemoryFS(map[string]string{
		"/defs/examples/VM_Create.json": createExample,
		"/defs/examples/VM_Get.json":    getExample,
	})
	return &fixture{
		catalog:  cat,
		fs:       fs,
		resolver: services.NewStepResolver(cat, fs),
		file:     &definition.File{Path: "/defs/vm.yaml"},
		tracking: services.NewTracking(),
	}
}

func (f *fixture) resolve(t *testing.T, sc *definition.Scenario, raw definition.RawStep) (*definition.Step, error) {
	t.Helper()
	if _, err := raw.Classify(); err != nil {
		t.Fatalf("classify: %v", err)
	}
	return f.resolver.Resolve(raw, &services.ResolveContext{File: f.file, Scenario: sc, Tracking: f.tracking})
}

func (f *fixture) mustResolve(t *testing.T, sc *definition.Scenario, raw definition.RawStep) *definition.Step {
	t.Helper()
	step, err := f.resolve(t, sc, raw)
	if err != nil {
		t.Fatalf("resolve %q: %v", raw.Step, err)
	}
	return step
}

func TestResolver_ExampleBinding(t *testing.T) {
	f := newFixture(t)
	sc := &definition.Scenario{}

	step := f.mustResolve(t, sc, definition.RawStep{
		Step: "create", ExampleFile: "examples/VM_Create.json", ResourceName: "vm",
		OutputVariables: map[string]definition.RawOutputVariable{"vmId": {FromResponse: "/id"}},
	})

	rc := step.RestCall
	if step.Kind != definition.KindRestCall || rc.Operation.ID != "VirtualMachines_CreateOrUpdate" {
		t.Fatalf("unexpected binding: %+v", rc)
	}
	if rc.ExampleName != "Create a vm" || rc.StatusCode != 200 {
		t.Errorf("unexpected example name/status: %q %d", rc.ExampleName, rc.StatusCode)
	}
	if rc.ResourceType != "Microsoft.Compute/virtualMachines" {
		t.Errorf("unexpected resource type %q", rc.ResourceType)
	}
	if rc.RequestParameters["vmName"] != "vm1" {
		t.Errorf("expected request parameters from example, got %v", rc.RequestParameters)
	}
	body, _ := rc.ExpectedResponse.(map[string]any)
	if body["location"] != "westus" {
		t.Errorf("expected 200 response body, got %v", rc.ExpectedResponse)
	}
	if rc.OutputVariables["vmId"].FromResponse != "/id" {
		t.Errorf("expected output variable mapping, got %v", rc.OutputVariables)
	}
	if step.IsPrepareStep {
		t.Error("scenario step must not be marked as prepare step")
	}
}

func TestResolver_ExampleStatusCodeSelectsResponse(t *testing.T) {
	f := newFixture(t)
	step := f.mustResolve(t, &definition.Scenario{}, definition.RawStep{Step: "create", ExampleFile: "examples/VM_Create.json", StatusCode: 201})
	if diff := cmp.Diff(map[string]any{"name": "vm1"}, step.RestCall.ExpectedResponse); diff != "" {
		t.Errorf("expected 201 body (-want +got):\n%s", diff)
	}
}

func TestResolver_UnboundExample(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolve(t, &definition.Scenario{}, definition.RawStep{Step: "x", ExampleFile: "examples/Unknown.json"})
	if !errors.Is(err, errs.ErrUnboundExample) || !errs.IsKind(err, errs.KindResolution) {
		t.Fatalf("expected unbound resolution error, got %v", err)
	}
	if errs.StepOf(err) != "x" {
		t.Errorf("expected error to name the step, got %q", errs.StepOf(err))
	}
}

func TestResolver_ResourceUpdateEndToEnd(t *testing.T) {
	f := newFixture(t)
	sc := &definition.Scenario{}

	first := f.mustResolve(t, sc, definition.RawStep{Step: "create", ExampleFile: "examples/VM_Create.json", ResourceName: "vm"})
	second := f.mustResolve(t, sc, definition.RawStep{
		Step: "update", ResourceName: "vm",
		ResourceUpdate: []map[string]any{{"replace": "/properties/osProfile/adminUsername", "value": "newadmin"}},
	})

	rc := second.RestCall
	if rc.Operation != first.RestCall.Operation || rc.ExampleName != first.RestCall.ExampleName || rc.FromStep != "create" {
		t.Fatalf("expected binding inherited from create, got op=%s example=%q from=%q", rc.Operation.ID, rc.ExampleName, rc.FromStep)
	}

	wantBody := map[string]any{
		"location": "westus",
		"properties": map[string]any{
			"osProfile": map[string]any{"adminUsername": "newadmin", "adminPassword": "pw"},
		},
	}
	if diff := cmp.Diff(wantBody, rc.RequestParameters["parameters"]); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
	if rc.RequestParameters["vmName"] != "vm1" {
		t.Errorf("expected non-body parameters inherited, got %v", rc.RequestParameters)
	}

	wantResp := map[string]any{
		"id":       "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/vm1",
		"location": "westus",
		"properties": map[string]any{
			"osProfile":         map[string]any{"adminUsername": "newadmin"},
			"provisioningState": "Succeeded",
		},
	}
	if diff := cmp.Diff(wantResp, rc.ExpectedResponse); diff != "" {
		t.Errorf("expected response mismatch (-want +got):\n%s", diff)
	}

	origBody := first.RestCall.RequestParameters["parameters"].(map[string]any)
	if origBody["properties"].(map[string]any)["osProfile"].(map[string]any)["adminUsername"] != "admin" {
		t.Error("patch leaked into the producing step")
	}
}

func TestResolver_InheritsWithExplicitOperation(t *testing.T) {
	f := newFixture(t)
	if err := f.catalog.Add(&catalog.Operation{ID: "VirtualMachines_Replace", Method: "PUT", Path: vmPath, Parameters: vmParams()}); err != nil {
		t.Fatalf("catalog add: %v", err)
	}
	sc := &definition.Scenario{}
	f.mustResolve(t, sc, definition.RawStep{Step: "create", ExampleFile: "examples/VM_Create.json", ResourceName: "vm"})
	step := f.mustResolve(t, sc, definition.RawStep{Step: "replace", ResourceName: "vm", OperationID: "VirtualMachines_Replace"})

	if step.RestCall.Operation.ID != "VirtualMachines_Replace" || step.RestCall.OperationID != "VirtualMachines_Replace" {
		t.Errorf("expected explicit operation, got %s", step.RestCall.Operation.ID)
	}
	if step.RestCall.RequestParameters["vmName"] != "vm1" {
		t.Error("expected request parameters copied from producer")
	}
}

func TestResolver_InheritRejectsNonPutOperation(t *testing.T) {
	f := newFixture(t)
	sc := &definition.Scenario{}
	f.mustResolve(t, sc, definition.RawStep{Step: "create", ExampleFile: "examples/VM_Create.json", ResourceName: "vm"})

	_, err := f.resolve(t, sc, definition.RawStep{Step: "patch", ResourceName: "vm", OperationID: "VirtualMachines_Update"})
	if !errors.Is(err, errs.ErrNotFound) || !errs.IsKind(err, errs.KindResolution) {
		t.Fatalf("expected not-found resolution error for a PATCH operation, got %v", err)
	}
	if errs.StepOf(err) != "patch" {
		t.Errorf("expected error to name the step, got %q", errs.StepOf(err))
	}
}

func TestResolver_OperationIDSelectsAmongSharedExample(t *testing.T) {
	f := newFixture(t)
	shared := &catalog.Operation{
		ID: "VirtualMachines_CreateOrUpdate2", Method: "PUT", Path: vmPath, Parameters: vmParams(),
		Examples: map[string]string{"Create a vm again": "/defs/examples/VM_Create.json"},
	}
	if err := f.catalog.Add(shared); err != nil {
		t.Fatalf("catalog add: %v", err)
	}
	sc := &definition.Scenario{}

	if _, err := f.resolve(t, sc, definition.RawStep{Step: "ambiguous", ExampleFile: "examples/VM_Create.json"}); !errors.Is(err, errs.ErrAmbiguousExample) {
		t.Fatalf("expected ambiguous example without an operationId, got %v", err)
	}

	step := f.mustResolve(t, sc, definition.RawStep{
		Step: "create", ExampleFile: "examples/VM_Create.json", OperationID: "VirtualMachines_CreateOrUpdate2",
	})
	if step.RestCall.Operation != shared || step.RestCall.ExampleName != "Create a vm again" {
		t.Errorf("expected binding to the named operation, got %s %q", step.RestCall.Operation.ID, step.RestCall.ExampleName)
	}
}

func TestResolver_OperationIDMustDeclareExample(t *testing.T) {
	f := newFixture(t)
	sc := &definition.Scenario{}

	_, err := f.resolve(t, sc, definition.RawStep{Step: "get", ExampleFile: "examples/VM_Create.json", OperationID: "VirtualMachines_Get"})
	if !errors.Is(err, errs.ErrUnboundExample) || !errs.IsKind(err, errs.KindResolution) {
		t.Fatalf("expected unbound example for an operation not declaring it, got %v", err)
	}

	_, err = f.resolve(t, sc, definition.RawStep{Step: "missing", ExampleFile: "examples/VM_Create.json", OperationID: "Nope"})
	if !errors.Is(err, errs.ErrOperationNotFound) {
		t.Fatalf("expected unknown operation, got %v", err)
	}
}

func TestResolver_RequestUpdateMustKeepObject(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolve(t, &definition.Scenario{}, definition.RawStep{
		Step: "create", ExampleFile: "examples/VM_Create.json",
		RequestUpdate: []map[string]any{{"op": "replace", "path": "", "value": []any{"not", "an", "object"}}},
	})
	if !errors.Is(err, errs.ErrPatchFailed) || !errs.IsKind(err, errs.KindResolution) {
		t.Fatalf("expected patch resolution error, got %v", err)
	}
}

func TestResolver_ProducerErrors(t *testing.T) {
	t.Run("never produced", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolve(t, &definition.Scenario{}, definition.RawStep{Step: "u", ResourceName: "ghost"})
		if !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
	t.Run("last producer not PUT", func(t *testing.T) {
		f := newFixture(t)
		sc := &definition.Scenario{}
		f.mustResolve(t, sc, definition.RawStep{Step: "get", ExampleFile: "examples/VM_Get.json", ResourceName: "vm"})
		_, err := f.resolve(t, sc, definition.RawStep{Step: "u", ResourceName: "vm"})
		if !errors.Is(err, errs.ErrNotFound) || !errs.IsKind(err, errs.KindResolution) {
			t.Fatalf("expected not-found resolution error, got %v", err)
		}
	})
	t.Run("later producer overrides earlier", func(t *testing.T) {
		f := newFixture(t)
		sc := &definition.Scenario{}
		f.mustResolve(t, sc, definition.RawStep{Step: "create", ExampleFile: "examples/VM_Create.json", ResourceName: "vm"})
		f.mustResolve(t, sc, definition.RawStep{Step: "get", ExampleFile: "examples/VM_Get.json", ResourceName: "vm"})
		if _, err := f.resolve(t, sc, definition.RawStep{Step: "u", ResourceName: "vm"}); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("expected GET producer to shadow PUT, got %v", err)
		}
	})
}

func TestResolver_DuplicateStepNames(t *testing.T) {
	f := newFixture(t)
	f.mustResolve(t, nil, definition.RawStep{Step: "prep", ExampleFile: "examples/VM_Get.json"})

	f.tracking.EnterScenario()
	sc1 := &definition.Scenario{}
	f.mustResolve(t, sc1, definition.RawStep{Step: "get", ExampleFile: "examples/VM_Get.json"})
	if _, err := f.resolve(t, sc1, definition.RawStep{Step: "get", ExampleFile: "examples/VM_Get.json"}); !errors.Is(err, errs.ErrDuplicateStep) {
		t.Fatalf("expected ErrDuplicateStep within scenario, got %v", err)
	}

	f.tracking.EnterScenario()
	sc2 := &definition.Scenario{}
	f.mustResolve(t, sc2, definition.RawStep{Step: "get", ExampleFile: "examples/VM_Get.json"})
	if _, err := f.resolve(t, sc2, definition.RawStep{Step: "prep", ExampleFile: "examples/VM_Get.json"}); !errors.Is(err, errs.ErrDuplicateStep) {
		t.Fatalf("expected clash with prepare step, got %v", err)
	}
}

const template = `{
  "parameters": {
    "storageName": {"type": "string"},
    "sku": {"type": "String", "defaultValue": "Standard_LRS"},
    "count": {"type": "int"},
    "userName": {"type": "string"}
  },
  "outputs": {"storageId": {"type": "string", "value": "[resourceId('x')]"}}
}`

func TestResolver_ArmTemplateInfersRequiredVariables(t *testing.T) {
	f := newFixture(t)
	f.fs.Files["/defs/templates/storage.json"] = []byte(template)
	f.fs.Files["/defs/templates/storage.parameters.json"] = []byte(`{"parameters": {"count": {"value": 2}, "userName": {"value": "u"}}}`)
	sc := &definition.Scenario{RequiredVariables: []string{"location"}}

	step := f.mustResolve(t, sc, definition.RawStep{
		Step:                  "deploy",
		ArmTemplateDeployment: "templates/storage.json",
		ArmTemplateParameters: "templates/storage.parameters.json",
	})

	if diff := cmp.Diff([]string{"location", "storageName"}, sc.RequiredVariables); diff != "" {
		t.Errorf("required variables mismatch (-want +got):\n%s", diff)
	}
	if len(f.file.RequiredVariables) != 0 {
		t.Errorf("scenario step must not touch file-level required variables, got %v", f.file.RequiredVariables)
	}
	if diff := cmp.Diff([]string{"storageId"}, step.ArmTemplate.Outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
	if len(step.ArmTemplate.Declared) != 4 {
		t.Errorf("expected 4 declared parameters, got %d", len(step.ArmTemplate.Declared))
	}
}

func TestResolver_ArmTemplatePrepareStepAddsFileRequired(t *testing.T) {
	f := newFixture(t)
	f.fs.Files["/defs/t.json"] = []byte(`{"parameters": {"name": {"type": "string"}}}`)

	step := f.mustResolve(t, nil, definition.RawStep{Step: "deploy", ArmTemplateDeployment: "t.json"})
	if !step.IsPrepareStep {
		t.Error("expected prepare step")
	}
	if diff := cmp.Diff([]string{"name"}, f.file.RequiredVariables); diff != "" {
		t.Errorf("file required mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_ArmTemplateUnsupportedParameterType(t *testing.T) {
	f := newFixture(t)
	f.fs.Files["/defs/t.json"] = []byte(`{"parameters": {"count": {"type": "int"}}}`)

	_, err := f.resolve(t, &definition.Scenario{}, definition.RawStep{Step: "deploy", ArmTemplateDeployment: "t.json"})
	if !errors.Is(err, errs.ErrUnsupportedParameterType) {
		t.Fatalf("expected ErrUnsupportedParameterType, got %v", err)
	}
}

func TestResolver_RawCallDefaults(t *testing.T) {
	f := newFixture(t)
	step := f.mustResolve(t, &definition.Scenario{}, definition.RawStep{RawURL: "https://example.test/{{id}}"})

	if step.RawCall.Method != "GET" || step.RawCall.StatusCode != 200 {
		t.Errorf("unexpected defaults: %+v", step.RawCall)
	}
	if step.Name != "raw_get_1" {
		t.Errorf("expected generated name raw_get_1, got %q", step.Name)
	}
}

func TestResolver_NamelessRestCallRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolve(t, &definition.Scenario{}, definition.RawStep{ExampleFile: "examples/VM_Get.json"})
	if !errs.IsKind(err, errs.KindDefinition) {
		t.Fatalf("expected definition error, got %v", err)
	}
}
