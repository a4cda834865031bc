package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/domain/runner"
	"github.com/sophialabs/apiscenario/internal/domain/variables"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
	"github.com/sophialabs/apiscenario/internal/infrastructure/services"
)

// Well-known variables.
const (
	VarSubscriptionID    = "subscriptionId"
	VarResourceGroupName = "resourceGroupName"
	VarLocation          = "location"
)

// RunOptions selects and bounds one run of a definition file.
type RunOptions struct {
	RunID string
	Env   map[string]any
	// Scenarios holds indexes into File.Scenarios; empty runs all of them.
	Scenarios   []int
	SkipCleanup bool
	// From and To bound a partial replay by step name, inclusive.
	From string
	To   string
}

// Bounded reports whether the run replays a step range.
func (o RunOptions) Bounded() bool { return o.From != "" || o.To != "" }

// StepReport is the outcome of one executed step.
type StepReport struct {
	Scenario   string         `json:"scenario"`
	Step       string         `json:"step"`
	Kind       string         `json:"kind"`
	StatusCode int            `json:"statusCode,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Error      string         `json:"error,omitempty"`
}

// RunReport summarizes a run.
type RunReport struct {
	RunID          string       `json:"runId"`
	File           string       `json:"file"`
	Steps          []StepReport `json:"steps"`
	ResourceGroups []string     `json:"resourceGroups,omitempty"`
	CleanupErrors  []string     `json:"cleanupErrors,omitempty"`
}

// RunScenarioUseCase sequences a definition's scenarios through a runner client.
type RunScenarioUseCase struct {
	client    runner.Client
	snapshots ports.SnapshotStore
	assertion ports.StatusAssertion
	namer     ports.Namer
	clock     ports.Clock
	logger    ports.Logger
}

// NewRunScenarioUseCase creates a new use case. snapshots and assertion may be nil.
func NewRunScenarioUseCase(
	client runner.Client,
	snapshots ports.SnapshotStore,
	assertion ports.StatusAssertion,
	namer ports.Namer,
	clock ports.Clock,
	logger ports.Logger,
) *RunScenarioUseCase {
	return &RunScenarioUseCase{
		client:    client,
		snapshots: snapshots,
		assertion: assertion,
		namer:     namer,
		clock:     clock,
		logger:    logger,
	}
}

type resourceGroup struct {
	subscriptionID string
	name           string
}

// run is the mutable state of one Execute call.
type run struct {
	uc       *RunScenarioUseCase
	file     *definition.File
	opts     RunOptions
	report   *RunReport
	shared   *variables.Scope
	prepared bool
	groups   []resourceGroup
}

// Execute runs the selected scenarios of file in order. Required variables of
// every selected scenario are checked before any request is sent.
func (uc *RunScenarioUseCase) Execute(ctx context.Context, file *definition.File, opts RunOptions) (*RunReport, error) {
	if opts.RunID == "" {
		opts.RunID = uc.namer.RunID(uc.clock.Now())
	}
	selected, err := selectScenarios(file, opts.Scenarios)
	if err != nil {
		return nil, err
	}

	r := &run{
		uc:     uc,
		file:   file,
		opts:   opts,
		report: &RunReport{RunID: opts.RunID, File: file.Path},
	}

	scopes := make([]*variables.Scope, len(selected))
	for i, idx := range selected {
		sc := file.Scenarios[idx]
		scope, err := r.initialScope(ctx, idx, sc)
		if err != nil {
			return nil, err
		}
		if missing := scope.Missing(sc.RequiredVariables); len(missing) > 0 {
			return nil, errs.Variable(scenarioKey(idx, sc), missing)
		}
		scopes[i] = scope
	}

	uc.logger.Info("run started", "run", opts.RunID, "file", file.Path, "scenarios", len(selected))

	var runErrs []error
	for i, idx := range selected {
		if err := r.runScenario(ctx, idx, file.Scenarios[idx], scopes[i]); err != nil {
			uc.logger.Error("scenario failed", "scenario", scenarioKey(idx, file.Scenarios[idx]), "error", err)
			runErrs = append(runErrs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	r.cleanup(ctx)
	uc.logger.Info("run finished", "run", opts.RunID, "steps", len(r.report.Steps), "failed", len(runErrs))
	return r.report, errors.Join(runErrs...)
}

func selectScenarios(file *definition.File, indexes []int) ([]int, error) {
	if len(indexes) == 0 {
		all := make([]int, len(file.Scenarios))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	for _, i := range indexes {
		if i < 0 || i >= len(file.Scenarios) {
			return nil, fmt.Errorf("scenario index %d out of range (file has %d)", i, len(file.Scenarios))
		}
	}
	return indexes, nil
}

func scenarioKey(idx int, sc *definition.Scenario) string {
	if sc.Description != "" {
		return sc.Description
	}
	return fmt.Sprintf("scenario_%d", idx)
}

// initialScope layers file variables, scenario variables, a replay snapshot
// and explicit env values, later layers winning.
func (r *run) initialScope(ctx context.Context, idx int, sc *definition.Scenario) (*variables.Scope, error) {
	scope := variables.FromMap(r.file.Variables)
	scope.SetBatch(sc.Variables)

	if r.opts.From != "" && hasStep(sc, r.opts.From) {
		if r.uc.snapshots == nil {
			return nil, fmt.Errorf("replay from %q requires a snapshot store", r.opts.From)
		}
		snap, err := r.uc.snapshots.Latest(ctx, r.file.Path, scenarioKey(idx, sc), r.opts.From)
		if err != nil {
			return nil, fmt.Errorf("failed to restore variables before step %q: %w", r.opts.From, err)
		}
		scope.SetBatch(snap.Variables)
	}

	scope.SetBatch(r.opts.Env)
	return scope, nil
}

func hasStep(sc *definition.Scenario, name string) bool {
	for _, s := range sc.ResolvedSteps {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (r *run) runScenario(ctx context.Context, idx int, sc *definition.Scenario, scope *variables.Scope) error {
	key := scenarioKey(idx, sc)
	steps := sc.ResolvedSteps

	if sc.ShareScope {
		if r.shared != nil {
			r.shared.SetBatch(sc.Variables)
			r.shared.SetBatch(r.opts.Env)
			scope = r.shared
		} else {
			r.shared = scope
		}
		if r.prepared {
			steps = sc.Steps
		}
	}

	if err := r.ensureResourceGroup(ctx, scope); err != nil {
		return err
	}

	started := r.opts.From == ""
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !started {
			if step.Name != r.opts.From {
				continue
			}
			started = true
		}

		report, err := r.executeStep(ctx, key, step, scope)
		r.report.Steps = append(r.report.Steps, report)
		if err != nil {
			return err
		}
		if r.opts.To != "" && step.Name == r.opts.To {
			break
		}
	}
	if sc.ShareScope {
		r.prepared = true
	}
	return nil
}

func (r *run) ensureResourceGroup(ctx context.Context, scope *variables.Scope) error {
	if !r.file.IsResourceGroupScoped() {
		return nil
	}
	if name, ok := scope.GetString(VarResourceGroupName); ok && (r.opts.Bounded() || r.created(name)) {
		return nil
	}

	sub, _ := scope.GetString(VarSubscriptionID)
	location, _ := scope.GetString(VarLocation)
	name, ok := scope.GetString(VarResourceGroupName)
	if !ok {
		vars := scope.Snapshot()
		vars["runId"] = r.opts.RunID
		var err error
		if name, err = r.uc.namer.ResourceGroupName(vars); err != nil {
			return fmt.Errorf("failed to name resource group: %w", err)
		}
		scope.Set(VarResourceGroupName, name)
	}
	if r.opts.Bounded() {
		return nil
	}

	r.uc.logger.Info("creating resource group", "name", name, "location", location)
	if err := r.uc.client.CreateResourceGroup(ctx, sub, name, location); err != nil {
		return errs.Runtime("createResourceGroup", err)
	}
	r.groups = append(r.groups, resourceGroup{subscriptionID: sub, name: name})
	r.report.ResourceGroups = append(r.report.ResourceGroups, name)
	return nil
}

func (r *run) created(name string) bool {
	for _, g := range r.groups {
		if g.name == name {
			return true
		}
	}
	return false
}

func (r *run) executeStep(ctx context.Context, scenario string, step *definition.Step, scope *variables.Scope) (StepReport, error) {
	report := StepReport{Scenario: scenario, Step: step.Name, Kind: step.Kind.String()}
	started := r.uc.clock.Now()
	r.saveSnapshot(ctx, scenario, step, scope)

	env := scope.Clone()
	if vars, ok := scope.ResolveValue(step.Variables).(map[string]any); ok {
		env.SetBatch(vars)
	}

	r.uc.logger.Debug("executing step", "scenario", scenario, "step", step.Name, "kind", step.Kind.String())
	result, err := r.dispatch(ctx, step, scope, env)
	report.Duration = r.uc.clock.Now().Sub(started)
	if result != nil {
		report.StatusCode = result.StatusCode
		report.Outputs = result.Outputs
	}
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	r.uc.logger.Info("step completed", "scenario", scenario, "step", step.Name, "status", report.StatusCode)
	return report, nil
}

func (r *run) dispatch(ctx context.Context, step *definition.Step, scope, env *variables.Scope) (*runner.StepResult, error) {
	switch step.Kind {
	case definition.KindRestCall:
		return r.restCall(ctx, step, scope, env)
	case definition.KindArmTemplate:
		return r.armTemplate(ctx, step, scope, env)
	case definition.KindRawCall:
		return r.rawCall(ctx, step, env)
	default:
		return nil, errs.Runtime(step.Name, errs.ErrUnknownStepShape)
	}
}

func (r *run) restCall(ctx context.Context, step *definition.Step, scope, env *variables.Scope) (*runner.StepResult, error) {
	req, err := services.BuildRequest(step.RestCall, env)
	if err != nil {
		return nil, errs.Runtime(step.Name, err)
	}
	result, err := r.uc.client.SendExampleRequest(ctx, req, step, env)
	if err != nil {
		return nil, errs.Runtime(step.Name, err)
	}
	if err := r.check(step.Name, result.StatusCode, step.RestCall.StatusCode); err != nil {
		return result, err
	}

	outputs, err := services.EvaluateOutputs(result.Body, step.RestCall.OutputVariables)
	if err != nil {
		return result, errs.Runtime(step.Name, err)
	}
	scope.SetBatch(outputs)
	if len(outputs) > 0 {
		result.Outputs = outputs
	}
	return result, nil
}

func (r *run) armTemplate(ctx context.Context, step *definition.Step, scope, env *variables.Scope) (*runner.StepResult, error) {
	tpl := step.ArmTemplate
	sub, _ := env.GetString(VarSubscriptionID)
	rg, _ := env.GetString(VarResourceGroupName)
	tracking := runner.DeploymentTracking{SubscriptionID: sub, ResourceGroup: rg, DeploymentName: step.Name}

	template, _ := services.DeepCopy(tpl.Template).(map[string]any)
	result, err := r.uc.client.SendArmTemplateDeployment(ctx, template, ArmParameters(tpl, env), tracking, step, env)
	if err != nil {
		return nil, errs.Runtime(step.Name, err)
	}
	if err := r.check(step.Name, result.StatusCode, 0); err != nil {
		return result, err
	}
	scope.SetBatch(result.Outputs)
	return result, nil
}

func (r *run) rawCall(ctx context.Context, step *definition.Step, env *variables.Scope) (*runner.StepResult, error) {
	call := step.RawCall
	req := runner.ClientRequest{
		Method:  call.Method,
		Path:    env.ResolvePath(call.URL),
		Headers: make(map[string]string, len(call.Headers)),
		Body:    env.ResolveValue(call.Body),
	}
	for k, v := range call.Headers {
		req.Headers[k] = env.Resolve(v)
	}
	result, err := r.uc.client.SendRawRequest(ctx, req, step, env)
	if err != nil {
		return nil, errs.Runtime(step.Name, err)
	}
	if result.StatusCode != call.StatusCode {
		return result, errs.Runtime(step.Name, fmt.Errorf("%w: got %d, want %d", errs.ErrUnexpectedStatus, result.StatusCode, call.StatusCode))
	}
	return result, nil
}

func (r *run) check(step string, status, expected int) error {
	if r.uc.assertion == nil {
		return nil
	}
	if err := r.uc.assertion.Check(step, status, expected); err != nil {
		return errs.Runtime(step, err)
	}
	return nil
}

func (r *run) saveSnapshot(ctx context.Context, scenario string, step *definition.Step, scope *variables.Scope) {
	if r.uc.snapshots == nil {
		return
	}
	err := r.uc.snapshots.Save(ctx, ports.Snapshot{
		RunID:     r.opts.RunID,
		File:      r.file.Path,
		Scenario:  scenario,
		Step:      step.Name,
		Variables: scope.Snapshot(),
		CreatedAt: r.uc.clock.Now(),
	})
	if err != nil {
		r.uc.logger.Warn("failed to save variable snapshot", "step", step.Name, "error", err)
	}
}

// cleanup deletes the resource groups created by the run. Failures are
// logged and never returned.
func (r *run) cleanup(ctx context.Context) {
	if len(r.groups) == 0 {
		return
	}
	if r.opts.SkipCleanup || r.opts.Bounded() {
		r.uc.logger.Info("skipping cleanup", "resourceGroups", len(r.groups))
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, g := range r.groups {
		r.uc.logger.Info("deleting resource group", "name", g.name)
		if err := r.uc.client.DeleteResourceGroup(ctx, g.subscriptionID, g.name); err != nil {
			r.uc.logger.Warn("cleanup failed", "name", g.name, "error", err)
			r.report.CleanupErrors = append(r.report.CleanupErrors, fmt.Sprintf("%s: %v", g.name, err))
		}
	}
}

// ArmParameters builds the deployment parameters of tpl. Supplied values are
// resolved against env; declared parameters without a default or supplied
// value are taken from env.
func ArmParameters(tpl *definition.ArmTemplate, env *variables.Scope) map[string]any {
	params := make(map[string]any, len(tpl.Declared))
	for name, v := range tpl.Parameters {
		params[name] = env.ResolveValue(v)
	}
	for _, p := range tpl.Declared {
		if _, ok := params[p.Name]; ok || p.HasDefault {
			continue
		}
		if v, ok := env.Get(p.Name); ok {
			params[p.Name] = map[string]any{"value": v}
		}
	}
	return params
}
