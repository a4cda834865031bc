package usecases

import (
	"context"
	"fmt"

	"github.com/sophialabs/apiscenario/internal/domain/catalog"
	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
	"github.com/sophialabs/apiscenario/internal/infrastructure/services"
)

// LoadResult is one resolved definition file with the catalog it was bound to.
type LoadResult struct {
	File     *definition.File
	Catalog  *catalog.Catalog
	Coverage services.Coverage
}

// LoadDefinitionUseCase loads definition documents and resolves them into
// scenario graphs.
type LoadDefinitionUseCase struct {
	repo     definition.Repository
	catalogs ports.CatalogSource
	fs       ports.FileSystem
	logger   ports.Logger
}

// NewLoadDefinitionUseCase creates a new use case.
func NewLoadDefinitionUseCase(repo definition.Repository, catalogs ports.CatalogSource, fs ports.FileSystem, logger ports.Logger) *LoadDefinitionUseCase {
	return &LoadDefinitionUseCase{repo: repo, catalogs: catalogs, fs: fs, logger: logger}
}

// Execute loads and resolves the definition at path.
func (uc *LoadDefinitionUseCase) Execute(ctx context.Context, path string) (*LoadResult, error) {
	cat, err := uc.catalogs.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build operation catalog: %w", err)
	}
	return uc.load(ctx, cat, path)
}

// ExecuteAll loads every definition in the repository against one catalog.
func (uc *LoadDefinitionUseCase) ExecuteAll(ctx context.Context) ([]*LoadResult, error) {
	paths, err := uc.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	cat, err := uc.catalogs.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build operation catalog: %w", err)
	}

	results := make([]*LoadResult, 0, len(paths))
	for _, p := range paths {
		res, err := uc.load(ctx, cat, p)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	uc.logger.Info("loaded definitions", "count", len(results), "operations", cat.Len())
	return results, nil
}

func (uc *LoadDefinitionUseCase) load(ctx context.Context, cat *catalog.Catalog, path string) (*LoadResult, error) {
	raw, err := uc.repo.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	file, err := ResolveFile(path, raw, services.NewStepResolver(cat, uc.fs))
	if err != nil {
		return nil, err
	}

	cov := services.ComputeCoverage(cat, file)
	steps := len(file.PrepareSteps)
	for _, sc := range file.Scenarios {
		steps += len(sc.Steps)
	}
	uc.logger.Info("definition resolved",
		"file", path,
		"scenarios", len(file.Scenarios),
		"steps", steps,
		"coverage", fmt.Sprintf("%d/%d", cov.Covered, cov.Total))

	return &LoadResult{File: file, Catalog: cat, Coverage: cov}, nil
}

// ResolveFile builds the scenario graph of raw: prepare steps are resolved
// once and prefix every scenario's resolved steps.
func ResolveFile(path string, raw *definition.RawFile, resolver *services.StepResolver) (*definition.File, error) {
	file := &definition.File{
		Path:              path,
		Scope:             raw.Scope,
		RequiredVariables: definition.AddRequired(nil, raw.RequiredVariables...),
		Variables:         raw.Variables,
	}
	if file.Scope == "" {
		file.Scope = definition.ScopeResourceGroup
	}
	if file.IsResourceGroupScoped() {
		file.RequiredVariables = definition.AddRequired(file.RequiredVariables, "subscriptionId", "location")
	}

	tracking := services.NewTracking()
	for _, rs := range raw.PrepareSteps {
		step, err := resolver.Resolve(rs, &services.ResolveContext{File: file, Tracking: tracking})
		if err != nil {
			return nil, err
		}
		file.PrepareSteps = append(file.PrepareSteps, step)
	}

	for _, rsc := range raw.TestScenarios {
		sc := &definition.Scenario{
			Description:       rsc.Description,
			ShareScope:        rsc.ShareTestScope == nil || *rsc.ShareTestScope,
			Variables:         rsc.Variables,
			RequiredVariables: definition.AddRequired(append([]string(nil), file.RequiredVariables...), rsc.RequiredVariables...),
		}
		tracking.EnterScenario()
		for _, rs := range rsc.Steps {
			step, err := resolver.Resolve(rs, &services.ResolveContext{File: file, Scenario: sc, Tracking: tracking})
			if err != nil {
				return nil, err
			}
			sc.Steps = append(sc.Steps, step)
		}
		sc.ResolvedSteps = make([]*definition.Step, 0, len(file.PrepareSteps)+len(sc.Steps))
		sc.ResolvedSteps = append(sc.ResolvedSteps, file.PrepareSteps...)
		sc.ResolvedSteps = append(sc.ResolvedSteps, sc.Steps...)
		file.Scenarios = append(file.Scenarios, sc)
	}
	return file, nil
}
