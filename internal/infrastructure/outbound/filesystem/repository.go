package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

var _ definition.Repository = (*DefinitionRepository)(nil)

// DefinitionRepository loads definition documents from YAML files in a
// directory tree.
type DefinitionRepository struct {
	rootDir   string
	fs        ports.FileSystem
	includer  *Includer
	validator *SchemaValidator
}

// NewDefinitionRepository creates a repository rooted at rootDir.
func NewDefinitionRepository(rootDir string, fsys ports.FileSystem) (*DefinitionRepository, error) {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionRepository{
		rootDir:   absRoot,
		fs:        fsys,
		includer:  NewIncluder(absRoot, fsys),
		validator: validator,
	}, nil
}

// Root returns the absolute repository root.
func (r *DefinitionRepository) Root() string { return r.rootDir }

// List walks the root directory for YAML documents with a top-level
// testScenarios key. Fragments meant for inclusion are skipped.
func (r *DefinitionRepository) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(r.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isYAMLFile(path) {
			return nil
		}
		ok, err := r.isDefinition(path)
		if err != nil {
			return errs.Definition(path, err)
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk definitions directory: %w", err)
	}
	slices.Sort(paths)
	return paths, nil
}

func (r *DefinitionRepository) isDefinition(path string) (bool, error) {
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return false, err
	}
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		// Not a mapping document; cannot be a definition.
		return false, nil
	}
	_, ok := top["testScenarios"]
	return ok, nil
}

// Load parses, expands, validates and classifies the document at path.
// Relative paths are taken from the repository root.
func (r *DefinitionRepository) Load(_ context.Context, path string) (*definition.RawFile, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.rootDir, path)
	}
	if err := withinRoot(r.rootDir, path); err != nil {
		return nil, errs.Definition(path, err)
	}

	raw, err := r.decode(path)
	if err != nil {
		return nil, errs.Definition(path, err)
	}
	return raw, nil
}

func (r *DefinitionRepository) decode(path string) (*definition.RawFile, error) {
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	if err := r.includer.Expand(&root, path); err != nil {
		return nil, fmt.Errorf("failed to resolve includes: %w", err)
	}

	var doc any
	if err := root.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if err := r.validator.Validate(doc); err != nil {
		return nil, err
	}

	var raw definition.RawFile
	if err := root.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	if err := raw.ClassifyAll(); err != nil {
		return nil, err
	}
	return &raw, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
