// Package openapi builds the operation catalog from Swagger 2.0 documents.
package openapi

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-openapi/jsonpointer"
	"gopkg.in/yaml.v3"

	"github.com/sophialabs/apiscenario/internal/domain/catalog"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

const (
	extExamples       = "x-ms-examples"
	extLongRunning    = "x-ms-long-running-operation"
	extLongRunningOpt = "x-ms-long-running-operation-options"
	extPaths          = "x-ms-paths"

	// maxRefDepth bounds schema inlining; recursive models are cut off below it.
	maxRefDepth = 32
)

var methods = []string{"get", "put", "post", "patch", "delete", "head", "options"}

var _ ports.CatalogSource = (*Loader)(nil)

// Loader reads API specification files and indexes their operations.
type Loader struct {
	paths  []string
	fs     ports.FileSystem
	logger ports.Logger
}

// NewLoader creates a loader over paths. A directory path is walked for JSON
// and YAML documents carrying a top-level "swagger" key.
func NewLoader(paths []string, fsys ports.FileSystem, logger ports.Logger) *Loader {
	return &Loader{paths: paths, fs: fsys, logger: logger}
}

// Load builds a fresh catalog.
func (l *Loader) Load(ctx context.Context) (*catalog.Catalog, error) {
	files, err := l.specFiles(ctx)
	if err != nil {
		return nil, err
	}

	cat := catalog.New()
	docs := newDocumentSet(l.fs)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.loadSpec(cat, docs, f); err != nil {
			return nil, errs.Definition(f, err)
		}
	}
	l.logger.Info("operation catalog built", "specs", len(files), "operations", cat.Len())
	return cat, nil
}

func (l *Loader) specFiles(ctx context.Context) ([]string, error) {
	var files []string
	for _, p := range l.paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "examples" {
					return filepath.SkipDir
				}
				return nil
			}
			if isSpecCandidate(path) && l.isSpec(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk specification directory %s: %w", p, err)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

func isSpecCandidate(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func (l *Loader) isSpec(path string) bool {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		return false
	}
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return false
	}
	_, ok := top["swagger"]
	return ok
}

func (l *Loader) loadSpec(cat *catalog.Catalog, docs *documentSet, file string) error {
	file = catalog.NormalizePath(file)
	root, err := docs.get(file)
	if err != nil {
		return err
	}
	spec, ok := root.(map[string]any)
	if !ok {
		return fmt.Errorf("specification is not an object")
	}
	basePath := strings.TrimSuffix(str(spec["basePath"]), "/")

	for _, section := range []string{"paths", extPaths} {
		paths, _ := spec[section].(map[string]any)
		for _, tmpl := range sortedKeys(paths) {
			item, _, err := docs.deref(paths[tmpl], file)
			if err != nil {
				return fmt.Errorf("%s %s: %w", section, tmpl, err)
			}
			pathItem, _ := item.(map[string]any)
			if err := l.loadPath(cat, docs, file, basePath+tmpl, pathItem); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loader) loadPath(cat *catalog.Catalog, docs *documentSet, file, tmpl string, item map[string]any) error {
	shared, err := l.parameters(docs, file, item["parameters"])
	if err != nil {
		return fmt.Errorf("path %s: %w", tmpl, err)
	}

	for _, method := range methods {
		raw, ok := item[method].(map[string]any)
		if !ok {
			continue
		}
		own, err := l.parameters(docs, file, raw["parameters"])
		if err != nil {
			return fmt.Errorf("%s %s: %w", strings.ToUpper(method), tmpl, err)
		}

		op := &catalog.Operation{
			ID:         str(raw["operationId"]),
			Method:     strings.ToUpper(method),
			Path:       tmpl,
			SourceFile: file,
			Parameters: mergeParameters(shared, own),
			Responses:  make(map[string]catalog.Response),
		}
		op.LongRunning, _ = raw[extLongRunning].(bool)
		if opts, ok := raw[extLongRunningOpt].(map[string]any); ok {
			op.FinalStateVia = str(opts["final-state-via"])
		}

		responses, _ := raw["responses"].(map[string]any)
		for _, code := range sortedKeys(responses) {
			resp, respFile, err := docs.deref(responses[code], file)
			if err != nil {
				return fmt.Errorf("%s response %s: %w", op.ID, code, err)
			}
			r := catalog.Response{StatusCode: code}
			if m, ok := resp.(map[string]any); ok && m["schema"] != nil {
				r.Schema, _ = docs.inline(m["schema"], respFile, 0).(map[string]any)
			}
			op.Responses[code] = r
		}

		if op.Examples, err = examples(raw[extExamples], file); err != nil {
			return fmt.Errorf("%s: %w", op.ID, err)
		}
		if err := cat.Add(op); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) parameters(docs *documentSet, file string, raw any) ([]catalog.Parameter, error) {
	list, _ := raw.([]any)
	params := make([]catalog.Parameter, 0, len(list))
	for i, entry := range list {
		v, pFile, err := docs.deref(entry, file)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parameter %d is not an object", i)
		}
		p := catalog.Parameter{
			Name: str(m["name"]),
			In:   str(m["in"]),
			Type: str(m["type"]),
		}
		p.Required, _ = m["required"].(bool)
		if m["schema"] != nil {
			p.Schema, _ = docs.inline(m["schema"], pFile, 0).(map[string]any)
		}
		params = append(params, p)
	}
	return params, nil
}

// mergeParameters overlays operation parameters on path-level ones, keyed by
// name and location.
func mergeParameters(shared, own []catalog.Parameter) []catalog.Parameter {
	out := make([]catalog.Parameter, 0, len(shared)+len(own))
	for _, p := range shared {
		if !slices.ContainsFunc(own, func(o catalog.Parameter) bool { return o.Name == p.Name && o.In == p.In }) {
			out = append(out, p)
		}
	}
	return append(out, own...)
}

func examples(raw any, file string) (map[string]string, error) {
	m, _ := raw.(map[string]any)
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for name, v := range m {
		ref, _ := v.(map[string]any)
		target, ok := ref["$ref"].(string)
		if !ok {
			return nil, fmt.Errorf("example %q does not use $ref", name)
		}
		out[name] = catalog.NormalizePath(filepath.Join(filepath.Dir(file), filepath.FromSlash(target)))
	}
	return out, nil
}

// documentSet caches parsed documents and resolves references between them.
type documentSet struct {
	fs   ports.FileSystem
	docs map[string]any
}

func newDocumentSet(fsys ports.FileSystem) *documentSet {
	return &documentSet{fs: fsys, docs: make(map[string]any)}
}

func (d *documentSet) get(file string) (any, error) {
	if doc, ok := d.docs[file]; ok {
		return doc, nil
	}
	data, err := d.fs.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	doc = stringKeys(doc)
	d.docs[file] = doc
	return doc, nil
}

// stringKeys converts YAML mappings with non-string keys, such as unquoted
// status codes, into JSON-style objects.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = stringKeys(child)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = stringKeys(child)
		}
		return out
	case []any:
		for i, child := range t {
			t[i] = stringKeys(child)
		}
		return t
	default:
		return v
	}
}

// resolve follows one $ref relative to the document it appears in and returns
// the target with the file it lives in.
func (d *documentSet) resolve(ref, file string) (any, string, error) {
	target, fragment, _ := strings.Cut(ref, "#")
	if target != "" {
		file = catalog.NormalizePath(filepath.Join(filepath.Dir(file), filepath.FromSlash(target)))
	}
	doc, err := d.get(file)
	if err != nil {
		return nil, "", err
	}
	if fragment == "" {
		return doc, file, nil
	}
	p, err := jsonpointer.New(fragment)
	if err != nil {
		return nil, "", fmt.Errorf("invalid $ref %q: %w", ref, err)
	}
	v, _, err := p.Get(doc)
	if err != nil {
		return nil, "", fmt.Errorf("unresolved $ref %q: %w", ref, err)
	}
	return v, file, nil
}

// deref follows $ref chains until v is not a reference.
func (d *documentSet) deref(v any, file string) (any, string, error) {
	for range maxRefDepth {
		m, ok := v.(map[string]any)
		if !ok {
			return v, file, nil
		}
		ref, ok := m["$ref"].(string)
		if !ok {
			return v, file, nil
		}
		var err error
		if v, file, err = d.resolve(ref, file); err != nil {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("$ref chain deeper than %d", maxRefDepth)
}

// inline returns a copy of schema with every reference replaced by its
// target. Unresolvable or too deep references become empty schemas.
func (d *documentSet) inline(schema any, file string, depth int) any {
	switch v := schema.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok {
			if depth >= maxRefDepth {
				return map[string]any{}
			}
			target, tFile, err := d.resolve(ref, file)
			if err != nil {
				return map[string]any{}
			}
			return d.inline(target, tFile, depth+1)
		}
		out := make(map[string]any, len(v))
		for k, child := range v {
			if k == extExamples {
				continue
			}
			out[k] = d.inline(child, file, depth)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = d.inline(child, file, depth)
		}
		return out
	default:
		return v
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
