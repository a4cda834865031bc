package catalog

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sophialabs/apiscenario/internal/domain/errs"
)

// ExampleRef binds an example file to the operation that declares it.
type ExampleRef struct {
	Operation   *Operation
	ExampleName string
}

// Catalog maps operation ids to descriptors and example files to the
// operations referencing them. It is built once per load.
type Catalog struct {
	ops      map[string]*Operation
	order    []string
	examples map[string]map[string]ExampleRef
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		ops:      make(map[string]*Operation),
		examples: make(map[string]map[string]ExampleRef),
	}
}

// NormalizePath returns the key under which an example file is indexed.
func NormalizePath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// Add registers op and every example it declares. Operation ids are unique.
func (c *Catalog) Add(op *Operation) error {
	if op.ID == "" {
		return fmt.Errorf("operation %s %s has no operationId", op.Method, op.Path)
	}
	if prev, ok := c.ops[op.ID]; ok {
		return fmt.Errorf("%w %q: declared by %s and %s", errs.ErrDuplicateOperation, op.ID, prev.Path, op.Path)
	}
	op.Method = strings.ToUpper(op.Method)
	c.ops[op.ID] = op
	c.order = append(c.order, op.ID)

	for name, file := range op.Examples {
		key := NormalizePath(file)
		refs, ok := c.examples[key]
		if !ok {
			refs = make(map[string]ExampleRef)
			c.examples[key] = refs
		}
		refs[op.ID] = ExampleRef{Operation: op, ExampleName: name}
	}
	return nil
}

// Operation returns the descriptor registered under id.
func (c *Catalog) Operation(id string) (*Operation, error) {
	op, ok := c.ops[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrOperationNotFound, id)
	}
	return op, nil
}

// Examples returns every operation declaring the example at path, keyed by operationId.
func (c *Catalog) Examples(path string) map[string]ExampleRef {
	return c.examples[NormalizePath(path)]
}

// BindExample returns the single operation that declares the example at path.
func (c *Catalog) BindExample(path string) (ExampleRef, error) {
	refs := c.Examples(path)
	switch len(refs) {
	case 0:
		return ExampleRef{}, fmt.Errorf("%w: %s", errs.ErrUnboundExample, path)
	case 1:
		for _, ref := range refs {
			return ref, nil
		}
	}
	ids := make([]string, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ExampleRef{}, fmt.Errorf("%w: %s (%s)", errs.ErrAmbiguousExample, path, strings.Join(ids, ", "))
}

// Operations returns all operations in registration order.
func (c *Catalog) Operations() []*Operation {
	out := make([]*Operation, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.ops[id])
	}
	return out
}

// Len returns the number of registered operations.
func (c *Catalog) Len() int { return len(c.ops) }
