package filesystem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
)

const definitionSchemaID = "https://github.com/sophialabs/apiscenario/schemas/definition.json"

// GenerateDefinitionSchema produces the JSON Schema of a definition document
// from the raw definition types.
func GenerateDefinitionSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&definition.RawFile{})
	s.ID = definitionSchemaID
	s.Title = "API scenario definition"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// SchemaIssue is one schema violation.
type SchemaIssue struct {
	Path    string
	Message string
}

// SchemaError lists every violation found in a document.
type SchemaError struct {
	Issues []SchemaIssue
}

func (e *SchemaError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		path := is.Path
		if path == "" {
			path = "/"
		}
		parts[i] = path + ": " + is.Message
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// SchemaValidator checks decoded documents against the definition schema.
type SchemaValidator struct {
	schema *sjsonschema.Schema
}

// NewSchemaValidator compiles the definition schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	data, err := GenerateDefinitionSchema()
	if err != nil {
		return nil, err
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(definitionSchemaID, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(definitionSchemaID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &SchemaValidator{schema: sch}, nil
}

// Validate checks doc, a value decoded from YAML. It is normalized through
// JSON first so that numbers and maps have the shapes the validator expects.
func (v *SchemaValidator) Validate(doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("document is not representable as JSON: %w", err)
	}
	inst, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}

	err = v.schema.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return err
	}

	var issues []SchemaIssue
	for _, cause := range flattenValidationErrors(ve) {
		issues = append(issues, SchemaIssue{
			Path:    "/" + strings.Join(cause.InstanceLocation, "/"),
			Message: fmt.Sprintf("%v", cause.ErrorKind),
		})
	}
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return &SchemaError{Issues: issues}
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
