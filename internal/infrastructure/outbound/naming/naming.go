// Package naming derives run identifiers, resource-group names and output
// paths.
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/google/uuid"

	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

// DefaultResourceGroupTemplate names one group per scope within a run.
const DefaultResourceGroupTemplate = "apitest-{{ runId }}-{{ seq }}"

var (
	invalidGroupChars = regexp.MustCompile(`[^A-Za-z0-9._()-]+`)
	identifier        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

var _ ports.Namer = (*Namer)(nil)

// Namer renders resource-group names from a pongo2 template. The template
// sees every variable of the scope plus seq, a per-namer counter starting at 1.
type Namer struct {
	tpl *pongo2.Template
	seq atomic.Int64
}

// New compiles source, or DefaultResourceGroupTemplate when source is empty.
func New(source string) (*Namer, error) {
	if strings.TrimSpace(source) == "" {
		source = DefaultResourceGroupTemplate
	}
	tpl, err := pongo2.FromString(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile resource group name template: %w", err)
	}
	return &Namer{tpl: tpl}, nil
}

// RunID returns yyyyMMddhhmm followed by five random lowercase alphanumerics.
func (n *Namer) RunID(now time.Time) string {
	return now.Format("200601021504") + "-" + RandomSuffix(5)
}

// ResourceGroupName renders the template against vars. Variables whose names
// are not template identifiers are not visible. Characters Azure does not
// accept in group names are replaced with '-'.
func (n *Namer) ResourceGroupName(vars map[string]any) (string, error) {
	ctx := pongo2.Context{}
	for k, v := range vars {
		if identifier.MatchString(k) {
			ctx[k] = v
		}
	}
	ctx["seq"] = n.seq.Add(1)
	ctx["lower"] = strings.ToLower
	ctx["random"] = RandomSuffix

	out, err := n.tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to render resource group name: %w", err)
	}
	name := strings.Trim(invalidGroupChars.ReplaceAllString(strings.TrimSpace(out), "-"), "-")
	if name == "" {
		return "", fmt.Errorf("resource group name template rendered an empty name")
	}
	if len(name) > 90 {
		name = name[:90]
	}
	return name, nil
}

// RandomSuffix returns n random characters from [0-9a-f].
func RandomSuffix(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return b.String()[:n]
}

// DefinitionName returns the base name of a definition file without extension.
func DefinitionName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RecordingPath returns where a dry run of scenario is written below dir.
func RecordingPath(dir, definitionPath, runID, scenario string) string {
	return filepath.Join(dir, DefinitionName(definitionPath), runID, sanitize(scenario), "calls.json")
}

func sanitize(s string) string {
	s = invalidGroupChars.ReplaceAllString(s, "_")
	if s == "" {
		return "scenario"
	}
	return s
}
