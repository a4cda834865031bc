package filesystem

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

const (
	includeTag      = "!include"
	maxIncludeDepth = 10
)

// Includer expands !include tags in definition documents.
//
// A reference is resolved against the including file's directory (bare or
// with an @here/ prefix), or against the repository root with an @root/
// prefix. YAML cannot start a plain scalar with '@', so prefixed references
// must be quoted: `body: !include "@root/payloads/body.json"`. YAML and JSON
// fragments replace
// the tagged node; an included sequence inside a sequence is spliced in place,
// so step lists can be shared between files. Any other file is inlined as a
// string.
type Includer struct {
	rootDir string
	fs      ports.FileSystem
}

// NewIncluder creates an includer confined to rootDir.
func NewIncluder(rootDir string, fs ports.FileSystem) *Includer {
	return &Includer{rootDir: rootDir, fs: fs}
}

// Expand resolves every include below node. currentFile is the path of the
// document node was parsed from.
func (in *Includer) Expand(node *yaml.Node, currentFile string) error {
	return in.expand(node, []string{currentFile})
}

func (in *Includer) expand(node *yaml.Node, chain []string) error {
	if node == nil {
		return nil
	}
	if node.Tag == includeTag {
		return in.include(node, chain)
	}

	if node.Kind != yaml.SequenceNode {
		for _, child := range node.Content {
			if err := in.expand(child, chain); err != nil {
				return err
			}
		}
		return nil
	}

	items := make([]*yaml.Node, 0, len(node.Content))
	for _, child := range node.Content {
		spliced := child.Tag == includeTag
		if err := in.expand(child, chain); err != nil {
			return err
		}
		if spliced && child.Kind == yaml.SequenceNode {
			items = append(items, child.Content...)
			continue
		}
		items = append(items, child)
	}
	node.Content = items
	return nil
}

func (in *Includer) include(node *yaml.Node, chain []string) error {
	ref := strings.TrimSpace(node.Value)
	if ref == "" {
		return fmt.Errorf("line %d: %s has an empty reference", node.Line, includeTag)
	}
	if len(chain) > maxIncludeDepth {
		return fmt.Errorf("line %d: includes nested deeper than %d", node.Line, maxIncludeDepth)
	}

	target, err := in.resolve(ref, filepath.Dir(chain[len(chain)-1]))
	if err != nil {
		return fmt.Errorf("line %d: %s %q: %w", node.Line, includeTag, ref, err)
	}
	if slices.Contains(chain, target) {
		return fmt.Errorf("line %d: include cycle through %s", node.Line, target)
	}

	data, err := in.fs.ReadFile(target)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	switch strings.ToLower(filepath.Ext(target)) {
	case ".yaml", ".yml", ".json":
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse included file %s: %w", target, err)
		}
		if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
			return fmt.Errorf("included file %s is empty", target)
		}
		if err := in.expand(doc.Content[0], append(chain, target)); err != nil {
			return err
		}
		*node = *doc.Content[0]
	default:
		*node = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(data)}
	}
	return nil
}

func (in *Includer) resolve(ref, currentDir string) (string, error) {
	var target string
	switch {
	case strings.HasPrefix(ref, "@root/"):
		target = filepath.Join(in.rootDir, strings.TrimPrefix(ref, "@root/"))
	case strings.HasPrefix(ref, "@here/"):
		target = filepath.Join(currentDir, strings.TrimPrefix(ref, "@here/"))
	case filepath.IsAbs(ref):
		return "", fmt.Errorf("absolute paths are not allowed")
	default:
		target = filepath.Join(currentDir, ref)
	}
	if err := withinRoot(in.rootDir, target); err != nil {
		return "", err
	}
	return target, nil
}

// withinRoot rejects paths that leave root, following symlinks when the path
// exists on disk.
func withinRoot(root, path string) error {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		real = filepath.Clean(path)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = filepath.Clean(root)
	}
	rel, err := filepath.Rel(realRoot, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s escapes root %s", path, root)
	}
	return nil
}
