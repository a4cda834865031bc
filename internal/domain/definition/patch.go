package definition

import (
	"encoding/json"
	"fmt"
)

var patchOps = []string{"add", "remove", "replace", "copy", "move", "test"}

// PatchOp is one document-patch operation.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// PatchList is an ordered set of patch operations.
type PatchList []PatchOp

// JSON encodes the list as an RFC 6902 patch document.
func (l PatchList) JSON() ([]byte, error) {
	ops := make([]map[string]any, 0, len(l))
	for _, p := range l {
		m := map[string]any{"op": p.Op, "path": p.Path}
		switch p.Op {
		case "add", "replace", "test":
			m["value"] = p.Value
		case "copy", "move":
			m["from"] = p.From
		}
		ops = append(ops, m)
	}
	return json.Marshal(ops)
}

// ReplaceOnly reports whether every operation is a replace.
func (l PatchList) ReplaceOnly() bool {
	for _, p := range l {
		if p.Op != "replace" {
			return false
		}
	}
	return true
}

// ParsePatchList accepts both the standard {op, path, value} form and the
// shorthand {replace: /path, value: v} form.
func ParsePatchList(raw []map[string]any) (PatchList, error) {
	out := make(PatchList, 0, len(raw))
	for i, entry := range raw {
		op, err := parsePatchOp(entry)
		if err != nil {
			return nil, fmt.Errorf("patch[%d]: %w", i, err)
		}
		out = append(out, op)
	}
	return out, nil
}

func parsePatchOp(entry map[string]any) (PatchOp, error) {
	if name, ok := entry["op"].(string); ok {
		path, _ := entry["path"].(string)
		from, _ := entry["from"].(string)
		return validatePatchOp(PatchOp{Op: name, Path: path, From: from, Value: entry["value"]}, entry)
	}
	for _, name := range patchOps {
		if path, ok := entry[name].(string); ok {
			from, _ := entry["from"].(string)
			return validatePatchOp(PatchOp{Op: name, Path: path, From: from, Value: entry["value"]}, entry)
		}
	}
	return PatchOp{}, fmt.Errorf("no patch operation in %v", entry)
}

func validatePatchOp(p PatchOp, entry map[string]any) (PatchOp, error) {
	switch p.Op {
	case "add", "replace", "test":
		if _, ok := entry["value"]; !ok {
			return PatchOp{}, fmt.Errorf("%s %q requires a value", p.Op, p.Path)
		}
	case "copy", "move":
		if p.From == "" {
			return PatchOp{}, fmt.Errorf("%s %q requires from", p.Op, p.Path)
		}
	case "remove":
	default:
		return PatchOp{}, fmt.Errorf("unsupported patch op %q", p.Op)
	}
	// An empty path addresses the whole document.
	if p.Path != "" && p.Path[0] != '/' {
		return PatchOp{}, fmt.Errorf("patch path %q must be a JSON pointer", p.Path)
	}
	return p, nil
}
