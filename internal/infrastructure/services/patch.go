package services

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
)

// ApplyPatch applies list to a copy of doc. doc itself is never modified.
func ApplyPatch(doc any, list definition.PatchList) (any, error) {
	if len(list) == 0 {
		return DeepCopy(doc), nil
	}
	if doc == nil {
		doc = map[string]any{}
	}
	src, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding document: %v", errs.ErrPatchFailed, err)
	}
	ops, err := list.JSON()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding patch: %v", errs.ErrPatchFailed, err)
	}
	patch, err := jsonpatch.DecodePatch(ops)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrPatchFailed, err)
	}

	opts := jsonpatch.NewApplyOptions()
	opts.EnsurePathExistsOnAdd = true
	out, err := patch.ApplyWithOptions(src, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrPatchFailed, err)
	}
	return DecodeJSON(out)
}

// DeepMerge merges src onto a copy of dst. Objects merge recursively and
// src wins on conflicts.
func DeepMerge(dst, src any) (any, error) {
	if src == nil {
		return DeepCopy(dst), nil
	}
	if dst == nil {
		return DeepCopy(src), nil
	}
	a, err := json.Marshal(dst)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(a, b)
	if err != nil {
		return nil, fmt.Errorf("merging documents: %w", err)
	}
	return DecodeJSON(merged)
}
