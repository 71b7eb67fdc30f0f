package registry

import (
	"github.com/sitesafe/ptwcore/internal/models"
)

// MergeTemplates overlays patch onto base without mutating either input.
// Maps are deep-merged and unknown keys are preserved. Lists are set-unioned
// by default; a patch node of the form {"replace": true, "items": [...]}
// replaces the base list wholesale.
func MergeTemplates(base, patch models.JSONMap) models.JSONMap {
	out := models.JSONMap{}
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, pv := range patch {
		bv, exists := out[k]
		if !exists {
			out[k] = cloneValue(pv)
			continue
		}
		out[k] = mergeValue(bv, pv)
	}
	return out
}

func mergeValue(base, patch any) any {
	switch p := patch.(type) {
	case map[string]any:
		if items, replace := replaceDirective(p); replace {
			return cloneValue(items)
		}
		b, ok := base.(map[string]any)
		if !ok {
			return cloneValue(p)
		}
		merged := map[string]any(MergeTemplates(models.JSONMap(b), models.JSONMap(p)))
		return merged
	case []any:
		b, ok := base.([]any)
		if !ok {
			return cloneValue(p)
		}
		return unionLists(b, p)
	default:
		return cloneValue(patch)
	}
}

// replaceDirective detects the {"replace": true, "items": [...]} list node.
func replaceDirective(m map[string]any) (any, bool) {
	replace, ok := m["replace"].(bool)
	if !ok || !replace {
		return nil, false
	}
	items, ok := m["items"]
	if !ok {
		return []any{}, true
	}
	return items, true
}

// unionLists appends patch elements not already present in base, preserving
// base order first and patch order after. Elements are compared by their
// canonical JSON-ish value.
func unionLists(base, patch []any) []any {
	out := make([]any, 0, len(base)+len(patch))
	for _, v := range base {
		out = append(out, cloneValue(v))
	}
	for _, pv := range patch {
		found := false
		for _, bv := range base {
			if valuesEqual(bv, pv) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, cloneValue(pv))
		}
	}
	return out
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, exists := bv[k]
			if !exists || !valuesEqual(v, ov) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
