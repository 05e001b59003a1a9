package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/chakssp/vcia-dhl-sub005/pkg/fn"
)

// MergePayloads reconciles incoming discovery data into an existing payload.
// Protected fields are never touched. For every other incoming key: an empty
// existing value is replaced, two lists are unioned in order without
// duplicates, and any other existing value is replaced only by a non-empty
// incoming value. Neither argument is modified.
func MergePayloads(existing, incoming map[string]any) map[string]any {
	out := domain.CloneMap(existing)
	if out == nil {
		out = make(map[string]any, len(incoming))
	}
	for k, nv := range incoming {
		if domain.IsQdrantOnly(k) {
			continue
		}
		ov, ok := out[k]
		switch {
		case !ok || domain.IsEmptyValue(ov):
			if nv != nil {
				out[k] = domain.CloneValue(nv)
			}
		case isList(ov) && isList(nv):
			out[k] = unionLists(toList(ov), toList(nv))
		case !domain.IsEmptyValue(nv):
			out[k] = domain.CloneValue(nv)
		}
	}
	return out
}

// OverwritePayload applies an update. Without preserve, incoming fields
// overwrite existing ones and untouched keys survive. With preserve, the
// result starts from incoming and only the listed fields are copied back.
// Protected fields always come from existing.
func OverwritePayload(existing, incoming map[string]any, preserve []string) map[string]any {
	var out map[string]any
	if len(preserve) == 0 {
		out = domain.CloneMap(existing)
		if out == nil {
			out = make(map[string]any, len(incoming))
		}
		for k, v := range domain.StripQdrantOnly(incoming) {
			out[k] = v
		}
		return out
	}

	out = domain.StripQdrantOnly(incoming)
	for _, f := range preserve {
		if v, ok := existing[f]; ok {
			out[f] = domain.CloneValue(v)
		}
	}
	for k, v := range existing {
		if domain.IsQdrantOnly(k) {
			out[k] = domain.CloneValue(v)
		}
	}
	return out
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []uint64:
		return true
	}
	return false
}

func toList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		return fn.Map(t, func(s string) any { return s })
	case []uint64:
		return fn.Map(t, func(n uint64) any { return int64(n) })
	}
	return nil
}

// unionLists keeps a's order, then appends unseen elements of b. Elements
// are compared by their JSON encoding so numbers decoded as float64 and
// int64 still collapse.
func unionLists(a, b []any) []any {
	all := make([]any, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return fn.UniqueBy(all, listKey)
}

func listKey(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		v = int64(f)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(data)
}
