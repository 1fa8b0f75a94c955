// Package context implements the per-turn Context & Template Engine (C1):
// structural template interpolation, a restricted boolean expression
// evaluator, and the merge rule that places executor output back into the
// turn's context. None of the three ever returns an error the caller must
// handle — every operation is total, logging instead of failing, because
// flow configuration is operator-authored data, not code.
package context

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Context is the merged map visible to template interpolation and
// expression evaluation during a turn. It is never persisted on its own;
// it lives inside a FlowRun's context field.
type Context map[string]any

// Clone returns a deep-enough copy for safe concurrent reads: nested maps
// and []any slices are copied, each keeping its original type; any other
// value is shared.
func (c Context) Clone() Context {
	return Context(deepCopyMap(c))
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case Context:
		return Context(deepCopyMap(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// Lookup resolves a dot-separated path against ctx. Numeric path segments
// index into arrays. Optional-chaining semantics apply implicitly: any
// missing intermediate segment resolves to (nil, false) rather than
// panicking.
func Lookup(ctx map[string]any, path string) (any, bool) {
	path = strings.TrimSuffix(path, "?")
	segments := strings.Split(path, ".")
	var cur any = map[string]any(ctx)
	for _, seg := range segments {
		seg = strings.TrimSuffix(seg, "?")
		if seg == "" {
			continue
		}
		switch node := cur.(type) {
		case Context:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Merge places value under outputKey inside ctx, returning the updated
// context. Dotted keys create nested objects along the way. Replacing a
// non-object value with an object is allowed; the reverse — an object
// being overwritten by a scalar — is rejected with a warning and the
// original context is returned unchanged, per the spec's merge invariant.
func Merge(ctx Context, outputKey string, value any) Context {
	if outputKey == "" {
		return ctx
	}
	out := ctx.Clone()
	segments := strings.Split(outputKey, ".")
	if err := setPath(out, segments, value); err != nil {
		slog.Warn("context merge rejected", "output_key", outputKey, "error", err)
		return ctx
	}
	return out
}

func setPath(m map[string]any, segments []string, value any) error {
	seg := segments[0]
	if len(segments) == 1 {
		if existing, ok := m[seg]; ok {
			if _, existingIsMap := existing.(map[string]any); existingIsMap {
				if _, newIsMap := value.(map[string]any); !newIsMap {
					return fmt.Errorf("cannot replace object at %q with scalar value", seg)
				}
			}
			if existingCtx, existingIsMap := existing.(Context); existingIsMap {
				if _, newIsMap := value.(map[string]any); !newIsMap {
					_ = existingCtx
					return fmt.Errorf("cannot replace object at %q with scalar value", seg)
				}
			}
		}
		m[seg] = value
		return nil
	}

	child, ok := m[seg]
	if !ok {
		next := make(map[string]any)
		m[seg] = next
		return setPath(next, segments[1:], value)
	}
	childMap, ok := child.(map[string]any)
	if !ok {
		if cctx, isCtx := child.(Context); isCtx {
			childMap = map[string]any(cctx)
		} else {
			return fmt.Errorf("cannot descend into non-object at %q", seg)
		}
	}
	return setPath(childMap, segments[1:], value)
}
