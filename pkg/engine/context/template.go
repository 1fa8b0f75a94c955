package context

import (
	"fmt"
	"log/slog"
	"strings"
)

// Interpolate walks configNode structurally and replaces every
// `{{path.to.value}}` placeholder in string leaves with the looked-up
// value from ctx, stringified. A missing path resolves to an empty string
// and emits a debug trace; it never fails the turn (spec §4.1 / §8.1
// property 3).
func Interpolate(configNode any, ctx Context) any {
	switch v := configNode.(type) {
	case string:
		return interpolateString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = Interpolate(child, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = Interpolate(child, ctx)
		}
		return out
	default:
		return v
	}
}

func interpolateString(s string, ctx Context) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			// Unbalanced at runtime (should have been caught at registration
			// time): emit the rest verbatim rather than failing the turn.
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+2 : end])
		value, ok := Lookup(ctx, path)
		if !ok {
			slog.Debug("template path unresolved", "path", path)
			rest = rest[end+2:]
			continue
		}
		b.WriteString(stringify(value))
		rest = rest[end+2:]
	}
	return b.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
