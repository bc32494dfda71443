package ruleengine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var token = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ResolvePath walks ctx by a dotted path (e.g. "subject.id"), returning
// (value, true) on success. A missing key or a non-map intermediate value
// resolves to (nil, false) rather than an error — the spec's template
// contract treats a miss as an empty string, not a failure.
func ResolvePath(ctx map[string]any, path string) (any, bool) {
	var cur any = ctx
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Render recursively substitutes `{{dotted.path}}` tokens inside strings,
// descending into maps and slices unchanged otherwise. Numbers, bools and
// nil pass through untouched. A resolved value is stringified with
// stringify; an unresolved path renders as an empty string.
func Render(value any, ctx map[string]any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = Render(vv, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = Render(vv, ctx)
		}
		return out
	case string:
		return token.ReplaceAllStringFunc(v, func(m string) string {
			path := strings.TrimSpace(m[2 : len(m)-2])
			resolved, ok := ResolvePath(ctx, path)
			if !ok || resolved == nil {
				return ""
			}
			return stringify(resolved)
		})
	default:
		return value
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
