package ctxval

import "strings"

// maxResolveDepth bounds the placeholder-chases-placeholder recursion: a
// resolved value that is itself a distinct placeholder is re-resolved, up
// to this many times.
const maxResolveDepth = 10

// Resolve implements the Context Resolver: a pure function that performs
// template substitution of "{a.b.0.c}"-style placeholders in value against
// context. Resolve never mutates context and always returns a fresh value
// (maps/lists are recursively rebuilt, never aliased back into context).
//
//   - A string that is exactly one placeholder ("{path}") is replaced by the
//     navigated value itself (preserving its type), recursing if that value
//     is itself a distinct bare placeholder, up to maxResolveDepth. If
//     navigation fails, the string falls through to substring substitution.
//   - Any other string has each "{...}" occurrence replaced by the string
//     form of its resolved value; unresolved placeholders are left as-is.
//   - Maps and lists are resolved element-wise into freshly allocated
//     containers.
//   - Any other value (numbers, bools, nil) is returned unchanged.
func Resolve(value any, context Map) any {
	return resolveDepth(value, context, 0)
}

func resolveDepth(value any, context Map, depth int) any {
	switch t := value.(type) {
	case string:
		return resolveString(t, context, depth)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = resolveDepth(v, context, depth)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = resolveDepth(v, context, depth)
		}
		return out
	default:
		return value
	}
}

func barePlaceholder(s string) (string, bool) {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return "", false
	}
	inner := s[1 : len(s)-1]
	if inner == "" || strings.ContainsAny(inner, "{}") {
		return "", false
	}
	return inner, true
}

func resolveString(s string, context Map, depth int) any {
	if path, ok := barePlaceholder(s); ok {
		if v, found := GetPath(context, path); found {
			if depth < maxResolveDepth {
				if vs, isStr := v.(string); isStr {
					if innerPath, isPlaceholder := barePlaceholder(vs); isPlaceholder && innerPath != path {
						return resolveDepth(v, context, depth+1)
					}
				}
			}
			return Clone(v)
		}
		// Navigation failed: fall through to substring substitution below,
		// which will leave the placeholder literal since it won't resolve.
	}
	return substitutePlaceholders(s, context)
}

// substitutePlaceholders replaces every "{path}" occurrence in s with the
// string form of its resolved value, leaving unresolved placeholders intact.
func substitutePlaceholders(s string, context Map) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '{')
		if open == -1 {
			b.WriteString(s[i:])
			break
		}
		open += i
		close := strings.IndexByte(s[open:], '}')
		if close == -1 {
			b.WriteString(s[i:])
			break
		}
		close += open
		path := s[open+1 : close]
		b.WriteString(s[i:open])
		if path == "" || strings.ContainsAny(path, "{}") {
			b.WriteString(s[open : close+1])
		} else if v, ok := GetPath(context, path); ok {
			b.WriteString(AsString(v))
		} else {
			b.WriteString(s[open : close+1])
		}
		i = close + 1
	}
	return b.String()
}
