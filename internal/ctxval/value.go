// Package ctxval implements the execution context model shared by the
// scenario engine: a recursive value tree (maps, lists, scalars) with
// dotted/indexed path navigation and template placeholder resolution.
//
// The tree is represented with plain Go types (map[string]any, []any,
// string, float64, bool, nil) rather than a closed tagged union, matching
// how scenario documents arrive from JSON/YAML/BSON. No reflection is used;
// navigation is a type switch over these concrete shapes.
package ctxval

import (
	"fmt"
	"strconv"
	"strings"
)

// Map is the root shape of an execution context.
type Map = map[string]any

// Clone produces a deep copy of a context value tree. The engine clones
// contexts at scenario-instance boundaries (initial context composition,
// sub-scenario invocation) so that concurrent or nested executions never
// share mutable state.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// splitPath breaks a dotted path like "a.b.0.c" into its segments.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// GetPath navigates root by walking each dot-separated segment of path,
// treating maps as key lookups and lists as integer-index lookups. It
// returns the found value and true, or nil and false if any segment fails
// to resolve.
func GetPath(root any, path string) (any, bool) {
	segs := splitPath(path)
	cur := root
	for _, seg := range segs {
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, false
			}
			cur = t[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes value into root at the dotted path, creating intermediate
// maps where a segment is missing. root must be a map[string]any. Every
// existing intermediate value must be a map: SetPath returns an error on
// reaching any other value (a list included), and never creates or extends
// list elements.
func SetPath(root Map, path string, value any) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("ctxval: empty path")
	}
	cur := root
	for i, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok {
			m := make(map[string]any)
			cur[seg] = m
			cur = m
			continue
		}
		switch t := next.(type) {
		case map[string]any:
			cur = t
		default:
			return fmt.Errorf("ctxval: cannot navigate through non-map value at segment %d (%q) of path %q", i, seg, path)
		}
	}
	cur[segs[len(segs)-1]] = value
	return nil
}

// AsString renders any context value as its string form for template
// substitution. Strings pass through unchanged; other scalars use their
// natural textual representation; maps/lists fall back to Go's %v.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
