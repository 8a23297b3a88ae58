package exprlang

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
)

// Eval parses and evaluates expr against context in one call. It is the
// entry point used by branch condition evaluation and action/execute_code.
func Eval(expr string, context ctxval.Map) (any, error) {
	node, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return evalNode(node, context)
}

// Truthy mirrors the host language's notion of truthiness for condition
// evaluation: false/nil/0/""/empty-collection are falsy, everything else
// truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func evalNode(n Node, context ctxval.Map) (any, error) {
	switch t := n.(type) {
	case Literal:
		return t.Value, nil
	case PathRef:
		path := t.Path
		// "context.x.y" and bare "x.y" are both rooted at the context map;
		// a leading "context." prefix is accepted as a readability alias.
		path = strings.TrimPrefix(path, "context.")
		if path == "context" {
			return map[string]any(context), nil
		}
		v, ok := ctxval.GetPath(context, path)
		if !ok {
			return nil, nil
		}
		return v, nil
	case Unary:
		v, err := evalNode(t.Operand, context)
		if err != nil {
			return nil, err
		}
		switch t.Op {
		case "!":
			return !Truthy(v), nil
		case "-":
			f, ok := toNumber(v)
			if !ok {
				return nil, fmt.Errorf("exprlang: cannot negate non-numeric value %v", v)
			}
			return -f, nil
		}
		return nil, fmt.Errorf("exprlang: unknown unary operator %q", t.Op)
	case Binary:
		return evalBinary(t, context)
	default:
		return nil, fmt.Errorf("exprlang: unknown node type %T", n)
	}
}

func evalBinary(b Binary, context ctxval.Map) (any, error) {
	if b.Op == "&&" {
		l, err := evalNode(b.Left, context)
		if err != nil {
			return nil, err
		}
		if !Truthy(l) {
			return false, nil
		}
		r, err := evalNode(b.Right, context)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	}
	if b.Op == "||" {
		l, err := evalNode(b.Left, context)
		if err != nil {
			return nil, err
		}
		if Truthy(l) {
			return true, nil
		}
		r, err := evalNode(b.Right, context)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	}

	l, err := evalNode(b.Left, context)
	if err != nil {
		return nil, err
	}
	r, err := evalNode(b.Right, context)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case "==", "!=", "<", "<=", ">", ">=":
		return compare(b.Op, l, r)
	case "+", "-", "*", "/":
		lf, lok := toNumber(l)
		rf, rok := toNumber(r)
		if b.Op == "+" {
			if ls, ok := l.(string); ok {
				return ls + ctxval.AsString(r), nil
			}
		}
		if !lok || !rok {
			return nil, fmt.Errorf("exprlang: arithmetic operator %q requires numeric operands, got %v and %v", b.Op, l, r)
		}
		switch b.Op {
		case "+":
			return lf + rf, nil
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, fmt.Errorf("exprlang: division by zero")
			}
			return lf / rf, nil
		}
	}
	return nil, fmt.Errorf("exprlang: unknown binary operator %q", b.Op)
}

// compare implements the documented numeric-then-string coercion (Open
// Question 3): operands that both convert to float64 are compared
// numerically; otherwise they are compared as their string forms.
func compare(op string, l, r any) (any, error) {
	lf, lok := toNumber(l)
	rf, rok := toNumber(r)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, rs := ctxval.AsString(l), ctxval.AsString(r)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return nil, fmt.Errorf("exprlang: unknown comparison operator %q", op)
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
