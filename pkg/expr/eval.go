package expr

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/loomlab/loom/pkg/domain"
)

// Compiled is a parsed condition expression. It implements
// domain.Condition and is safe for concurrent evaluation.
type Compiled struct {
	src  string
	root node
}

// String returns the original expression source.
func (c *Compiled) String() string { return c.src }

// Eval evaluates the expression against the state via lookup. The result
// must be a boolean; anything else is an evaluation error — conditions
// never coerce truthiness.
func (c *Compiled) Eval(lookup domain.Lookup) (bool, error) {
	v, err := c.root.eval(&env{lookup: lookup})
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression yields %T, not bool", v)
	}
	return b, nil
}

type env struct {
	lookup domain.Lookup
}

func (n *literalNode) eval(_ *env) (any, error) { return n.value, nil }

func (n *identNode) eval(e *env) (any, error) {
	v, err := e.lookup(n.name)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (n *indexNode) eval(e *env) (any, error) {
	target, err := n.target.eval(e)
	if err != nil {
		return nil, err
	}
	index, err := n.index.eval(e)
	if err != nil {
		return nil, err
	}

	switch t := target.(type) {
	case map[string]any:
		key, ok := index.(string)
		if !ok {
			return nil, fmt.Errorf("dict index must be a string, got %T", index)
		}
		v, present := t[key]
		if !present {
			return nil, fmt.Errorf("key %q not present", key)
		}
		return v, nil
	case []any:
		f, ok := index.(float64)
		if !ok || f != float64(int(f)) {
			return nil, fmt.Errorf("list index must be an integer, got %v", index)
		}
		i := int(f)
		if i < 0 || i >= len(t) {
			return nil, fmt.Errorf("list index %d out of range (len %d)", i, len(t))
		}
		return t[i], nil
	default:
		return nil, fmt.Errorf("cannot index into %T", target)
	}
}

func (n *lenNode) eval(e *env) (any, error) {
	v, err := n.target.eval(e)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case string:
		return float64(len(t)), nil
	case []any:
		return float64(len(t)), nil
	case map[string]any:
		return float64(len(t)), nil
	default:
		return nil, fmt.Errorf("len of %T not supported", v)
	}
}

func (n *notNode) eval(e *env) (any, error) {
	v, err := n.operand.eval(e)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("operand of 'not' is %T, not bool", v)
	}
	return !b, nil
}

func (n *logicalNode) eval(e *env) (any, error) {
	left, err := n.left.eval(e)
	if err != nil {
		return nil, err
	}
	lb, ok := left.(bool)
	if !ok {
		return nil, fmt.Errorf("operand of %q is %T, not bool", n.op, left)
	}

	// Short-circuit
	if n.op == "and" && !lb {
		return false, nil
	}
	if n.op == "or" && lb {
		return true, nil
	}

	right, err := n.right.eval(e)
	if err != nil {
		return nil, err
	}
	rb, ok := right.(bool)
	if !ok {
		return nil, fmt.Errorf("operand of %q is %T, not bool", n.op, right)
	}
	return rb, nil
}

func (n *compareNode) eval(e *env) (any, error) {
	left, err := n.left.eval(e)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(e)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "in":
		return contains(right, left)
	default:
		return order(n.op, left, right)
	}
}

// looseEqual compares values with numeric coercion, so an int stored in
// state compares equal to a numeric literal (always float64 after parse).
func looseEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func order(op string, a, b any) (any, error) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch op {
		case "<":
			return af < bf, nil
		case "<=":
			return af <= bf, nil
		case ">":
			return af > bf, nil
		case ">=":
			return af >= bf, nil
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case "<":
			return as < bs, nil
		case "<=":
			return as <= bs, nil
		case ">":
			return as > bs, nil
		case ">=":
			return as >= bs, nil
		}
	}

	return nil, fmt.Errorf("cannot order %T and %T with %q", a, b, op)
}

// contains implements "needle in haystack" for strings, lists, and dicts.
func contains(haystack, needle any) (any, error) {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return nil, fmt.Errorf("left side of 'in' must be a string when right side is, got %T", needle)
		}
		return strings.Contains(h, s), nil
	case []any:
		for _, v := range h {
			if looseEqual(v, needle) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return nil, fmt.Errorf("dict membership needs a string key, got %T", needle)
		}
		_, present := h[s]
		return present, nil
	default:
		return nil, fmt.Errorf("right side of 'in' must be string, list, or dict, got %T", haystack)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
