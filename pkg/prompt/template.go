// Package prompt implements the fixed prompt-template grammar: an ordered
// list of literal and placeholder segments parsed once at compile time and
// resolved by schema-typed lookup, with an explicit rendering rule per
// value type. No runtime reflection over formats is involved.
package prompt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segPlaceholder
)

type segment struct {
	kind segmentKind
	text string // literal text, or placeholder key
}

// Template is a parsed prompt template. Placeholders use {key} syntax;
// "{{" and "}}" escape literal braces.
type Template struct {
	source   string
	segments []segment
	keys     []string
}

// Parse splits a template string into segments. Unterminated or empty
// placeholders are parse errors.
func Parse(source string) (*Template, error) {
	t := &Template{source: source}
	seen := make(map[string]struct{})

	var literal strings.Builder
	i := 0
	for i < len(source) {
		c := source[i]
		switch c {
		case '{':
			if i+1 < len(source) && source[i+1] == '{' {
				literal.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(source[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			key := source[i+1 : i+end]
			if key == "" {
				return nil, fmt.Errorf("empty placeholder at offset %d", i)
			}
			if strings.ContainsAny(key, " \t\n{") {
				return nil, fmt.Errorf("invalid placeholder %q at offset %d", key, i)
			}
			if literal.Len() > 0 {
				t.segments = append(t.segments, segment{segLiteral, literal.String()})
				literal.Reset()
			}
			t.segments = append(t.segments, segment{segPlaceholder, key})
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				t.keys = append(t.keys, key)
			}
			i += end + 1
		case '}':
			if i+1 < len(source) && source[i+1] == '}' {
				literal.WriteByte('}')
				i += 2
				continue
			}
			literal.WriteByte('}')
			i++
		default:
			literal.WriteByte(c)
			i++
		}
	}
	if literal.Len() > 0 {
		t.segments = append(t.segments, segment{segLiteral, literal.String()})
	}

	return t, nil
}

// Source returns the original template string.
func (t *Template) Source() string { return t.source }

// Keys returns the distinct placeholder names in first-appearance order.
func (t *Template) Keys() []string { return t.keys }

// Render substitutes every placeholder with the typed rendering of its
// value. A missing value is an error; templates never render partially.
func (t *Template) Render(values map[string]any) (string, error) {
	var out strings.Builder
	for _, seg := range t.segments {
		if seg.kind == segLiteral {
			out.WriteString(seg.text)
			continue
		}
		v, ok := values[seg.text]
		if !ok {
			return "", fmt.Errorf("no value for placeholder %q", seg.text)
		}
		rendered, err := renderValue(v)
		if err != nil {
			return "", fmt.Errorf("placeholder %q: %w", seg.text, err)
		}
		out.WriteString(rendered)
	}
	return out.String(), nil
}

// renderValue applies the per-type rendering rule. Numeric arrays render
// as a deterministic bracketed literal, e.g. "[1, 2.5, 3]"; dicts and
// lists of dicts render as compact JSON.
func renderValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return formatFloat(val), nil
	case []any:
		return renderList(val)
	case map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("cannot render dict: %w", err)
		}
		return string(data), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("cannot render value of type %T", v)
	}
}

func renderList(list []any) (string, error) {
	// Numeric arrays get the bracketed literal form; anything else falls
	// back to JSON for a deterministic rendering.
	allNumeric := len(list) > 0
	for _, e := range list {
		switch e.(type) {
		case int, int64, float64:
		default:
			allNumeric = false
		}
		if !allNumeric {
			break
		}
	}

	if allNumeric {
		parts := make([]string, len(list))
		for i, e := range list {
			s, err := renderValue(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	}

	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("cannot render list: %w", err)
	}
	return string(data), nil
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
