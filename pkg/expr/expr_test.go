package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]any) func(string) (any, error) {
	return func(key string) (any, error) {
		v, ok := values[key]
		if !ok {
			return nil, &missingKey{key}
		}
		return v, nil
	}
}

type missingKey struct{ key string }

func (e *missingKey) Error() string { return "unknown state key " + e.key }

func TestEval(t *testing.T) {
	values := map[string]any{
		"end_conversation": false,
		"question_count":   3,
		"threshold":        0.5,
		"answer":           "stop workflow please",
		"messages":         []any{map[string]any{"role": "user"}},
		"validation_response": map[string]any{
			"validation_passed": true,
			"score":             0.9,
		},
		"tags": []any{"a", "b"},
	}
	lookup := lookupFrom(values)

	cases := []struct {
		expr string
		want bool
	}{
		{"end_conversation", false},
		{"not end_conversation", true},
		{"question_count >= 3", true},
		{"question_count == 3", true},
		{"question_count != 3", false},
		{"threshold < 1", true},
		{"question_count >= 3 and not end_conversation", true},
		{"question_count > 5 or threshold < 1", true},
		{"question_count > 5 || threshold < 1", true},
		{"question_count > 5 && threshold < 1", false},
		{"!end_conversation", true},
		{"validation_response['validation_passed']", true},
		{"validation_response.validation_passed", true},
		{"validation_response['score'] > 0.5", true},
		{"len(messages) == 1", true},
		{"len(answer) > 3", true},
		{"messages[0]['role'] == 'user'", true},
		{"'stop workflow' in answer", true},
		{"'b' in tags", true},
		{"'c' in tags", false},
		{"'score' in validation_response", true},
		{"(question_count == 3) and (threshold <= 0.5)", true},
	}

	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			c, err := Parse(tc.expr)
			require.NoError(t, err)

			got, err := c.Eval(lookup)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEval_MissingDictField(t *testing.T) {
	// A conditional referencing a field on a zero-value dict must error,
	// not evaluate to false.
	lookup := lookupFrom(map[string]any{
		"validation_response": map[string]any{},
	})

	c, err := Parse("validation_response['validation_passed']")
	require.NoError(t, err)

	_, err = c.Eval(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation_passed")
}

func TestEval_UnknownKey(t *testing.T) {
	c, err := Parse("nonexistent == 1")
	require.NoError(t, err)

	_, err = c.Eval(lookupFrom(map[string]any{}))
	require.Error(t, err)
}

func TestEval_NonBoolResult(t *testing.T) {
	c, err := Parse("question_count")
	require.NoError(t, err)

	_, err = c.Eval(lookupFrom(map[string]any{"question_count": 3}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not bool")
}

func TestEval_IndexOutOfRange(t *testing.T) {
	c, err := Parse("messages[5]['role'] == 'user'")
	require.NoError(t, err)

	_, err = c.Eval(lookupFrom(map[string]any{"messages": []any{}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestParse_Invalid(t *testing.T) {
	for _, src := range []string{
		"",
		"a ==",
		"a = b",
		"(a == b",
		"a == b)",
		"a['x'",
		"'unterminated",
		"a @ b",
		"len(a",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			assert.Error(t, err, "Parse(%q) should fail", src)
		})
	}
}

func TestParse_RoundTripString(t *testing.T) {
	src := "validation_response['validation_passed'] and not end_conversation"
	c, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, src, c.String())
}
