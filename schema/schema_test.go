package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intptr(n int) *int         { return &n }
func numptr(f float64) *float64 { return &f }

func issueCodes(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	ve, ok := AsValidationError(err)
	require.True(t, ok, "expected *ValidationError, got %T", err)
	codes := make([]string, len(ve.Issues))
	for i, issue := range ve.Issues {
		codes[i] = issue.Code
	}
	return codes
}

func TestValidateNilSchema(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate(map[string]any{"anything": true}, nil, "inputs"))
}

func TestValidateTypes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		typ   string
		value any
		ok    bool
	}{
		{"string ok", "string", "hi", true},
		{"string vs number", "string", 3, false},
		{"boolean ok", "boolean", true, true},
		{"boolean is not a number", "number", true, false},
		{"number is not a boolean", "boolean", 1, false},
		{"integer ok", "integer", float64(4), true},
		{"integer rejects fraction", "integer", 4.5, false},
		{"number accepts int", "number", 4, true},
		{"object ok", "object", map[string]any{}, true},
		{"array ok", "array", []any{}, true},
		{"array vs object", "array", map[string]any{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tc.value, &Schema{Type: tc.typ}, "inputs")
			if tc.ok {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, []string{CodeTypeMismatch}, issueCodes(t, err))
		})
	}
}

func TestValidateObject(t *testing.T) {
	t.Parallel()
	s := &Schema{
		Type:     "object",
		Required: []string{"to"},
		Properties: map[string]*Schema{
			"to":   {Type: "string"},
			"body": {Type: "string", MaxLength: intptr(10)},
		},
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, Validate(map[string]any{"to": "a@b", "body": "hi"}, s, "inputs"))
	})

	t.Run("missing required", func(t *testing.T) {
		t.Parallel()
		err := Validate(map[string]any{"body": "hi"}, s, "inputs")
		assert.Equal(t, []string{CodeMissingRequired}, issueCodes(t, err))
		ve, _ := AsValidationError(err)
		assert.Equal(t, "inputs.to", ve.Issues[0].Path)
	})

	t.Run("unknown field is strict by default", func(t *testing.T) {
		t.Parallel()
		err := Validate(map[string]any{"to": "a@b", "cc": "x"}, s, "inputs")
		assert.Equal(t, []string{CodeUnknownField}, issueCodes(t, err))
	})

	t.Run("additionalProperties true admits extras", func(t *testing.T) {
		t.Parallel()
		open := &Schema{
			Type:                 "object",
			Properties:           map[string]*Schema{"to": {Type: "string"}},
			AdditionalProperties: &Additional{Allowed: true},
		}
		require.NoError(t, Validate(map[string]any{"to": "a@b", "cc": "x"}, open, "inputs"))
	})

	t.Run("additionalProperties schema constrains extras", func(t *testing.T) {
		t.Parallel()
		typed := &Schema{
			Type:                 "object",
			Properties:           map[string]*Schema{"to": {Type: "string"}},
			AdditionalProperties: &Additional{Allowed: true, Schema: &Schema{Type: "integer"}},
		}
		require.NoError(t, Validate(map[string]any{"to": "a@b", "n": 3}, typed, "inputs"))
		err := Validate(map[string]any{"to": "a@b", "n": "three"}, typed, "inputs")
		assert.Equal(t, []string{CodeTypeMismatch}, issueCodes(t, err))
	})

	t.Run("nested path in message", func(t *testing.T) {
		t.Parallel()
		err := Validate(map[string]any{"to": "a@b", "body": "this is too long"}, s, "inputs")
		assert.Equal(t, []string{CodeMaxLength}, issueCodes(t, err))
		ve, _ := AsValidationError(err)
		assert.Equal(t, "inputs.body", ve.Issues[0].Path)
		assert.Contains(t, ve.Issues[0].Message, "inputs.body")
	})
}

func TestValidateEnum(t *testing.T) {
	t.Parallel()
	s := &Schema{Enum: []any{"red", "green", 2}}
	require.NoError(t, Validate("red", s, "inputs"))
	require.NoError(t, Validate(2.0, s, "inputs"), "numeric enum members normalize")
	err := Validate("blue", s, "inputs")
	assert.Equal(t, []string{CodeEnumMismatch}, issueCodes(t, err))
}

func TestValidateStringBounds(t *testing.T) {
	t.Parallel()
	s := &Schema{Type: "string", MinLength: intptr(2), MaxLength: intptr(4)}
	require.NoError(t, Validate("abc", s, "inputs"))
	assert.Equal(t, []string{CodeMinLength}, issueCodes(t, Validate("a", s, "inputs")))
	assert.Equal(t, []string{CodeMaxLength}, issueCodes(t, Validate("abcde", s, "inputs")))
}

func TestValidateNumericBounds(t *testing.T) {
	t.Parallel()
	s := &Schema{Type: "number", Minimum: numptr(1), Maximum: numptr(10)}
	require.NoError(t, Validate(5, s, "inputs"))
	assert.Equal(t, []string{CodeMinimum}, issueCodes(t, Validate(0.5, s, "inputs")))
	assert.Equal(t, []string{CodeMaximum}, issueCodes(t, Validate(11, s, "inputs")))
}

func TestValidateArray(t *testing.T) {
	t.Parallel()
	s := &Schema{
		Type:     "array",
		MinItems: intptr(1),
		MaxItems: intptr(3),
		Items:    &Schema{Type: "integer"},
	}
	require.NoError(t, Validate([]any{1, 2}, s, "inputs"))
	assert.Equal(t, []string{CodeMinItems}, issueCodes(t, Validate([]any{}, s, "inputs")))
	assert.Equal(t, []string{CodeMaxItems}, issueCodes(t, Validate([]any{1, 2, 3, 4}, s, "inputs")))

	err := Validate([]any{1, "two", 3}, s, "inputs")
	assert.Equal(t, []string{CodeTypeMismatch}, issueCodes(t, err))
	ve, _ := AsValidationError(err)
	assert.Equal(t, "inputs[1]", ve.Issues[0].Path)
}

func TestValidateFormats(t *testing.T) {
	t.Parallel()
	t.Run("uri", func(t *testing.T) {
		t.Parallel()
		s := &Schema{Type: "string", Format: "uri"}
		require.NoError(t, Validate("https://example.com/x", s, "inputs"))
		assert.Equal(t, []string{CodeFormatInvalid}, issueCodes(t, Validate("not a url", s, "inputs")))
		assert.Equal(t, []string{CodeFormatInvalid}, issueCodes(t, Validate("/relative/path", s, "inputs")),
			"uri needs scheme and host")
	})
	t.Run("date-time", func(t *testing.T) {
		t.Parallel()
		s := &Schema{Type: "string", Format: "date-time"}
		require.NoError(t, Validate("2026-08-24T10:00:00Z", s, "inputs"))
		require.NoError(t, Validate("2026-08-24T10:00:00.123+02:00", s, "inputs"))
		assert.Equal(t, []string{CodeFormatInvalid}, issueCodes(t, Validate("yesterday", s, "inputs")))
	})
	t.Run("unknown format is unconstrained", func(t *testing.T) {
		t.Parallel()
		s := &Schema{Type: "string", Format: "hostname"}
		require.NoError(t, Validate("anything", s, "inputs"))
	})
}

func TestValidateCollectsAllIssues(t *testing.T) {
	t.Parallel()
	s := &Schema{
		Type:     "object",
		Required: []string{"to", "body"},
		Properties: map[string]*Schema{
			"to":   {Type: "string"},
			"body": {Type: "string"},
		},
	}
	err := Validate(map[string]any{"cc": 1}, s, "inputs")
	codes := issueCodes(t, err)
	assert.ElementsMatch(t, []string{CodeMissingRequired, CodeMissingRequired, CodeUnknownField}, codes)
}
