// Package schema implements the deterministic JSON-Schema subset used to
// validate skill and op inputs and outputs at runtime, and the structural
// compatibility rules used when wiring pipeline steps together at registry
// load time.
//
// The subset is intentionally strict: when an object schema declares
// properties, unknown keys are rejected unless additionalProperties permits
// them. Every validation failure carries a stable short code, the offending
// path (e.g. "inputs.foo.bar[2]") and the violated constraint.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stable issue codes reported by Validate.
const (
	CodeTypeMismatch    = "schema_type_mismatch"
	CodeMissingRequired = "schema_missing_required"
	CodeUnknownField    = "schema_unknown_field"
	CodeEnumMismatch    = "schema_enum_mismatch"
	CodeMinLength       = "schema_min_length"
	CodeMaxLength       = "schema_max_length"
	CodeMinimum         = "schema_minimum"
	CodeMaximum         = "schema_maximum"
	CodeMinItems        = "schema_min_items"
	CodeMaxItems        = "schema_max_items"
	CodeFormatInvalid   = "schema_format_invalid"
	CodeInvalidSchema   = "schema_invalid"
)

type (
	// Schema is the declarative subset consumed by the runtime validator.
	// Absent fields impose no constraint.
	Schema struct {
		Type                 string             `json:"type,omitempty" yaml:"type,omitempty"`
		Enum                 []any              `json:"enum,omitempty" yaml:"enum,omitempty"`
		Required             []string           `json:"required,omitempty" yaml:"required,omitempty"`
		Properties           map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
		AdditionalProperties *Additional        `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`
		MinLength            *int               `json:"minLength,omitempty" yaml:"minLength,omitempty"`
		MaxLength            *int               `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
		Minimum              *float64           `json:"minimum,omitempty" yaml:"minimum,omitempty"`
		Maximum              *float64           `json:"maximum,omitempty" yaml:"maximum,omitempty"`
		MinItems             *int               `json:"minItems,omitempty" yaml:"minItems,omitempty"`
		MaxItems             *int               `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`
		Items                *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
		Format               string             `json:"format,omitempty" yaml:"format,omitempty"`
	}

	// Additional models the boolean-or-schema form of additionalProperties.
	Additional struct {
		// Allowed reports whether extra keys are permitted at all.
		Allowed bool
		// Schema, when non-nil, constrains the value of each extra key.
		Schema *Schema
	}

	// Issue is a single validation failure.
	Issue struct {
		// Code is one of the stable schema_* codes.
		Code string `json:"code"`
		// Path names the offending location, e.g. "inputs.foo.bar[2]".
		Path string `json:"path"`
		// Message is a human-readable description naming the path.
		Message string `json:"message"`
		// Meta carries the specific constraint that was violated.
		Meta map[string]any `json:"meta,omitempty"`
	}

	// ValidationError aggregates all issues found for one value.
	ValidationError struct {
		Issues []Issue
	}
)

// Error implements the error interface, summarizing the first issue.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "schema validation failed"
	}
	first := e.Issues[0]
	if len(e.Issues) == 1 {
		return first.Message
	}
	return fmt.Sprintf("%s (and %d more)", first.Message, len(e.Issues)-1)
}

// AsValidationError unwraps err into a *ValidationError when possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// UnmarshalJSON accepts either a boolean or an embedded schema.
func (a *Additional) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		a.Allowed = b
		a.Schema = nil
		return nil
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("additionalProperties must be a boolean or a schema: %w", err)
	}
	a.Allowed = true
	a.Schema = &s
	return nil
}

// MarshalJSON renders the boolean form when no sub-schema is set.
func (a Additional) MarshalJSON() ([]byte, error) {
	if a.Schema != nil {
		return json.Marshal(a.Schema)
	}
	return json.Marshal(a.Allowed)
}

// Validate checks value against s and returns a *ValidationError listing
// every violation, or nil when the value conforms. root prefixes all issue
// paths ("inputs" and "outputs" in runtime use).
func Validate(value any, s *Schema, root string) error {
	if s == nil {
		return nil
	}
	issues := validate(value, s, root)
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func validate(value any, s *Schema, path string) []Issue {
	var issues []Issue

	if s.Type != "" {
		ok, known := typeMatches(value, s.Type)
		if !known {
			return []Issue{{
				Code:    CodeInvalidSchema,
				Path:    path,
				Message: fmt.Sprintf("%s: unsupported schema type %q", path, s.Type),
				Meta:    map[string]any{"type": s.Type},
			}}
		}
		if !ok {
			return []Issue{{
				Code:    CodeTypeMismatch,
				Path:    path,
				Message: fmt.Sprintf("%s: expected %s, got %s", path, s.Type, jsonTypeName(value)),
				Meta:    map[string]any{"expected": s.Type, "actual": jsonTypeName(value)},
			}}
		}
	}

	if len(s.Enum) > 0 && !enumContains(s.Enum, value) {
		issues = append(issues, Issue{
			Code:    CodeEnumMismatch,
			Path:    path,
			Message: fmt.Sprintf("%s: value not in enum", path),
			Meta:    map[string]any{"enum": s.Enum},
		})
	}

	switch v := value.(type) {
	case string:
		issues = append(issues, validateString(v, s, path)...)
	case map[string]any:
		issues = append(issues, validateObject(v, s, path)...)
	case []any:
		issues = append(issues, validateArray(v, s, path)...)
	default:
		if f, ok := numericValue(value); ok {
			issues = append(issues, validateNumber(f, s, path)...)
		}
	}
	return issues
}

func validateString(v string, s *Schema, path string) []Issue {
	var issues []Issue
	n := len([]rune(v))
	if s.MinLength != nil && n < *s.MinLength {
		issues = append(issues, Issue{
			Code:    CodeMinLength,
			Path:    path,
			Message: fmt.Sprintf("%s: length %d below minLength %d", path, n, *s.MinLength),
			Meta:    map[string]any{"minLength": *s.MinLength, "length": n},
		})
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		issues = append(issues, Issue{
			Code:    CodeMaxLength,
			Path:    path,
			Message: fmt.Sprintf("%s: length %d above maxLength %d", path, n, *s.MaxLength),
			Meta:    map[string]any{"maxLength": *s.MaxLength, "length": n},
		})
	}
	if s.Format != "" {
		if err := checkFormat(v, s.Format); err != nil {
			issues = append(issues, Issue{
				Code:    CodeFormatInvalid,
				Path:    path,
				Message: fmt.Sprintf("%s: %s", path, err.Error()),
				Meta:    map[string]any{"format": s.Format},
			})
		}
	}
	return issues
}

func validateNumber(f float64, s *Schema, path string) []Issue {
	var issues []Issue
	if s.Minimum != nil && f < *s.Minimum {
		issues = append(issues, Issue{
			Code:    CodeMinimum,
			Path:    path,
			Message: fmt.Sprintf("%s: %v below minimum %v", path, f, *s.Minimum),
			Meta:    map[string]any{"minimum": *s.Minimum, "value": f},
		})
	}
	if s.Maximum != nil && f > *s.Maximum {
		issues = append(issues, Issue{
			Code:    CodeMaximum,
			Path:    path,
			Message: fmt.Sprintf("%s: %v above maximum %v", path, f, *s.Maximum),
			Meta:    map[string]any{"maximum": *s.Maximum, "value": f},
		})
	}
	return issues
}

func validateObject(v map[string]any, s *Schema, path string) []Issue {
	var issues []Issue
	for _, req := range s.Required {
		if _, ok := v[req]; !ok {
			issues = append(issues, Issue{
				Code:    CodeMissingRequired,
				Path:    joinPath(path, req),
				Message: fmt.Sprintf("%s: missing required field", joinPath(path, req)),
				Meta:    map[string]any{"required": req},
			})
		}
	}
	if s.Properties == nil {
		return issues
	}
	for key, val := range v {
		sub, declared := s.Properties[key]
		if declared {
			issues = append(issues, validate(val, sub, joinPath(path, key))...)
			continue
		}
		switch {
		case s.AdditionalProperties == nil || !s.AdditionalProperties.Allowed:
			// Strict by default once properties are declared.
			issues = append(issues, Issue{
				Code:    CodeUnknownField,
				Path:    joinPath(path, key),
				Message: fmt.Sprintf("%s: unknown field", joinPath(path, key)),
				Meta:    map[string]any{"field": key},
			})
		case s.AdditionalProperties.Schema != nil:
			issues = append(issues, validate(val, s.AdditionalProperties.Schema, joinPath(path, key))...)
		}
	}
	return issues
}

func validateArray(v []any, s *Schema, path string) []Issue {
	var issues []Issue
	if s.MinItems != nil && len(v) < *s.MinItems {
		issues = append(issues, Issue{
			Code:    CodeMinItems,
			Path:    path,
			Message: fmt.Sprintf("%s: %d items below minItems %d", path, len(v), *s.MinItems),
			Meta:    map[string]any{"minItems": *s.MinItems, "items": len(v)},
		})
	}
	if s.MaxItems != nil && len(v) > *s.MaxItems {
		issues = append(issues, Issue{
			Code:    CodeMaxItems,
			Path:    path,
			Message: fmt.Sprintf("%s: %d items above maxItems %d", path, len(v), *s.MaxItems),
			Meta:    map[string]any{"maxItems": *s.MaxItems, "items": len(v)},
		})
	}
	if s.Items != nil {
		for i, item := range v {
			issues = append(issues, validate(item, s.Items, fmt.Sprintf("%s[%d]", path, i))...)
		}
	}
	return issues
}

// typeMatches reports whether value conforms to the named base type and
// whether the type name is part of the supported subset. Booleans are never
// numbers.
func typeMatches(value any, typ string) (matches, known bool) {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok, true
	case "boolean":
		_, ok := value.(bool)
		return ok, true
	case "object":
		_, ok := value.(map[string]any)
		return ok, true
	case "array":
		_, ok := value.([]any)
		return ok, true
	case "number":
		_, ok := numericValue(value)
		return ok, true
	case "integer":
		f, ok := numericValue(value)
		return ok && f == float64(int64(f)), true
	default:
		return false, false
	}
}

// numericValue normalizes the numeric representations produced by
// encoding/json and by native Go callers. Booleans are excluded.
func numericValue(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		if f, ok := numericValue(value); ok {
			if f == float64(int64(f)) {
				return "integer"
			}
			return "number"
		}
		return fmt.Sprintf("%T", value)
	}
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if equalValues(candidate, value) {
			return true
		}
	}
	return false
}

// equalValues compares JSON values with numeric normalization so 2 and 2.0
// are treated as the same enum member.
func equalValues(a, b any) bool {
	if fa, ok := numericValue(a); ok {
		if fb, ok := numericValue(b); ok {
			return fa == fb
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		ab, errA := json.Marshal(a)
		bb, errB := json.Marshal(b)
		return errA == nil && errB == nil && string(ab) == string(bb)
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// Property returns the sub-schema declared for the named field, or nil.
func (s *Schema) Property(name string) *Schema {
	if s == nil {
		return nil
	}
	return s.Properties[name]
}

// IsRequired reports whether name appears in the schema's required list.
func (s *Schema) IsRequired(name string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// allowsAdditional reports whether the schema admits keys beyond its declared
// properties.
func (s *Schema) allowsAdditional() bool {
	if s == nil {
		return true
	}
	if s.Properties == nil {
		return true
	}
	return s.AdditionalProperties != nil && s.AdditionalProperties.Allowed
}
