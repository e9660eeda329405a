package runtime

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a runtime failure for callers that branch on the
// failure family rather than the specific code.
type ErrorKind string

// Failure families.
const (
	KindValidation  ErrorKind = "validation"
	KindPolicy      ErrorKind = "policy"
	KindComposition ErrorKind = "composition"
	KindAdapter     ErrorKind = "adapter"
	KindPipeline    ErrorKind = "pipeline"
	KindRegistry    ErrorKind = "registry"
)

// Stable failure codes. Schema validation failures carry the schema package's
// codes instead; registry failures carry the registry package's.
const (
	CodePolicyDenied     = "policy_denied"
	CodePolicyError      = "policy_error"
	CodeEntryUnavailable = "entry_unavailable"

	CodeCallTargetNotAllowed = "call_target_not_allowed"
	CodeOpRuntimeMissing     = "op_runtime_missing"

	CodeAdapterMissing     = "adapter_missing"
	CodeTimeout            = "timeout"
	CodeInvalidEntrypoint  = "invalid_entrypoint"
	CodeToolCallFailed     = "tool_call_failed"
	CodeModuleImportFailed = "module_import_failed"
	CodeHandlerMissing     = "handler_missing"

	CodePipelineInputMissing       = "pipeline_input_missing"
	CodePipelineOutputMissing      = "pipeline_output_missing"
	CodePipelineSourceInvalid      = "pipeline_source_invalid"
	CodePipelineSourceMissingStep  = "pipeline_source_missing_step"
	CodePipelineSourceMissingField = "pipeline_source_missing_field"
)

// Error is the uniform failure value returned by the runtime. Meta carries
// machine-readable detail such as policy reasons or the offending path.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Meta    map[string]any

	cause error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// newError builds an Error with formatted message and no metadata.
func newError(kind ErrorKind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// wrapError builds an Error around a cause.
func wrapError(kind ErrorKind, code string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) withMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// Errorf builds an Error. It is the constructor used by adapter packages so
// their failures flow through the runtime's failure mapping unchanged.
func Errorf(kind ErrorKind, code, format string, args ...any) *Error {
	return newError(kind, code, format, args...)
}

// WrapErrorf builds an Error around a cause for adapter packages.
func WrapErrorf(kind ErrorKind, code string, cause error, format string, args ...any) *Error {
	return wrapError(kind, code, cause, format, args...)
}

// WithMeta attaches one metadata entry and returns the error.
func (e *Error) WithMeta(key string, value any) *Error { return e.withMeta(key, value) }

// AsError extracts a runtime *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsCode reports whether err is a runtime Error with the given code.
func IsCode(err error, code string) bool {
	re, ok := AsError(err)
	return ok && re.Code == code
}
