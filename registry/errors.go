package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Stable registry error codes.
const (
	CodeFileNotFound     = "registry_file_not_found"
	CodeValidationFailed = "registry_validation_failed"
	CodeOverlayFailed    = "overlay_validation_failed"
	CodeAmbiguousVersion = "ambiguous_version"
	CodeSkillNotFound    = "skill_not_found"
	CodeOpNotFound       = "op_not_found"
)

// Error is a registry failure with a stable code and, for load failures, the
// full list of problems found so callers can report them all at once.
type Error struct {
	Code    string
	Message string
	Issues  []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s:\n  %s", e.Code, e.Message, strings.Join(e.Issues, "\n  "))
}

// newError builds an Error without issues.
func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err into a *Error when possible.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ErrorCode returns the registry code carried by err, or the empty string.
func ErrorCode(err error) string {
	if re, ok := AsError(err); ok {
		return re.Code
	}
	return ""
}

// IsCode reports whether err is a registry Error with the given code.
func IsCode(err error, code string) bool {
	re, ok := AsError(err)
	return ok && re.Code == code
}
