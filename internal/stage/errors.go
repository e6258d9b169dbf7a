// Package stage holds the error taxonomy shared by every pipeline stage.
//
// Failures fall into four kinds:
//   - MissingInput: a required file, column or image is absent
//   - CardinalityMismatch: comparison sets are empty, unequal or misaligned
//   - SingularDesign: a design matrix cannot be inverted for a contrast
//   - InvalidInput: inputs exist but are inconsistent (shape, label, value)
//
// None are retried. A failure aborts the unit of work that produced it.
package stage

import (
	"errors"
	"fmt"
)

// Code categorizes stage errors.
type Code string

const (
	CodeMissingInput        Code = "MISSING_INPUT"
	CodeCardinalityMismatch Code = "CARDINALITY_MISMATCH"
	CodeSingularDesign      Code = "SINGULAR_DESIGN"
	CodeInvalidInput        Code = "INVALID_INPUT"
)

// Error is a categorized stage failure.
type Error struct {
	Code    Code
	Message string
	// Path is the input file involved, when there is one.
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MissingInput reports an absent file or column.
func MissingInput(path, format string, args ...any) *Error {
	return &Error{Code: CodeMissingInput, Message: fmt.Sprintf(format, args...), Path: path}
}

// Mismatch reports misaligned comparison sets.
func Mismatch(format string, args ...any) *Error {
	return &Error{Code: CodeCardinalityMismatch, Message: fmt.Sprintf(format, args...)}
}

// Singular reports a rank-deficient design.
func Singular(err error, format string, args ...any) *Error {
	return &Error{Code: CodeSingularDesign, Message: fmt.Sprintf(format, args...), Err: err}
}

// Invalid reports inconsistent inputs.
func Invalid(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first stage error in err's chain, or "".
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsMissingInput reports whether err carries CodeMissingInput.
func IsMissingInput(err error) bool { return CodeOf(err) == CodeMissingInput }

// IsMismatch reports whether err carries CodeCardinalityMismatch.
func IsMismatch(err error) bool { return CodeOf(err) == CodeCardinalityMismatch }

// IsSingular reports whether err carries CodeSingularDesign.
func IsSingular(err error) bool { return CodeOf(err) == CodeSingularDesign }

// IsInvalid reports whether err carries CodeInvalidInput.
func IsInvalid(err error) bool { return CodeOf(err) == CodeInvalidInput }
