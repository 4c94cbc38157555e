// Package errors provides kind-tagged errors shared by the book engine, the
// detector and the introspection API.
package errors

import (
	"errors"
	"fmt"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds
const (
	KindInvalidInput     = "invalid_input"
	KindChecksumMismatch = "checksum_mismatch"
	KindSequenceGap      = "sequence_gap"
	KindNotFound         = "not_found"
	KindUnknown          = "unknown"
)

// Sentinels compared by kind with errors.Is.
var (
	Invalid          = NewWithKind(KindInvalidInput)
	ChecksumMismatch = NewWithKind(KindChecksumMismatch)
	SequenceGap      = NewWithKind(KindSequenceGap)
	NotFound         = NewWithKind(KindNotFound)
)

// FieldError names the input field that failed validation.
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindUnknown, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

func Wrap(err error) *Error {
	return &Error{Kind: KindUnknown, cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s]", e.Kind)
	if e.Message != "" {
		str += " " + e.Message
	}
	for _, f := range e.Fields {
		str += fmt.Sprintf(" %s=%q", f.Field, f.Message)
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the cause set.
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithField returns a copy of the error with one more field error appended.
func (e *Error) WithField(kind, field, message string) *Error {
	err := *e
	err.Fields = append(append([]FieldError(nil), e.Fields...), NewFieldError(kind, field, message))
	return &err
}

// Field returns the name of the first failing field, if any.
func (e *Error) Field() string {
	if e == nil || len(e.Fields) == 0 {
		return ""
	}
	return e.Fields[0].Field
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
