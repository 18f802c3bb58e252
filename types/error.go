package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	// ErrValidation means input did not satisfy a schema. Rejected before
	// execution, never retried.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrToolExecution means the underlying tool reported failure. May
	// trigger an alternative.
	ErrToolExecution ErrorCode = "TOOL_EXECUTION"
	// ErrTimeout means a step or composition exceeded its budget.
	// Composition-level timeouts are fatal; step-level timeouts are treated
	// like ErrToolExecution and may be substituted.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrMapping means a required source expression could not be resolved.
	// Fatal for the owning step.
	ErrMapping ErrorCode = "MAPPING"
	// ErrCompositionNotFound is a registry lookup miss. It routes the
	// request to ad-hoc decomposition and is not user visible.
	ErrCompositionNotFound ErrorCode = "COMPOSITION_NOT_FOUND"
	// ErrStorage means the registry or knowledge base is unreachable or
	// corrupt. Fatal to the enclosing request.
	ErrStorage ErrorCode = "STORAGE"
	// ErrInternal covers everything that has no better classification.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	StepID    string    `json:"step_id,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.StepID != "" && e.Cause != nil:
		return fmt.Sprintf("[%s] step %s: %s: %v", e.Code, e.StepID, e.Message, e.Cause)
	case e.StepID != "":
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStep attaches the identifier of the failing step.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// FailingStep extracts the failing step ID from an error chain, if any.
func FailingStep(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.StepID
	}
	return ""
}
