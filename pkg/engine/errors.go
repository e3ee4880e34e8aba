// Package engine implements the core convergence workflow:
// Manifest -> Facts -> Plan -> Apply -> Handlers -> Report.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for fatality and reporting decisions.
type ErrorClass string

const (
	// ErrorClassProbe indicates an adapter could not determine the state of
	// a resource. Non-fatal: the resource is treated as absent.
	ErrorClassProbe ErrorClass = "probe"

	// ErrorClassCycle indicates a dependency cycle in the declared
	// resources. Fatal, detected before any mutation.
	ErrorClassCycle ErrorClass = "cycle"

	// ErrorClassApply indicates an adapter failed to apply an action.
	// Fatal by default; continue-on-error downgrades it per run.
	ErrorClassApply ErrorClass = "apply"

	// ErrorClassHandler indicates a notification handler failed.
	// Non-fatal: reported, never rolled back.
	ErrorClassHandler ErrorClass = "handler"

	// ErrorClassValidation indicates an invalid manifest or plan.
	// Fatal, detected before facts are gathered.
	ErrorClassValidation ErrorClass = "validation"
)

// Error is a classified engine error with resource and operation context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource reference that caused the error, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// Fatal reports whether the error aborts the run by default.
func (e *Error) Fatal() bool {
	switch e.Class {
	case ErrorClassCycle, ErrorClassValidation, ErrorClassApply:
		return true
	default:
		return false
	}
}

// NewProbeError creates a probe error.
func NewProbeError(message string, err error) *Error {
	return &Error{Class: ErrorClassProbe, Message: message, Err: err}
}

// NewCycleError creates a dependency cycle error.
func NewCycleError(message string, err error) *Error {
	return &Error{Class: ErrorClassCycle, Message: message, Err: err}
}

// NewApplyError creates an apply error.
func NewApplyError(message string, err error) *Error {
	return &Error{Class: ErrorClassApply, Message: message, Err: err}
}

// NewHandlerError creates a handler error.
func NewHandlerError(message string, err error) *Error {
	return &Error{Class: ErrorClassHandler, Message: message, Err: err}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Err: err}
}

// WithResource adds resource context to the error.
func (e *Error) WithResource(ref string) *Error {
	e.Resource = ref
	return e
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// IsProbeError reports whether err is classified as a probe failure.
func IsProbeError(err error) bool { return hasClass(err, ErrorClassProbe) }

// IsCycleError reports whether err is classified as a dependency cycle.
func IsCycleError(err error) bool { return hasClass(err, ErrorClassCycle) }

// IsApplyError reports whether err is classified as an apply failure.
func IsApplyError(err error) bool { return hasClass(err, ErrorClassApply) }

// IsHandlerError reports whether err is classified as a handler failure.
func IsHandlerError(err error) bool { return hasClass(err, ErrorClassHandler) }

// IsValidationError reports whether err is classified as a validation failure.
func IsValidationError(err error) bool { return hasClass(err, ErrorClassValidation) }

func hasClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}
