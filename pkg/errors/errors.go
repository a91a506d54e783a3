// Package errors defines the unified error taxonomy for memory engine
// operations. Low-level failures from sub-stores and the filesystem are
// mapped to these types at each component's boundary before surfacing.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types as constants for consistency.
const (
	TypeValidation = "validation_error"
	TypeNotFound   = "not_found_error"
	TypeIO         = "io_error"
	TypeConflict   = "conflict_error"
)

// MemoryError represents a standardized error from a memory engine
// component. It contains all necessary information for error handling,
// logging, and client responses.
type MemoryError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Op        string `json:"op"`
	Resource  string `json:"resource,omitempty"`
	Retryable bool   `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s: %s (resource=%s)", e.Type, e.Op, e.Message, e.Resource)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Op, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *MemoryError) Unwrap() error {
	return e.cause
}

// WithCause attaches the underlying low-level error.
func (e *MemoryError) WithCause(err error) *MemoryError {
	e.cause = err
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *MemoryError) HTTPStatusCode() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusUnprocessableEntity
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeIO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError reports a line-numbering or referential-integrity
// violation.
func NewValidationError(op, resource, message string) *MemoryError {
	return &MemoryError{
		Type:      TypeValidation,
		Message:   message,
		Op:        op,
		Resource:  resource,
		Retryable: false,
	}
}

// NewNotFoundError reports a missing platform, session, entity, or
// snapshot.
func NewNotFoundError(op, resource, message string) *MemoryError {
	return &MemoryError{
		Type:      TypeNotFound,
		Message:   message,
		Op:        op,
		Resource:  resource,
		Retryable: false,
	}
}

// NewIOError reports a filesystem or collaborator transport failure.
func NewIOError(op, resource, message string) *MemoryError {
	return &MemoryError{
		Type:      TypeIO,
		Message:   message,
		Op:        op,
		Resource:  resource,
		Retryable: true,
	}
}

// NewConflictError reports a duplicate fragment key, an append to a
// quarantined file, or an extraction pass attempted while one is already
// in flight.
func NewConflictError(op, resource, message string) *MemoryError {
	return &MemoryError{
		Type:      TypeConflict,
		Message:   message,
		Op:        op,
		Resource:  resource,
		Retryable: false,
	}
}

// isType reports whether err is a MemoryError of the given type anywhere
// in its chain.
func isType(err error, typ string) bool {
	var me *MemoryError
	if errors.As(err, &me) {
		return me.Type == typ
	}
	return false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isType(err, TypeValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return isType(err, TypeNotFound) }

// IsIO reports whether err is an I/O error.
func IsIO(err error) bool { return isType(err, TypeIO) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return isType(err, TypeConflict) }
