// Package errors provides standardized error types for use across the
// dialog runtime's packages.
//
// ContextualError is the base error type that captures component, operation,
// and an optional cause. It implements the error and Unwrap interfaces for
// seamless integration with Go's errors package.
//
// Usage:
//
//	err := errors.New("actor", "GetTrueLabel", someErr)
//	err = err.WithDetails(map[string]any{"turn_id": 4})
package errors

import "fmt"

// ContextualError is a structured error type that provides consistent
// context about where and why an error occurred.
type ContextualError struct {
	// Component identifies the package that produced the error (e.g. "actor", "pipeline", "storage").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)
	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}
	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithDetails returns the error with the given details map attached.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}
