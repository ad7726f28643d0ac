// Package apperrors provides sentinel and custom error types for the atlas core.
package apperrors

import "errors"

// ErrNotFound represents a "not found" error.
// Use when a requested item, embedding or cluster doesn't exist.
var ErrNotFound = &NotFoundError{}

// NotFoundError is a sentinel error for resources that are not found.
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new NotFoundError with a custom message.
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Resource != "" {
		return e.Resource + " not found"
	}

	return "resource not found"
}

// Is implements the error interface for error comparison.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}

// ErrValidation represents a validation error.
// Use when caller-supplied options (limits, thresholds, sizes) are out of range.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrDegenerateInput is reported when there are too few items for a meaningful computation.
var ErrDegenerateInput = errors.New("degenerate input: not enough items")

// ErrComputeTimeout is reported when a numeric computation exceeds its wall-clock bound.
var ErrComputeTimeout = errors.New("compute timeout")

// ErrCompute is the sentinel for failures inside numeric code (reduction, clustering).
var ErrCompute = &ComputeError{}

// ComputeError wraps a failure (or recovered panic) inside a numeric stage.
type ComputeError struct {
	Stage string
	Err   error
}

// NewComputeError creates a ComputeError for the given stage.
func NewComputeError(stage string, err error) *ComputeError {
	return &ComputeError{Stage: stage, Err: err}
}

// Error implements the error interface.
func (e *ComputeError) Error() string {
	if e.Err == nil {
		return "compute error in " + e.Stage
	}

	return "compute error in " + e.Stage + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ComputeError) Unwrap() error {
	return e.Err
}

// Is implements the error interface for error comparison.
func (e *ComputeError) Is(target error) bool {
	_, ok := target.(*ComputeError)

	return ok
}

// ErrEmbeddingNotFound is returned by stores when an item has no embedding for the owner.
var ErrEmbeddingNotFound = NewNotFoundError("embedding", "embedding not found for item")
