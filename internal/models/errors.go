package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for store and API boundaries.
var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError rejects a task at the enqueue boundary before it is stored.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Detail)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// ExecutionError is a handler failure, classified retryable or terminal.
// Network and timeout failures are retryable; malformed payloads and
// permanent upstream rejections are not.
type ExecutionError struct {
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }

// Retryablef builds a retryable ExecutionError.
func Retryablef(format string, args ...any) *ExecutionError {
	return &ExecutionError{Retryable: true, Err: fmt.Errorf(format, args...)}
}

// Permanentf builds a terminal ExecutionError.
func Permanentf(format string, args ...any) *ExecutionError {
	return &ExecutionError{Retryable: false, Err: fmt.Errorf(format, args...)}
}

// IsRetryable reports whether err should re-enqueue the task. Errors that
// carry no classification default to retryable so transient upstream
// conditions are not marked terminal by accident.
func IsRetryable(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Retryable
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return false
	}
	return true
}

// APIError is the uniform HTTP error body.
type APIError struct {
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"status_code"`
}
