package common

import (
	"fmt"
	"net/http"
)

// ErrorKind represents the category of use case error.
// Each kind maps to a specific HTTP status code.
type ErrorKind int

const (
	// ErrorKindValidation represents input validation failures.
	// Maps to HTTP 400 Bad Request.
	ErrorKindValidation ErrorKind = iota

	// ErrorKindStateViolation represents illegal aggregate state transitions
	// (adding a part to a completed upload, aborting a completed session).
	// Maps to HTTP 409 Conflict.
	ErrorKindStateViolation

	// ErrorKindNotFound represents entity not found errors.
	// Maps to HTTP 404 Not Found.
	ErrorKindNotFound

	// ErrorKindConcurrency represents conditional-update conflicts
	// (another worker claimed the row first).
	// Maps to HTTP 409 Conflict.
	ErrorKindConcurrency

	// ErrorKindInfrastructure represents faults from external collaborators
	// (object store, queue, database). Maps to HTTP 502 Bad Gateway.
	ErrorKindInfrastructure

	// ErrorKindInternal represents unexpected internal errors.
	// Maps to HTTP 500 Internal Server Error.
	ErrorKindInternal
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindValidation:
		return "VALIDATION"
	case ErrorKindStateViolation:
		return "STATE_VIOLATION"
	case ErrorKindNotFound:
		return "NOT_FOUND"
	case ErrorKindConcurrency:
		return "CONCURRENCY"
	case ErrorKindInfrastructure:
		return "INFRASTRUCTURE"
	case ErrorKindInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// HTTPStatus returns the HTTP status code for this error kind.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindStateViolation:
		return http.StatusConflict
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindConcurrency:
		return http.StatusConflict
	case ErrorKindInfrastructure:
		return http.StatusBadGateway
	case ErrorKindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// UseCaseError represents an error from a use case execution.
// It contains structured information about what went wrong,
// suitable for both logging and API responses.
//
// The Kind is what the consumer boundary inspects: state violations and
// validation errors are client errors and must never trigger a queue
// redelivery; infrastructure errors must.
type UseCaseError struct {
	Kind    ErrorKind      `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *UseCaseError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Kind.String(), e.Code, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *UseCaseError) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// IsClientError returns true if the error was caused by the caller and
// retrying the same operation cannot succeed.
func (e *UseCaseError) IsClientError() bool {
	return e.Kind == ErrorKindValidation ||
		e.Kind == ErrorKindStateViolation ||
		e.Kind == ErrorKindNotFound
}

// WithDetail adds a detail to the error and returns it for chaining.
func (e *UseCaseError) WithDetail(key string, value any) *UseCaseError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ValidationError creates a new validation error.
// Use for input validation failures (missing required fields, invalid format, etc.)
func ValidationError(code, message string, details map[string]any) *UseCaseError {
	return &UseCaseError{
		Kind:    ErrorKindValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// StateViolationError creates a new state violation error.
// Use when an aggregate rejects a transition from its current status.
func StateViolationError(code, message string, details map[string]any) *UseCaseError {
	return &UseCaseError{
		Kind:    ErrorKindStateViolation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NotFoundError creates a new not found error.
func NotFoundError(code, message string, details map[string]any) *UseCaseError {
	return &UseCaseError{
		Kind:    ErrorKindNotFound,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ConcurrencyError creates a new concurrency error.
// Use when a conditional status update matched no document.
func ConcurrencyError(code, message string, details map[string]any) *UseCaseError {
	return &UseCaseError{
		Kind:    ErrorKindConcurrency,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// InfrastructureError creates a new infrastructure error.
// Use for faults from the object store, queue, or database.
func InfrastructureError(code, message string, details map[string]any) *UseCaseError {
	return &UseCaseError{
		Kind:    ErrorKindInfrastructure,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// InternalError creates a new internal error.
func InternalError(code, message string, details map[string]any) *UseCaseError {
	return &UseCaseError{
		Kind:    ErrorKindInternal,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error codes for reuse across use cases
const (
	// Validation error codes
	ErrCodeRequired      = "REQUIRED"
	ErrCodeInvalidFormat = "INVALID_FORMAT"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeInvalidURL    = "INVALID_URL"

	// State violation error codes
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeDuplicatePart    = "DUPLICATE_PART"
	ErrCodeIncompleteUpload = "INCOMPLETE_UPLOAD"
	ErrCodeAlreadyCompleted = "ALREADY_COMPLETED"
	ErrCodeDuplicateKey     = "DUPLICATE_IDEMPOTENCY_KEY"

	// Not found error codes
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeDownloadNotFound = "DOWNLOAD_NOT_FOUND"
	ErrCodeOutboxNotFound   = "OUTBOX_NOT_FOUND"

	// Infrastructure error codes
	ErrCodeStorageError = "STORAGE_ERROR"
	ErrCodeQueueError   = "QUEUE_ERROR"
	ErrCodeDBError      = "DB_ERROR"
)
