// Package common provides the shared use case result and error types.
// Use cases return Result values instead of raw errors so callers can
// distinguish client errors from infrastructure faults without type
// switching on error chains.
package common

// Result represents the outcome of a use case execution. Exactly one of
// Value and Error is meaningful: Error is nil on success.
type Result[T any] struct {
	Value T
	Error *UseCaseError
}

// Success creates a successful result.
func Success[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Failure creates a failed result.
func Failure[T any](err *UseCaseError) Result[T] {
	return Result[T]{Error: err}
}

// IsSuccess returns true if the result is successful.
func (r Result[T]) IsSuccess() bool {
	return r.Error == nil
}

// IsFailure returns true if the result is a failure.
func (r Result[T]) IsFailure() bool {
	return r.Error != nil
}

// Map transforms a successful result's value using the provided function.
// If the result is a failure, it returns the failure unchanged.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.IsFailure() {
		return Failure[U](r.Error)
	}
	return Success(fn(r.Value))
}
