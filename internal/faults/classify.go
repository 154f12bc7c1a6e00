// Package faults classifies infrastructure faults as retryable or permanent
// and provides the bounded retry and circuit breaker wrappers built on that
// classification.
package faults

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Class is the retry classification of a fault.
type Class int

const (
	// ClassRetryable - transient fault, safe to retry
	ClassRetryable Class = iota

	// ClassPermanent - permanent fault, retrying cannot succeed
	ClassPermanent
)

// String returns a human-readable class name
func (c Class) String() string {
	if c == ClassRetryable {
		return "RETRYABLE"
	}
	return "PERMANENT"
}

// Fault is a captured infrastructure failure with the provider signals the
// classifier evaluates. StatusCode is zero when the fault never produced an
// HTTP response (transport-level failure).
type Fault struct {
	StatusCode int
	Throttling bool
	Code       string
	Message    string
	Err        error
}

// transientPatterns are message substrings that mark a transport-level fault
// as retryable when no status code is available.
var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"timed out",
	"i/o error",
	"io error",
	"unable to execute request",
	"unexpected eof",
	"no such host",
}

// Classify applies the classification rules in order:
//  1. an explicit throttling signal is retryable regardless of status code
//  2. 5xx status codes are retryable
//  3. 4xx status codes are permanent
//  4. transport faults matching a known transient pattern are retryable
//  5. everything else is permanent
func Classify(f Fault) Class {
	if f.Throttling {
		return ClassRetryable
	}
	if f.StatusCode >= 500 && f.StatusCode <= 599 {
		return ClassRetryable
	}
	if f.StatusCode >= 400 && f.StatusCode <= 499 {
		return ClassPermanent
	}
	if matchesTransient(f.Message) {
		return ClassRetryable
	}
	if f.Err != nil && matchesTransient(f.Err.Error()) {
		return ClassRetryable
	}
	return ClassPermanent
}

// IsRetryable reports whether err classifies as retryable.
func IsRetryable(err error) bool {
	return Classify(FromError(err)) == ClassRetryable
}

// FromError extracts classifier signals from an error chain. It understands
// AWS SDK errors (smithy APIError and response errors), net errors, and
// context cancellation. Context cancellation is deliberately permanent: the
// caller gave up, redelivery is the queue's decision.
func FromError(err error) Fault {
	f := Fault{Err: err}
	if err == nil {
		return f
	}
	f.Message = err.Error()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return f
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		f.StatusCode = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		f.Code = apiErr.ErrorCode()
		f.Throttling = isThrottlingCode(apiErr.ErrorCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// Force the transport-pattern path for wrapped timeouts
		if f.Message == "" {
			f.Message = "timeout"
		}
	}

	return f
}

// isThrottlingCode matches the throttling error codes AWS services return.
func isThrottlingCode(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "ThrottledException",
		"RequestThrottled", "RequestThrottledException",
		"TooManyRequestsException", "SlowDown", "RequestLimitExceeded",
		"ProvisionedThroughputExceededException":
		return true
	}
	return false
}

func matchesTransient(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
