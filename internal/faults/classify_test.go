package faults

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyThrottlingBeatsStatusCode(t *testing.T) {
	// A throttled 400 must still be retryable
	f := Fault{StatusCode: 400, Throttling: true}
	if got := Classify(f); got != ClassRetryable {
		t.Errorf("expected RETRYABLE for throttled 400, got %s", got)
	}
}

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       Class
	}{
		{"internal server error", 500, ClassRetryable},
		{"bad gateway", 502, ClassRetryable},
		{"service unavailable", 503, ClassRetryable},
		{"gateway timeout", 504, ClassRetryable},
		{"bad request", 400, ClassPermanent},
		{"not found", 404, ClassPermanent},
		{"conflict", 409, ClassPermanent},
		{"too many requests without throttle flag", 429, ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Fault{StatusCode: tt.statusCode})
			if got != tt.want {
				t.Errorf("status %d: expected %s, got %s", tt.statusCode, tt.want, got)
			}
		})
	}
}

func TestClassifyTransportPatterns(t *testing.T) {
	tests := []struct {
		message string
		want    Class
	}{
		{"connection reset by peer", ClassRetryable},
		{"dial tcp: i/o timeout", ClassRetryable},
		{"read: broken pipe", ClassRetryable},
		{"unable to execute request", ClassRetryable},
		{"unexpected EOF", ClassRetryable},
		{"access denied", ClassPermanent},
		{"no such bucket", ClassPermanent},
		{"", ClassPermanent},
	}

	for _, tt := range tests {
		got := Classify(Fault{Message: tt.message})
		if got != tt.want {
			t.Errorf("message %q: expected %s, got %s", tt.message, tt.want, got)
		}
	}
}

func TestClassifyTransportPatternFromWrappedError(t *testing.T) {
	err := errors.New("Put \"https://bucket.s3.amazonaws.com/key\": connection reset by peer")
	f := Fault{Err: err}
	if got := Classify(f); got != ClassRetryable {
		t.Errorf("expected RETRYABLE for wrapped connection reset, got %s", got)
	}
}

func TestFromErrorContextCancellationIsPermanent(t *testing.T) {
	for _, err := range []error{context.Canceled, context.DeadlineExceeded} {
		f := FromError(err)
		if got := Classify(f); got != ClassPermanent {
			t.Errorf("%v: expected PERMANENT, got %s", err, got)
		}
	}
}

func TestIsThrottlingCode(t *testing.T) {
	retryable := []string{"Throttling", "ThrottlingException", "SlowDown", "RequestLimitExceeded"}
	for _, code := range retryable {
		if !isThrottlingCode(code) {
			t.Errorf("expected %q to be a throttling code", code)
		}
	}
	if isThrottlingCode("AccessDenied") {
		t.Error("AccessDenied must not be a throttling code")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.New("request timed out")) {
		t.Error("timeout should be retryable")
	}
	if IsRetryable(errors.New("invalid signature")) {
		t.Error("signature error should not be retryable")
	}
}
