package faults

import (
	"context"
	"log/slog"
	"time"

	"go.fileflow.dev/internal/common/metrics"
)

// RetryPolicy bounds the retry wrapper. Attempts counts the total calls made,
// not the retries after the first call.
type RetryPolicy struct {
	// Operation names the wrapped call for logging and metrics
	Operation string

	// MaxAttempts is the total attempt budget (default 3)
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt (default 1s)
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth (default 10s)
	MaxBackoff time.Duration

	// Multiplier grows the backoff between attempts (default 2.0)
	Multiplier float64
}

// DefaultRetryPolicy returns the standard policy for object store calls.
func DefaultRetryPolicy(operation string) RetryPolicy {
	return RetryPolicy{
		Operation:      operation,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	return p
}

// Retry executes op with bounded exponential backoff. Only faults that
// classify retryable consume additional attempts; a permanent fault returns
// immediately. The context cancels both the wait and further attempts.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	p := policy.normalized()

	backoff := p.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(p.Operation, "success").Inc()
			return nil
		}
		lastErr = err

		if Classify(FromError(err)) == ClassPermanent {
			metrics.RetryAttempts.WithLabelValues(p.Operation, "permanent").Inc()
			return err
		}
		metrics.RetryAttempts.WithLabelValues(p.Operation, "retryable").Inc()

		if attempt == p.MaxAttempts {
			break
		}

		slog.Warn("Retrying after transient fault",
			"operation", p.Operation,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	metrics.RetryExhausted.WithLabelValues(p.Operation).Inc()
	return lastErr
}
