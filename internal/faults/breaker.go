package faults

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"go.fileflow.dev/internal/common/metrics"
)

// BreakerConfig configures a circuit breaker around a failing dependency.
type BreakerConfig struct {
	// Name identifies the breaker in logs and metrics
	Name string

	// Interval is the sliding stats window in the closed state
	Interval time.Duration

	// Timeout is the wait in the open state before half-open probing
	Timeout time.Duration

	// FailureRatio trips the breaker once exceeded over the window
	FailureRatio float64

	// MinRequests is the minimum sample size before the ratio is evaluated
	MinRequests uint32

	// HalfOpenRequests is the number of probe calls permitted half-open
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns the standard settings for object store and
// webhook dependencies.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureRatio:     0.5,
		MinRequests:      5,
		HalfOpenRequests: 3,
	}
}

// NewBreaker creates a circuit breaker with state-change logging and metrics.
// While open, Execute fails immediately with gobreaker.ErrOpenState without
// invoking the wrapped operation.
func NewBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			var stateValue float64
			switch to {
			case gobreaker.StateClosed:
				stateValue = float64(metrics.CircuitBreakerClosed)
			case gobreaker.StateOpen:
				stateValue = float64(metrics.CircuitBreakerOpen)
				metrics.BreakerTrips.WithLabelValues(name).Inc()
			case gobreaker.StateHalfOpen:
				stateValue = float64(metrics.CircuitBreakerHalfOpen)
			}
			metrics.BreakerState.WithLabelValues(name).Set(stateValue)
		},
	})
}
