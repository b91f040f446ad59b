// Package resilience wraps circuit breaking and retry behind a small API so
// store and client wrappers do not depend on a particular library surface.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/meshforge/modelcache/pkg/observability"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before tripping
	FailureThreshold uint32
	// FailureRatio trips the breaker when the rolling failure ratio exceeds it
	FailureRatio float64
	// MinimumRequestCount is the minimum sample before FailureRatio applies
	MinimumRequestCount uint32
	// ResetTimeout is how long the breaker stays open before probing
	ResetTimeout time.Duration
	// MaxRequestsHalfOpen limits concurrent probes in the half-open state
	MaxRequestsHalfOpen uint32
}

// DefaultCircuitBreakerConfig returns production defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		FailureRatio:        0.6,
		MinimumRequestCount: 10,
		ResetTimeout:        30 * time.Second,
		MaxRequestsHalfOpen: 5,
	}
}

// CircuitBreaker protects an external dependency from repeated failed calls
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker creates a named circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if logger == nil {
		logger = observability.NewLogger("resilience." + name)
	}
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}

	cb := &CircuitBreaker{logger: logger, metrics: metrics}

	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequestsHalfOpen,
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= config.FailureThreshold {
				return true
			}
			if counts.Requests < config.MinimumRequestCount {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
			metrics.RecordGauge("circuit_breaker.state", float64(to), map[string]string{
				"name": name,
			})
		},
	})

	return cb
}

// Execute runs fn through the breaker. An open breaker fails fast with
// gobreaker.ErrOpenState without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cb.breaker.Execute(fn)
}

// Open reports whether the breaker is currently rejecting calls
func (cb *CircuitBreaker) Open() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}
