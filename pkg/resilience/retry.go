package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig contains retry policy configuration
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
	MaxRetries      uint64
}

// DefaultRetryConfig returns production defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		Multiplier:      2.0,
		MaxRetries:      3,
	}
}

// RetryPolicy executes operations with exponential backoff
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy with the given configuration
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.InitialInterval <= 0 {
		config.InitialInterval = 100 * time.Millisecond
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 5 * time.Second
	}
	if config.Multiplier <= 1.0 {
		config.Multiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

// Execute runs fn, retrying transient failures with exponential backoff until
// the retry budget or the context is exhausted. Wrap an error with
// backoff.Permanent to stop retrying immediately.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.InitialInterval
	b.MaxInterval = p.config.MaxInterval
	b.MaxElapsedTime = p.config.MaxElapsedTime
	b.Multiplier = p.config.Multiplier

	operation := func() error { return fn(ctx) }

	var policy backoff.BackOff = backoff.WithContext(b, ctx)
	if p.config.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, p.config.MaxRetries)
	}

	return backoff.Retry(operation, policy)
}
