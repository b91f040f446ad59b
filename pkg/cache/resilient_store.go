package cache

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/meshforge/modelcache/pkg/observability"
	"github.com/meshforge/modelcache/pkg/resilience"
)

// ResilientStore wraps an EntryStore with a circuit breaker and retries.
// Failures surface as ErrStoreUnavailable so lookup paths can degrade to a
// miss instead of propagating infrastructure errors to callers.
type ResilientStore struct {
	inner   EntryStore
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryPolicy
	logger  observability.Logger
}

// NewResilientStore wraps the store. Nil logger gets a default.
func NewResilientStore(inner EntryStore, logger observability.Logger, metrics observability.MetricsClient) *ResilientStore {
	if logger == nil {
		logger = observability.NewLogger("cache.store")
	}
	return &ResilientStore{
		inner:   inner,
		breaker: resilience.NewCircuitBreaker("cache-store", resilience.DefaultCircuitBreakerConfig(), logger, metrics),
		retry:   resilience.NewRetryPolicy(resilience.DefaultRetryConfig()),
		logger:  logger,
	}
}

// execute funnels every store call through retry inside the breaker. Domain
// errors such as ErrNotFound are permanent and never counted as failures.
func (s *ResilientStore) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	result, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		retryErr := s.retry.Execute(ctx, func(ctx context.Context) error {
			if err := fn(ctx); err != nil {
				if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
					return backoff.Permanent(permanentError{err})
				}
				return err
			}
			return nil
		})
		var perm permanentError
		if errors.As(retryErr, &perm) {
			// Domain outcome, not an infrastructure failure; hand it back
			// as the payload so the breaker counts a success.
			return perm.err, nil
		}
		return nil, retryErr
	})
	if err == nil {
		if domainErr, ok := result.(error); ok {
			return domainErr
		}
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Warn("Store circuit open, failing fast", map[string]interface{}{"operation": op})
		return ErrStoreUnavailable
	}

	s.logger.Error("Store operation failed", map[string]interface{}{
		"operation": op,
		"error":     err.Error(),
	})
	return errors.Wrapf(ErrStoreUnavailable, "%s: %v", op, err)
}

// permanentError marks domain errors that must not trip the breaker.
// It satisfies backoff's Permanent contract by short-circuiting in execute.
type permanentError struct {
	err error
}

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func (s *ResilientStore) GetByHash(ctx context.Context, inputHash string) (*Entry, error) {
	var entry *Entry
	err := s.execute(ctx, "get_by_hash", func(ctx context.Context) error {
		var err error
		entry, err = s.inner.GetByHash(ctx, inputHash)
		return err
	})
	return entry, err
}

func (s *ResilientStore) GetByID(ctx context.Context, id string) (*Entry, error) {
	var entry *Entry
	err := s.execute(ctx, "get_by_id", func(ctx context.Context) error {
		var err error
		entry, err = s.inner.GetByID(ctx, id)
		return err
	})
	return entry, err
}

func (s *ResilientStore) Candidates(ctx context.Context, filter CandidateFilter) ([]*Entry, error) {
	var entries []*Entry
	err := s.execute(ctx, "candidates", func(ctx context.Context) error {
		var err error
		entries, err = s.inner.Candidates(ctx, filter)
		return err
	})
	return entries, err
}

func (s *ResilientStore) Insert(ctx context.Context, entry *Entry) error {
	return s.execute(ctx, "insert", func(ctx context.Context) error {
		return s.inner.Insert(ctx, entry)
	})
}

func (s *ResilientStore) ApplyAccess(ctx context.Context, deltas []AccessDelta) error {
	return s.execute(ctx, "apply_access", func(ctx context.Context) error {
		return s.inner.ApplyAccess(ctx, deltas)
	})
}

func (s *ResilientStore) SetCached(ctx context.Context, id string, cached bool) error {
	return s.execute(ctx, "set_cached", func(ctx context.Context) error {
		return s.inner.SetCached(ctx, id, cached)
	})
}

func (s *ResilientStore) Aggregates(ctx context.Context) (Aggregates, error) {
	var agg Aggregates
	err := s.execute(ctx, "aggregates", func(ctx context.Context) error {
		var err error
		agg, err = s.inner.Aggregates(ctx)
		return err
	})
	return agg, err
}

func (s *ResilientStore) EvictionCandidates(ctx context.Context, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := s.execute(ctx, "eviction_candidates", func(ctx context.Context) error {
		var err error
		entries, err = s.inner.EvictionCandidates(ctx, limit)
		return err
	})
	return entries, err
}

func (s *ResilientStore) TopByHits(ctx context.Context, since time.Time, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := s.execute(ctx, "top_by_hits", func(ctx context.Context) error {
		var err error
		entries, err = s.inner.TopByHits(ctx, since, limit)
		return err
	})
	return entries, err
}

func (s *ResilientStore) MostAccessedAtHour(ctx context.Context, hour int, since time.Time, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := s.execute(ctx, "most_accessed_at_hour", func(ctx context.Context) error {
		var err error
		entries, err = s.inner.MostAccessedAtHour(ctx, hour, since, limit)
		return err
	})
	return entries, err
}

func (s *ResilientStore) ActiveClients(ctx context.Context, since time.Time, limit int) ([]ClientActivity, error) {
	var rows []ClientActivity
	err := s.execute(ctx, "active_clients", func(ctx context.Context) error {
		var err error
		rows, err = s.inner.ActiveClients(ctx, since, limit)
		return err
	})
	return rows, err
}

func (s *ResilientStore) RecentByClient(ctx context.Context, clientID string, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := s.execute(ctx, "recent_by_client", func(ctx context.Context) error {
		var err error
		entries, err = s.inner.RecentByClient(ctx, clientID, limit)
		return err
	})
	return entries, err
}

func (s *ResilientStore) RecentEntries(ctx context.Context, since time.Time, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := s.execute(ctx, "recent_entries", func(ctx context.Context) error {
		var err error
		entries, err = s.inner.RecentEntries(ctx, since, limit)
		return err
	})
	return entries, err
}

func (s *ResilientStore) Ping(ctx context.Context) error {
	return s.execute(ctx, "ping", func(ctx context.Context) error {
		return s.inner.Ping(ctx)
	})
}
