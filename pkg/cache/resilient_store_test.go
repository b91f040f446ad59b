package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshforge/modelcache/pkg/observability"
)

// flakyStore fails a set number of calls before recovering
type flakyStore struct {
	memStore
	failures atomic.Int64
	calls    atomic.Int64
}

func (s *flakyStore) Ping(ctx context.Context) error {
	s.calls.Add(1)
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return errors.New("connection refused")
	}
	return nil
}

func newResilient(inner EntryStore) *ResilientStore {
	return NewResilientStore(inner, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
}

func TestResilientStore_PassesThrough(t *testing.T) {
	inner := newMemStore()
	inner.add(testEntry("e1", "one", 10))
	store := newResilient(inner)
	ctx := context.Background()

	entry, err := store.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", entry.ID)

	require.NoError(t, store.Ping(ctx))
}

func TestResilientStore_NotFoundIsNotRetriedOrCounted(t *testing.T) {
	inner := newMemStore()
	store := newResilient(inner)
	ctx := context.Background()

	// Well past the consecutive-failure threshold; ErrNotFound must never
	// open the breaker.
	for i := 0; i < 20; i++ {
		_, err := store.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}

	inner.add(testEntry("e1", "one", 10))
	_, err := store.GetByID(ctx, "e1")
	assert.NoError(t, err)
}

func TestResilientStore_RetriesTransientFailures(t *testing.T) {
	inner := &flakyStore{memStore: *newMemStore()}
	inner.failures.Store(2)
	store := newResilient(inner)

	require.NoError(t, store.Ping(context.Background()))
	assert.GreaterOrEqual(t, inner.calls.Load(), int64(3))
}

func TestResilientStore_BreakerOpensAndFailsFast(t *testing.T) {
	inner := newMemStore()
	inner.failAll = true
	store := newResilient(inner)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Exhaust retries until the breaker trips.
	var lastErr error
	for i := 0; i < 6; i++ {
		lastErr = store.Ping(ctx)
		assert.Error(t, lastErr)
	}
	assert.ErrorIs(t, lastErr, ErrStoreUnavailable)

	// Open breaker short-circuits without touching the inner store.
	err := store.Ping(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestResilientStore_InsertErrorsWrapUnavailable(t *testing.T) {
	inner := newMemStore()
	inner.failAll = true
	store := newResilient(inner)

	err := store.Insert(context.Background(), testEntry("e1", "one", 10))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
