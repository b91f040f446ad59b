package cache

import (
	"context"
	"sync"
	"time"

	"github.com/meshforge/modelcache/pkg/observability"
)

// AccessTracker folds hot-path access events into in-memory deltas and
// flushes them to the store in batches. Recording never blocks on the store;
// a flush that fails keeps its deltas for the next cycle.
type AccessTracker struct {
	store   EntryStore
	logger  observability.Logger
	metrics observability.MetricsClient

	interval  time.Duration
	batchSize int

	mu      sync.Mutex
	pending map[string]*AccessDelta

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewAccessTracker creates a tracker flushing at the given cadence
func NewAccessTracker(store EntryStore, interval time.Duration, batchSize int, logger observability.Logger, metrics observability.MetricsClient) *AccessTracker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = observability.NewLogger("cache.tracker")
	}
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}
	return &AccessTracker{
		store:     store,
		logger:    logger,
		metrics:   metrics,
		interval:  interval,
		batchSize: batchSize,
		pending:   make(map[string]*AccessDelta),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the flush loop
func (t *AccessTracker) Start(ctx context.Context) {
	go t.loop(ctx)
}

// Record notes one access to an entry. Hit and similarity accesses also bump
// their dedicated counters.
func (t *AccessTracker) Record(entryID string, kind AccessKind) {
	now := time.Now()

	t.mu.Lock()
	delta, ok := t.pending[entryID]
	if !ok {
		delta = &AccessDelta{EntryID: entryID}
		t.pending[entryID] = delta
	}
	delta.Accesses++
	switch kind {
	case AccessHit:
		delta.Hits++
	case AccessSimilarity:
		delta.SimilarityUses++
	}
	if now.After(delta.LastAccessedAt) {
		delta.LastAccessedAt = now
	}
	pendingCount := len(t.pending)
	t.mu.Unlock()

	t.metrics.RecordGauge("cache.tracker.pending", float64(pendingCount), nil)
}

// Flush writes all pending deltas to the store, in batches. Failed batches
// are re-queued.
func (t *AccessTracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return nil
	}
	deltas := make([]AccessDelta, 0, len(t.pending))
	for _, d := range t.pending {
		deltas = append(deltas, *d)
	}
	t.pending = make(map[string]*AccessDelta)
	t.mu.Unlock()

	var firstErr error
	for start := 0; start < len(deltas); start += t.batchSize {
		end := start + t.batchSize
		if end > len(deltas) {
			end = len(deltas)
		}
		batch := deltas[start:end]

		if err := t.store.ApplyAccess(ctx, batch); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			t.requeue(batch)
			t.logger.Warn("Access flush failed, re-queued batch", map[string]interface{}{
				"batch_size": len(batch),
				"error":      err.Error(),
			})
			continue
		}
		t.metrics.IncrementCounter("cache.tracker.flushed", float64(len(batch)))
	}
	return firstErr
}

// Stop flushes remaining deltas and terminates the loop
func (t *AccessTracker) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	select {
	case <-t.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return t.Flush(ctx)
}

func (t *AccessTracker) loop(ctx context.Context) {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				t.logger.Error("Periodic access flush failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *AccessTracker) requeue(batch []AccessDelta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range batch {
		d := batch[i]
		existing, ok := t.pending[d.EntryID]
		if !ok {
			copied := d
			t.pending[d.EntryID] = &copied
			continue
		}
		existing.Accesses += d.Accesses
		existing.Hits += d.Hits
		existing.SimilarityUses += d.SimilarityUses
		if d.LastAccessedAt.After(existing.LastAccessedAt) {
			existing.LastAccessedAt = d.LastAccessedAt
		}
	}
}
