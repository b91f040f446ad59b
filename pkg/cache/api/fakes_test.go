package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meshforge/modelcache/pkg/cache"
)

// testStore is an in-memory cache.EntryStore; the down flag fails every call
type testStore struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
	down    bool
}

func newTestStore() *testStore {
	return &testStore{entries: make(map[string]*cache.Entry)}
}

func (s *testStore) add(e *cache.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *e
	s.entries[e.ID] = &copied
}

func (s *testStore) err() error {
	if s.down {
		return cache.ErrStoreUnavailable
	}
	return nil
}

func (s *testStore) GetByHash(ctx context.Context, inputHash string) (*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return nil, err
	}
	for _, e := range s.entries {
		if e.InputHash == inputHash && e.Cached {
			copied := *e
			return &copied, nil
		}
	}
	return nil, cache.ErrNotFound
}

func (s *testStore) GetByID(ctx context.Context, id string) (*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return nil, err
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, cache.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (s *testStore) Candidates(ctx context.Context, filter cache.CandidateFilter) ([]*cache.Entry, error) {
	return s.cached(func(e *cache.Entry) bool {
		if filter.Kind != "" && e.Input.Kind != filter.Kind {
			return false
		}
		if filter.Complexity != "" && e.Input.Complexity != filter.Complexity {
			return false
		}
		if filter.Format != "" && e.Input.Format != filter.Format {
			return false
		}
		return true
	}, filter.Limit)
}

func (s *testStore) Insert(ctx context.Context, entry *cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return err
	}
	copied := *entry
	s.entries[entry.ID] = &copied
	return nil
}

func (s *testStore) ApplyAccess(ctx context.Context, deltas []cache.AccessDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return err
	}
	for _, d := range deltas {
		e, ok := s.entries[d.EntryID]
		if !ok {
			continue
		}
		e.AccessCount += d.Accesses
		e.CacheHitCount += d.Hits
		e.SimilarityUsageCount += d.SimilarityUses
		if d.LastAccessedAt.After(e.LastAccessedAt) {
			e.LastAccessedAt = d.LastAccessedAt
		}
	}
	return nil
}

func (s *testStore) SetCached(ctx context.Context, id string, cached bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return err
	}
	if e, ok := s.entries[id]; ok {
		e.Cached = cached
	}
	return nil
}

func (s *testStore) Aggregates(ctx context.Context) (cache.Aggregates, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return cache.Aggregates{}, err
	}
	var agg cache.Aggregates
	for _, e := range s.entries {
		if e.Cached {
			agg.EntryCount++
			agg.TotalSizeBytes += e.SizeBytes
			agg.TotalAccesses += e.AccessCount
			agg.TotalHits += e.CacheHitCount
			if agg.OldestCreatedAt.IsZero() || e.CreatedAt.Before(agg.OldestCreatedAt) {
				agg.OldestCreatedAt = e.CreatedAt
			}
		}
	}
	return agg, nil
}

func (s *testStore) EvictionCandidates(ctx context.Context, limit int) ([]*cache.Entry, error) {
	return s.cached(func(e *cache.Entry) bool { return e.ReferenceCount == 0 }, limit)
}

func (s *testStore) TopByHits(ctx context.Context, since time.Time, limit int) ([]*cache.Entry, error) {
	out, err := s.cached(func(e *cache.Entry) bool {
		return e.CacheHitCount > 0 && !e.LastAccessedAt.Before(since)
	}, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CacheHitCount > out[j].CacheHitCount })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *testStore) MostAccessedAtHour(ctx context.Context, hour int, since time.Time, limit int) ([]*cache.Entry, error) {
	out, err := s.cached(func(e *cache.Entry) bool {
		return !e.CreatedAt.Before(since) && e.CreatedAt.Hour() == hour
	}, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessCount > out[j].AccessCount })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *testStore) ActiveClients(ctx context.Context, since time.Time, limit int) ([]cache.ClientActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, e := range s.entries {
		if e.Input.ClientID != "" && e.CreatedAt.After(since) {
			counts[e.Input.ClientID]++
		}
	}
	var out []cache.ClientActivity
	for client, n := range counts {
		out = append(out, cache.ClientActivity{ClientID: client, Requests: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Requests > out[j].Requests })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *testStore) RecentByClient(ctx context.Context, clientID string, limit int) ([]*cache.Entry, error) {
	out, err := s.cached(func(e *cache.Entry) bool { return e.Input.ClientID == clientID }, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *testStore) RecentEntries(ctx context.Context, since time.Time, limit int) ([]*cache.Entry, error) {
	out, err := s.cached(func(e *cache.Entry) bool { return e.CreatedAt.After(since) }, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *testStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err()
}

func (s *testStore) cached(keep func(*cache.Entry) bool, limit int) ([]*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return nil, err
	}
	var out []*cache.Entry
	for _, e := range s.entries {
		if e.Cached && keep(e) {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessedAt.After(out[j].LastAccessedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// testArtifacts is an in-memory cache.ArtifactStore keyed by path
type testArtifacts struct {
	mu    sync.Mutex
	files map[string]int64
	usage cache.DiskUsage
}

func newTestArtifacts() *testArtifacts {
	return &testArtifacts{
		files: make(map[string]int64),
		usage: cache.DiskUsage{TotalBytes: 1 << 40, FreeBytes: 1 << 39, FreeRatio: 0.5},
	}
}

func (a *testArtifacts) put(path string, size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[path] = size
}

func (a *testArtifacts) Exists(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.files[path]
	return ok
}

func (a *testArtifacts) Size(path string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	size, ok := a.files[path]
	if !ok {
		return 0, cache.ErrNotFound
	}
	return size, nil
}

func (a *testArtifacts) Signature(path string) (string, error) {
	if !a.Exists(path) {
		return "", cache.ErrNotFound
	}
	return "sig-" + path, nil
}

func (a *testArtifacts) Remove(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, path)
	return nil
}

func (a *testArtifacts) Usage() (cache.DiskUsage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage, nil
}

func newTestEntry(id, text string, size int64) *cache.Entry {
	input := cache.InputDescriptor{
		Text:       text,
		Kind:       cache.TaskText,
		Complexity: cache.ComplexityMedium,
		Format:     cache.FormatOBJ,
	}
	now := time.Now()
	return &cache.Entry{
		ID:             id,
		InputHash:      cache.InputHash(input),
		Input:          input,
		Artifacts:      cache.ArtifactRefs{OBJPath: "/models/" + id + ".obj"},
		SizeBytes:      size,
		Cached:         true,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}
