package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory EntryStore for tests
type memStore struct {
	mu      sync.Mutex
	entries map[string]*Entry

	failAll bool
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*Entry)}
}

func (s *memStore) add(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *e
	s.entries[e.ID] = &copied
}

func (s *memStore) get(id string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		copied := *e
		return &copied
	}
	return nil
}

func (s *memStore) GetByHash(ctx context.Context, inputHash string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrStoreUnavailable
	}
	for _, e := range s.entries {
		if e.InputHash == inputHash && e.Cached {
			copied := *e
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) GetByID(ctx context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrStoreUnavailable
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (s *memStore) Candidates(ctx context.Context, filter CandidateFilter) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrStoreUnavailable
	}
	var out []*Entry
	for _, e := range s.entries {
		if !e.Cached {
			continue
		}
		if filter.Kind != "" && e.Input.Kind != filter.Kind {
			continue
		}
		if filter.Complexity != "" && e.Input.Complexity != filter.Complexity {
			continue
		}
		if filter.Format != "" && e.Input.Format != filter.Format {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessedAt.After(out[j].LastAccessedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) Insert(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return ErrStoreUnavailable
	}
	copied := *entry
	s.entries[entry.ID] = &copied
	return nil
}

func (s *memStore) ApplyAccess(ctx context.Context, deltas []AccessDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return ErrStoreUnavailable
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

func (s *memStore) SetCached(ctx context.Context, id string, cached bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return ErrStoreUnavailable
	}
	if e, ok := s.entries[id]; ok {
		e.Cached = cached
	}
	return nil
}

func (s *memStore) Aggregates(ctx context.Context) (Aggregates, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return Aggregates{}, ErrStoreUnavailable
	}
	var agg Aggregates
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

func (s *memStore) EvictionCandidates(ctx context.Context, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrStoreUnavailable
	}
	var out []*Entry
	for _, e := range s.entries {
		if e.Cached && e.ReferenceCount == 0 {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) TopByHits(ctx context.Context, since time.Time, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrStoreUnavailable
	}
	var out []*Entry
	for _, e := range s.entries {
		if e.Cached && e.CacheHitCount > 0 && !e.LastAccessedAt.Before(since) {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CacheHitCount > out[j].CacheHitCount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MostAccessedAtHour(ctx context.Context, hour int, since time.Time, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrStoreUnavailable
	}
	var out []*Entry
	for _, e := range s.entries {
		if e.Cached && !e.CreatedAt.Before(since) && e.CreatedAt.Hour() == hour {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccessCount > out[j].AccessCount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ActiveClients(ctx context.Context, since time.Time, limit int) ([]ClientActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrStoreUnavailable
	}
	counts := make(map[string]int64)
	for _, e := range s.entries {
		if e.Input.ClientID != "" && e.CreatedAt.After(since) {
			counts[e.Input.ClientID]++
		}
	}
	var out []ClientActivity
	for client, n := range counts {
		out = append(out, ClientActivity{ClientID: client, Requests: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Requests > out[j].Requests })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) RecentByClient(ctx context.Context, clientID string, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrStoreUnavailable
	}
	var out []*Entry
	for _, e := range s.entries {
		if e.Cached && e.Input.ClientID == clientID {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) RecentEntries(ctx context.Context, since time.Time, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrStoreUnavailable
	}
	var out []*Entry
	for _, e := range s.entries {
		if e.Cached && e.CreatedAt.After(since) {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return ErrStoreUnavailable
	}
	return s.pingErr
}

// memArtifacts is an in-memory ArtifactStore; paths map to sizes
type memArtifacts struct {
	mu    sync.Mutex
	files map[string]int64
	usage DiskUsage
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{
		files: make(map[string]int64),
		usage: DiskUsage{TotalBytes: 1 << 40, FreeBytes: 1 << 39, FreeRatio: 0.5},
	}
}

func (a *memArtifacts) put(path string, size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[path] = size
}

func (a *memArtifacts) drop(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, path)
}

func (a *memArtifacts) has(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.files[path]
	return ok
}

func (a *memArtifacts) Exists(path string) bool {
	return a.has(path)
}

func (a *memArtifacts) Size(path string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	size, ok := a.files[path]
	if !ok {
		return 0, ErrNotFound
	}
	return size, nil
}

func (a *memArtifacts) Signature(path string) (string, error) {
	if !a.has(path) {
		return "", ErrNotFound
	}
	return "sig-" + path, nil
}

func (a *memArtifacts) Remove(path string) error {
	a.drop(path)
	return nil
}

func (a *memArtifacts) Usage() (DiskUsage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage, nil
}

func testEntry(id, text string, size int64) *Entry {
	input := InputDescriptor{
		Text:       text,
		Kind:       TaskText,
		Complexity: ComplexityMedium,
		Format:     FormatOBJ,
	}
	now := time.Now()
	return &Entry{
		ID:             id,
		InputHash:      InputHash(input),
		Input:          input,
		Artifacts:      ArtifactRefs{OBJPath: "/models/" + id + ".obj"},
		SizeBytes:      size,
		Cached:         true,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}
