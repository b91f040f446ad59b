package cache

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/meshforge/modelcache/pkg/cache/similarity"
	"github.com/meshforge/modelcache/pkg/observability"
)

const hotCacheSize = 1024

// lookupRecorder receives lookup outcomes; the metrics collector implements
// it. A nil recorder is allowed.
type lookupRecorder interface {
	RecordLookup(op string, match similarity.MatchType, latency time.Duration)
}

// cleanupTrigger lets the index kick eviction when an insert pushes the
// cache over its pressure thresholds.
type cleanupTrigger interface {
	MaybeCleanup(ctx context.Context) error
}

// Index is the lookup surface of the cache: exact matches by input hash,
// similarity matches over a filtered candidate set. Entries returned from
// the index are copies; callers may not mutate shared state through them.
type Index struct {
	store     EntryStore
	artifacts ArtifactStore
	engine    *similarity.Engine
	tracker   *AccessTracker
	logger    observability.Logger

	candidateLimit int

	// hot holds recently served entries keyed by input hash to spare the
	// store on repeat exact lookups.
	hot *lru.Cache[string, Entry]

	recorder lookupRecorder
	cleaner  cleanupTrigger
}

// NewIndex wires the lookup surface. Tracker may be nil when access counting
// is not wanted (tests mostly).
func NewIndex(store EntryStore, artifacts ArtifactStore, engine *similarity.Engine, tracker *AccessTracker, candidateLimit int, logger observability.Logger) *Index {
	if logger == nil {
		logger = observability.NewLogger("cache.index")
	}
	if candidateLimit <= 0 {
		candidateLimit = defaultCandidateLimit
	}
	hot, _ := lru.New[string, Entry](hotCacheSize)
	return &Index{
		store:          store,
		artifacts:      artifacts,
		engine:         engine,
		tracker:        tracker,
		logger:         logger,
		candidateLimit: candidateLimit,
		hot:            hot,
	}
}

// SetRecorder attaches the metrics collector
func (ix *Index) SetRecorder(r lookupRecorder) { ix.recorder = r }

// SetCleaner attaches the eviction policy used for insert-time pressure
// relief.
func (ix *Index) SetCleaner(c cleanupTrigger) { ix.cleaner = c }

// FindExact looks up an entry whose input hash equals the request's. Entries
// whose primary artifact has gone missing are invalidated and reported as a
// miss.
func (ix *Index) FindExact(ctx context.Context, input InputDescriptor) (*MatchResult, error) {
	start := time.Now()
	result, err := ix.findExact(ctx, input)
	ix.record("exact", result, start)
	return result, err
}

func (ix *Index) findExact(ctx context.Context, input InputDescriptor) (*MatchResult, error) {
	if !input.Kind.Valid() {
		return nil, ErrInvalidInput
	}

	hash := InputHash(input)

	if cached, ok := ix.hot.Get(hash); ok {
		entry := cached
		if ix.validate(ctx, &entry) {
			ix.touch(entry.ID, AccessHit)
			return &MatchResult{Entry: &entry, MatchType: similarity.MatchExact, Score: 1.0}, nil
		}
		ix.hot.Remove(hash)
	}

	entry, err := ix.store.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		if errors.Is(err, ErrStoreUnavailable) {
			// Degrade to a miss rather than failing the generation request.
			ix.logger.Warn("Exact lookup degraded to miss", map[string]interface{}{"hash": hash})
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !ix.validate(ctx, entry) {
		return nil, ErrNotFound
	}

	ix.hot.Add(hash, *entry)
	ix.touch(entry.ID, AccessHit)
	return &MatchResult{Entry: entry, MatchType: similarity.MatchExact, Score: 1.0}, nil
}

// FindSimilar first tries the exact path, then scores store candidates that
// share the request's kind, complexity and format. Only matches at or above
// the medium threshold are served.
func (ix *Index) FindSimilar(ctx context.Context, input InputDescriptor) (*MatchResult, error) {
	start := time.Now()

	result, err := ix.findExact(ctx, input)
	if err == nil {
		ix.record("similar", result, start)
		return result, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	result, err = ix.findSimilar(ctx, input)
	ix.record("similar", result, start)
	return result, err
}

// FindMatches returns up to limit usable matches scoring at or above
// threshold, best first with last-access as the tie break. It records no
// accesses; callers serve one result and report it through RecordAccess.
func (ix *Index) FindMatches(ctx context.Context, input InputDescriptor, threshold float64, limit int) ([]*MatchResult, error) {
	if !input.Kind.Valid() {
		return nil, ErrInvalidInput
	}
	scored, err := ix.scoredCandidates(ctx, input)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	results := make([]*MatchResult, 0, len(scored))
	for _, sc := range scored {
		if sc.score < threshold {
			continue
		}
		if !ix.validate(ctx, sc.entry) {
			continue
		}
		results = append(results, &MatchResult{
			Entry:     sc.entry,
			MatchType: ix.engine.Classify(sc.score),
			Score:     sc.score,
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// RecordAccess notes that a previously returned match was served. Exact
// matches count as cache hits, any other usable match as a similarity reuse.
func (ix *Index) RecordAccess(entryID string, match similarity.MatchType) {
	kind := AccessSimilarity
	if match == similarity.MatchExact {
		kind = AccessHit
	}
	ix.touch(entryID, kind)
}

type scoredEntry struct {
	entry *Entry
	score float64
}

func (ix *Index) findSimilar(ctx context.Context, input InputDescriptor) (*MatchResult, error) {
	scored, err := ix.scoredCandidates(ctx, input)
	if err != nil {
		return nil, err
	}
	for _, sc := range scored {
		if !ix.validate(ctx, sc.entry) {
			continue
		}
		match := ix.engine.Classify(sc.score)
		ix.touch(sc.entry.ID, AccessSimilarity)
		return &MatchResult{Entry: sc.entry, MatchType: match, Score: sc.score}, nil
	}
	return nil, ErrNotFound
}

// scoredCandidates loads the pre-filtered candidate set and keeps usable
// scores, ordered best first. Store outages degrade to an empty set.
func (ix *Index) scoredCandidates(ctx context.Context, input InputDescriptor) ([]scoredEntry, error) {
	filter := CandidateFilter{
		Kind:       input.Kind,
		Complexity: input.Complexity,
		Format:     input.Format,
		Limit:      ix.candidateLimit,
	}
	candidates, err := ix.store.Candidates(ctx, filter)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			ix.logger.Warn("Similarity lookup degraded to miss", nil)
			return nil, ErrNotFound
		}
		return nil, err
	}

	scored := make([]scoredEntry, 0, len(candidates))
	for _, cand := range candidates {
		score := ix.score(input, cand)
		if ix.engine.Classify(score).Usable() {
			scored = append(scored, scoredEntry{entry: cand, score: score})
		}
	}
	if len(scored) == 0 {
		return nil, ErrNotFound
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].entry.LastAccessedAt.After(scored[j].entry.LastAccessedAt)
	})
	return scored, nil
}

func (ix *Index) score(input InputDescriptor, cand *Entry) float64 {
	if input.Kind == TaskImage {
		return ix.engine.ImageScore(input.Text, cand.Input.Text)
	}
	return ix.engine.Score(input.Text, cand.Input.Text)
}

// Insert registers a freshly generated result. Every declared artifact must
// exist on disk; the signature comes from the primary, the size totals all of
// them.
func (ix *Index) Insert(ctx context.Context, input InputDescriptor, artifacts ArtifactRefs) (*Entry, error) {
	if !input.Kind.Valid() {
		return nil, ErrInvalidInput
	}
	primary := artifacts.Primary(input.Format)
	if primary == "" {
		return nil, errors.Wrap(ErrInvalidInput, "primary artifact missing")
	}

	var totalSize int64
	for _, path := range artifacts.All() {
		size, err := ix.artifacts.Size(path)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidInput, "artifact %s missing", path)
		}
		totalSize += size
	}

	signature, err := ix.artifacts.Signature(primary)
	if err != nil {
		ix.logger.Warn("Artifact signature failed", map[string]interface{}{
			"path":  primary,
			"error": err.Error(),
		})
	}

	now := time.Now()
	entry := &Entry{
		ID:             uuid.New().String(),
		InputHash:      InputHash(input),
		Input:          input,
		Artifacts:      artifacts,
		FileSignature:  signature,
		SizeBytes:      totalSize,
		Cached:         true,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	// Pressure check runs before the new entry lands. This is the one
	// deliberate blocking point on the write path.
	if ix.cleaner != nil {
		if err := ix.cleaner.MaybeCleanup(ctx); err != nil {
			ix.logger.Warn("Pre-insert cleanup failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if err := ix.store.Insert(ctx, entry); err != nil {
		return nil, errors.Wrap(err, "insert cache entry")
	}
	ix.hot.Add(entry.InputHash, *entry)
	return entry, nil
}

// Invalidate tombstones an entry. The record stays for audit and metrics;
// any files still on disk are not touched.
func (ix *Index) Invalidate(ctx context.Context, id string) error {
	entry, err := ix.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	ix.hot.Remove(entry.InputHash)
	return ix.store.SetCached(ctx, id, false)
}

// validate checks the entry's artifacts are all still on disk and tombstones
// the entry when any are missing.
func (ix *Index) validate(ctx context.Context, entry *Entry) bool {
	if entry.Artifacts.Primary(entry.Input.Format) == "" {
		return false
	}

	missing := ""
	for _, path := range entry.Artifacts.All() {
		if !ix.artifacts.Exists(path) {
			missing = path
			break
		}
	}
	if missing == "" {
		return true
	}

	ix.logger.Warn("Cached artifact missing, invalidating entry", map[string]interface{}{
		"entry_id": entry.ID,
		"path":     missing,
	})
	ix.hot.Remove(entry.InputHash)
	if err := ix.store.SetCached(ctx, entry.ID, false); err != nil {
		ix.logger.Error("Entry invalidation failed", map[string]interface{}{
			"entry_id": entry.ID,
			"error":    err.Error(),
		})
	}
	return false
}

func (ix *Index) touch(entryID string, kind AccessKind) {
	if ix.tracker != nil {
		ix.tracker.Record(entryID, kind)
	}
}

func (ix *Index) record(op string, result *MatchResult, start time.Time) {
	elapsed := time.Since(start)
	match := similarity.MatchNone
	if result != nil {
		match = result.MatchType
	}

	lookupTotal.WithLabelValues(string(match)).Inc()
	lookupDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	if ix.recorder != nil {
		ix.recorder.RecordLookup(op, match, elapsed)
	}
}
