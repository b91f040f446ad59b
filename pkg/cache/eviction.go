package cache

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/meshforge/modelcache/pkg/observability"
)

// Value score normalization anchors
const (
	maxAgeDays        = 30.0
	fullAccessCount   = 10.0
	sizeBaseline      = 100 << 20
	fullSimilarityUse = 5.0
	recencyWindowDays = 7.0
)

// CleanupReport summarizes one cleanup pass
type CleanupReport struct {
	EvictedEntries int   `json:"evicted_entries"`
	ReclaimedBytes int64 `json:"reclaimed_bytes"`
}

// CacheStatistics is the capacity snapshot eviction and health decisions run
// on. HitRate aggregates hits over accesses across all cached entries.
type CacheStatistics struct {
	TotalSizeBytes        int64   `json:"total_size_bytes"`
	EntryCount            int64   `json:"entry_count"`
	FreeDiskBytes         int64   `json:"free_disk_bytes"`
	FreeDiskRatio         float64 `json:"free_disk_ratio"`
	SizeRatio             float64 `json:"size_ratio"`
	CountRatio            float64 `json:"count_ratio"`
	HitRate               float64 `json:"hit_rate"`
	OldestEntryAgeSeconds int64   `json:"oldest_entry_age_seconds"`
}

// EvictionPolicy decides which entries to drop under capacity pressure.
// Entries are ranked by a retention value score; the lowest-value entries go
// first. Referenced entries are never evicted.
type EvictionPolicy struct {
	store     EntryStore
	artifacts ArtifactStore
	config    Config
	logger    observability.Logger
}

// NewEvictionPolicy wires the policy
func NewEvictionPolicy(store EntryStore, artifacts ArtifactStore, config Config, logger observability.Logger) *EvictionPolicy {
	if logger == nil {
		logger = observability.NewLogger("cache.eviction")
	}
	return &EvictionPolicy{store: store, artifacts: artifacts, config: config, logger: logger}
}

// ValueScore estimates how much keeping the entry is worth. Fresh, frequently
// hit, small entries score high; stale large ones score low and are evicted
// first.
func (p *EvictionPolicy) ValueScore(entry *Entry, now time.Time) float64 {
	weights := p.config.Eviction
	score := 0.0

	ageDays := now.Sub(entry.CreatedAt).Hours() / 24
	score += clamp01(1.0-ageDays/maxAgeDays) * weights.AgeWeight

	score += clamp01(float64(entry.AccessCount)/fullAccessCount) * weights.AccessWeight

	score += clamp01(1.0-float64(entry.SizeBytes)/float64(sizeBaseline)) * weights.SizeWeight

	score += clamp01(float64(entry.SimilarityUsageCount)/fullSimilarityUse) * weights.SimilarityWeight

	if !entry.LastAccessedAt.IsZero() {
		idleDays := now.Sub(entry.LastAccessedAt).Hours() / 24
		score += clamp01(1.0-idleDays/recencyWindowDays) * weights.RecencyBonus
	}

	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Statistics gathers the current capacity picture
func (p *EvictionPolicy) Statistics(ctx context.Context) (CacheStatistics, error) {
	agg, err := p.store.Aggregates(ctx)
	if err != nil {
		return CacheStatistics{}, errors.Wrap(err, "cache aggregates")
	}

	stats := CacheStatistics{
		TotalSizeBytes: agg.TotalSizeBytes,
		EntryCount:     agg.EntryCount,
		SizeRatio:      float64(agg.TotalSizeBytes) / float64(p.config.MaxSizeBytes),
		CountRatio:     float64(agg.EntryCount) / float64(p.config.MaxEntries),
	}
	if agg.TotalAccesses > 0 {
		stats.HitRate = float64(agg.TotalHits) / float64(agg.TotalAccesses)
	}
	if !agg.OldestCreatedAt.IsZero() {
		stats.OldestEntryAgeSeconds = int64(time.Since(agg.OldestCreatedAt).Seconds())
	}

	usage, err := p.artifacts.Usage()
	if err != nil {
		p.logger.Warn("Disk usage check failed", map[string]interface{}{"error": err.Error()})
		// Capacity decisions still work off size and count ratios.
		stats.FreeDiskRatio = 1.0
		return stats, nil
	}
	stats.FreeDiskBytes = usage.FreeBytes
	stats.FreeDiskRatio = usage.FreeRatio
	return stats, nil
}

// ShouldCleanup reports whether any pressure threshold is crossed: cache
// size or entry count above the cleanup threshold of its bound, or free disk
// below the floor.
func (p *EvictionPolicy) ShouldCleanup(ctx context.Context) (bool, error) {
	stats, err := p.Statistics(ctx)
	if err != nil {
		return false, err
	}
	return p.underPressure(stats), nil
}

func (p *EvictionPolicy) underPressure(stats CacheStatistics) bool {
	if stats.SizeRatio > p.config.Eviction.CleanupThreshold {
		return true
	}
	if stats.CountRatio > p.config.Eviction.CleanupThreshold {
		return true
	}
	return stats.FreeDiskRatio < p.config.MinFreeDiskRatio
}

// MaybeCleanup runs a cleanup pass only when pressure thresholds are crossed
func (p *EvictionPolicy) MaybeCleanup(ctx context.Context) error {
	should, err := p.ShouldCleanup(ctx)
	if err != nil || !should {
		return err
	}
	_, err = p.Cleanup(ctx)
	return err
}

// Cleanup evicts lowest-value entries until size and count are back under
// the cleanup target. Individual eviction failures are logged and skipped.
func (p *EvictionPolicy) Cleanup(ctx context.Context) (CleanupReport, error) {
	stats, err := p.Statistics(ctx)
	if err != nil {
		return CleanupReport{}, err
	}

	targetSize := int64(float64(p.config.MaxSizeBytes) * p.config.Eviction.CleanupTarget)
	targetCount := int64(float64(p.config.MaxEntries) * p.config.Eviction.CleanupTarget)

	candidates, err := p.rankedCandidates(ctx)
	if err != nil {
		return CleanupReport{}, err
	}

	var report CleanupReport
	currentSize := stats.TotalSizeBytes
	currentCount := stats.EntryCount

	for _, entry := range candidates {
		if currentSize <= targetSize && currentCount <= targetCount {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if p.evict(ctx, entry) {
			currentSize -= entry.SizeBytes
			currentCount--
			report.EvictedEntries++
			report.ReclaimedBytes += entry.SizeBytes
		}
	}

	entriesEvicted.Add(float64(report.EvictedEntries))
	bytesReclaimed.Add(float64(report.ReclaimedBytes))
	cacheSizeBytes.Set(float64(currentSize))
	cacheEntryCount.Set(float64(currentCount))

	p.logger.Info("Cache cleanup finished", map[string]interface{}{
		"evicted":         report.EvictedEntries,
		"reclaimed_bytes": report.ReclaimedBytes,
		"size_bytes":      currentSize,
		"entries":         currentCount,
	})
	return report, nil
}

// ForceEvictCount evicts up to n lowest-value entries regardless of pressure
func (p *EvictionPolicy) ForceEvictCount(ctx context.Context, n int) (int, error) {
	candidates, err := p.rankedCandidates(ctx)
	if err != nil {
		return 0, err
	}
	if len(candidates) > n {
		candidates = candidates[:n]
	}

	evicted := 0
	for _, entry := range candidates {
		if p.evict(ctx, entry) {
			evicted++
		}
	}
	p.logger.Info("Forced eviction", map[string]interface{}{
		"requested": n,
		"evicted":   evicted,
	})
	return evicted, nil
}

// ForceEvict evicts one entry by id. It refuses entries that are not cached
// or still referenced.
func (p *EvictionPolicy) ForceEvict(ctx context.Context, id string) (bool, error) {
	entry, err := p.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !entry.Cached {
		p.logger.Warn("Entry not cached, nothing to evict", map[string]interface{}{"entry_id": id})
		return false, nil
	}
	if entry.ReferenceCount > 0 {
		return false, ErrEntryPinned
	}
	return p.evict(ctx, entry), nil
}

// rankedCandidates returns evictable entries sorted ascending by value score
func (p *EvictionPolicy) rankedCandidates(ctx context.Context) ([]*Entry, error) {
	candidates, err := p.store.EvictionCandidates(ctx, int(p.config.MaxEntries))
	if err != nil {
		return nil, errors.Wrap(err, "load eviction candidates")
	}

	now := time.Now()
	scores := make(map[string]float64, len(candidates))
	for _, e := range candidates {
		scores[e.ID] = p.ValueScore(e, now)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return scores[candidates[i].ID] < scores[candidates[j].ID]
	})
	return candidates, nil
}

// evict deletes the entry's files best effort and tombstones the record.
// Only the record update decides success.
func (p *EvictionPolicy) evict(ctx context.Context, entry *Entry) bool {
	if entry.ReferenceCount > 0 {
		return false
	}

	for _, path := range entry.Artifacts.All() {
		if err := p.artifacts.Remove(path); err != nil {
			p.logger.Warn("Artifact removal failed", map[string]interface{}{
				"entry_id": entry.ID,
				"path":     path,
				"error":    err.Error(),
			})
		}
	}

	if err := p.store.SetCached(ctx, entry.ID, false); err != nil {
		p.logger.Error("Eviction record update failed", map[string]interface{}{
			"entry_id": entry.ID,
			"error":    err.Error(),
		})
		return false
	}
	p.logger.Debug("Entry evicted", map[string]interface{}{"entry_id": entry.ID})
	return true
}
