package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshforge/modelcache/pkg/cache/similarity"
	"github.com/meshforge/modelcache/pkg/observability"
)

// Metrics is one point-in-time snapshot of cache behavior. EntryCount is the
// number of currently cached entries at snapshot time.
type Metrics struct {
	Timestamp     time.Time        `json:"timestamp"`
	TotalRequests int64            `json:"total_requests"`
	Hits          int64            `json:"hits"`
	Misses        int64            `json:"misses"`
	HitRate       float64          `json:"hit_rate"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"`
	EntryCount    int64            `json:"entry_count"`
	HitsByType    map[string]int64 `json:"hits_by_type"`
	OpCounts      map[string]int64 `json:"op_counts"`
}

// PerformanceReport aggregates snapshots over a window and attaches
// operator-facing recommendations.
type PerformanceReport struct {
	GeneratedAt     time.Time `json:"generated_at"`
	WindowHours     int       `json:"window_hours"`
	OverallHitRate  float64   `json:"overall_hit_rate"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	TotalRequests   int64     `json:"total_requests"`
	PeakRequests    int64     `json:"peak_requests"`
	Recommendations []string  `json:"recommendations"`
}

// TrendAnalysis compares the first and last snapshot of a window
type TrendAnalysis struct {
	WindowDays     int      `json:"window_days"`
	DataPoints     int      `json:"data_points"`
	HitRateTrend   float64  `json:"hit_rate_trend"`
	LatencyTrendMs float64  `json:"latency_trend_ms"`
	VolumeTrend    float64  `json:"volume_trend"`
	Insights       []string `json:"insights"`
}

// Hotspot is an entry that keeps getting hit
type Hotspot struct {
	EntryID        string    `json:"entry_id"`
	InputText      string    `json:"input_text"`
	HitCount       int64     `json:"hit_count"`
	HitRate        float64   `json:"hit_rate"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Collector accumulates lookup and operation counters in memory. Counters
// are atomics; maps are guarded by a mutex and only touched on recording a
// previously unseen key or on snapshot.
type Collector struct {
	store   EntryStore
	history MetricsHistory
	config  Config
	logger  observability.Logger

	totalRequests atomic.Int64
	hits          atomic.Int64
	misses        atomic.Int64
	latencySumNs  atomic.Int64
	latencyCount  atomic.Int64

	mu         sync.Mutex
	hitsByType map[string]*atomic.Int64
	opCounts   map[string]*atomic.Int64
}

// NewCollector wires the collector. History may be nil; trend and report
// calls then run on the live snapshot only.
func NewCollector(store EntryStore, history MetricsHistory, config Config, logger observability.Logger) *Collector {
	if logger == nil {
		logger = observability.NewLogger("cache.metrics")
	}
	return &Collector{
		store:      store,
		history:    history,
		config:     config,
		logger:     logger,
		hitsByType: make(map[string]*atomic.Int64),
		opCounts:   make(map[string]*atomic.Int64),
	}
}

// RecordLookup counts one lookup outcome. Usable match types count as hits,
// everything else as a miss.
func (c *Collector) RecordLookup(op string, match similarity.MatchType, latency time.Duration) {
	c.totalRequests.Add(1)
	if match.Usable() {
		c.hits.Add(1)
		c.counter(c.hitsByType, string(match)).Add(1)
	} else {
		c.misses.Add(1)
	}
	c.counter(c.opCounts, op).Add(1)
	c.latencySumNs.Add(latency.Nanoseconds())
	c.latencyCount.Add(1)

	hitRateGauge.Set(c.hitRate())
}

// RecordOperation counts a non-lookup cache operation such as insert or
// cleanup.
func (c *Collector) RecordOperation(op string, latency time.Duration) {
	c.counter(c.opCounts, op).Add(1)
	c.latencySumNs.Add(latency.Nanoseconds())
	c.latencyCount.Add(1)
}

// Snapshot captures the current counters. The cached-entry count comes from
// the store best effort; a store outage leaves it at zero rather than
// failing the snapshot.
func (c *Collector) Snapshot(ctx context.Context) Metrics {
	m := Metrics{
		Timestamp:     time.Now(),
		TotalRequests: c.totalRequests.Load(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		HitRate:       c.hitRate(),
		AvgLatencyMs:  c.avgLatencyMs(),
		HitsByType:    make(map[string]int64),
		OpCounts:      make(map[string]int64),
	}

	c.mu.Lock()
	for k, v := range c.hitsByType {
		m.HitsByType[k] = v.Load()
	}
	for k, v := range c.opCounts {
		m.OpCounts[k] = v.Load()
	}
	c.mu.Unlock()

	if agg, err := c.store.Aggregates(ctx); err == nil {
		m.EntryCount = agg.EntryCount
	}
	return m
}

// SaveSnapshot appends the current snapshot to history, pruning anything
// past retention.
func (c *Collector) SaveSnapshot(ctx context.Context) error {
	if c.history == nil {
		return nil
	}
	snapshot := c.Snapshot(ctx)
	if err := c.history.Append(ctx, snapshot, c.config.SnapshotRetention); err != nil {
		c.logger.Error("Metrics snapshot save failed", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	c.logger.Debug("Metrics snapshot saved", map[string]interface{}{
		"total_requests": snapshot.TotalRequests,
		"hit_rate":       snapshot.HitRate,
	})
	return nil
}

// Report aggregates the last N hours of snapshots. With no history it
// reports on the live snapshot alone.
func (c *Collector) Report(ctx context.Context, hours int) (PerformanceReport, error) {
	now := time.Now()
	snapshots := c.window(ctx, now.Add(-time.Duration(hours)*time.Hour), now)

	var hitRateSum, latencySum float64
	var totalRequests, peak int64
	for _, s := range snapshots {
		hitRateSum += s.HitRate
		latencySum += s.AvgLatencyMs
		totalRequests += s.TotalRequests
		if s.TotalRequests > peak {
			peak = s.TotalRequests
		}
	}
	n := float64(len(snapshots))

	report := PerformanceReport{
		GeneratedAt:    now,
		WindowHours:    hours,
		OverallHitRate: hitRateSum / n,
		AvgLatencyMs:   latencySum / n,
		TotalRequests:  totalRequests,
		PeakRequests:   peak,
	}
	report.Recommendations = recommendations(report.OverallHitRate, report.AvgLatencyMs, report.TotalRequests)
	return report, nil
}

// Trends compares the oldest and newest snapshot in the window
func (c *Collector) Trends(ctx context.Context, days int) (TrendAnalysis, error) {
	now := time.Now()
	snapshots := c.window(ctx, now.Add(-time.Duration(days)*24*time.Hour), now)

	analysis := TrendAnalysis{WindowDays: days, DataPoints: len(snapshots)}
	if len(snapshots) < 2 {
		analysis.Insights = []string{"insufficient data points for trend analysis"}
		return analysis, nil
	}

	first := snapshots[0]
	last := snapshots[len(snapshots)-1]
	analysis.HitRateTrend = last.HitRate - first.HitRate
	analysis.LatencyTrendMs = last.AvgLatencyMs - first.AvgLatencyMs
	analysis.VolumeTrend = float64(last.TotalRequests - first.TotalRequests)
	analysis.Insights = insights(analysis.HitRateTrend, analysis.LatencyTrendMs, analysis.VolumeTrend)
	return analysis, nil
}

// Hotspots returns the entries with the most cache hits
func (c *Collector) Hotspots(ctx context.Context, topN int) ([]Hotspot, error) {
	entries, err := c.store.TopByHits(ctx, time.Unix(0, 0), topN)
	if err != nil {
		return nil, err
	}

	hotspots := make([]Hotspot, 0, len(entries))
	for _, e := range entries {
		h := Hotspot{
			EntryID:        e.ID,
			InputText:      e.Input.Text,
			HitCount:       e.CacheHitCount,
			LastAccessedAt: e.LastAccessedAt,
		}
		if e.AccessCount > 0 {
			h.HitRate = float64(e.CacheHitCount) / float64(e.AccessCount)
		}
		hotspots = append(hotspots, h)
	}
	return hotspots, nil
}

// Reset zeroes every counter and drops stored history
func (c *Collector) Reset(ctx context.Context) error {
	c.totalRequests.Store(0)
	c.hits.Store(0)
	c.misses.Store(0)
	c.latencySumNs.Store(0)
	c.latencyCount.Store(0)

	c.mu.Lock()
	c.hitsByType = make(map[string]*atomic.Int64)
	c.opCounts = make(map[string]*atomic.Int64)
	c.mu.Unlock()

	hitRateGauge.Set(0)
	c.logger.Info("Cache metrics reset", nil)

	if c.history == nil {
		return nil
	}
	return c.history.Clear(ctx)
}

// window loads history snapshots, falling back to the live snapshot when
// none exist.
func (c *Collector) window(ctx context.Context, from, to time.Time) []Metrics {
	if c.history != nil {
		snapshots, err := c.history.Range(ctx, from, to)
		if err != nil {
			c.logger.Warn("History range failed, using live snapshot", map[string]interface{}{
				"error": err.Error(),
			})
		} else if len(snapshots) > 0 {
			return snapshots
		}
	}
	return []Metrics{c.Snapshot(ctx)}
}

func (c *Collector) hitRate() float64 {
	total := c.totalRequests.Load()
	if total == 0 {
		return 0.0
	}
	return float64(c.hits.Load()) / float64(total)
}

func (c *Collector) avgLatencyMs() float64 {
	count := c.latencyCount.Load()
	if count == 0 {
		return 0.0
	}
	return float64(c.latencySumNs.Load()) / float64(count) / 1e6
}

func (c *Collector) counter(m map[string]*atomic.Int64, key string) *atomic.Int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := m[key]
	if !ok {
		v = &atomic.Int64{}
		m[key] = v
	}
	return v
}

func recommendations(hitRate, avgLatencyMs float64, totalRequests int64) []string {
	var recs []string
	if hitRate < 0.5 {
		recs = append(recs, "hit rate is low, consider tuning similarity thresholds or warming more entries")
	}
	if avgLatencyMs > 1000 {
		recs = append(recs, "average latency is high, check store and artifact disk performance")
	}
	if totalRequests > 10000 {
		recs = append(recs, "request volume is high, consider raising cache capacity")
	}
	if len(recs) == 0 {
		recs = append(recs, "cache performance is healthy, no changes recommended")
	}
	return recs
}

func insights(hitRateTrend, latencyTrendMs, volumeTrend float64) []string {
	var out []string
	if hitRateTrend > 0.05 {
		out = append(out, "hit rate is trending up")
	} else if hitRateTrend < -0.05 {
		out = append(out, "hit rate is trending down, review caching strategy")
	}
	if latencyTrendMs > 100 {
		out = append(out, "latency is trending up, investigate store performance")
	} else if latencyTrendMs < -100 {
		out = append(out, "latency is trending down")
	}
	if volumeTrend > 1000 {
		out = append(out, "request volume is growing, plan for capacity")
	}
	if len(out) == 0 {
		out = append(out, "metrics are stable")
	}
	return out
}
