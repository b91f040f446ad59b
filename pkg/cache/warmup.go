package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meshforge/modelcache/pkg/cache/similarity"
	"github.com/meshforge/modelcache/pkg/observability"
)

// WarmupStrategy names one of the candidate selection heuristics
type WarmupStrategy string

const (
	StrategyPopular       WarmupStrategy = "popular"
	StrategyTimePattern   WarmupStrategy = "time_pattern"
	StrategyUserBehavior  WarmupStrategy = "user_behavior"
	StrategySimilar       WarmupStrategy = "similar"
	StrategyComprehensive WarmupStrategy = "comprehensive"
)

// WarmupStats summarizes the last warmup cycle
type WarmupStats struct {
	Total        int           `json:"total"`
	Popular      int           `json:"popular"`
	TimePattern  int           `json:"time_pattern"`
	UserBehavior int           `json:"user_behavior"`
	Similar      int           `json:"similar"`
	RanAt        time.Time     `json:"ran_at"`
	Duration     time.Duration `json:"duration"`
}

// WarmupEngine refreshes entries that are likely to be requested soon so
// they survive eviction. Warming an entry bumps its last-access time through
// the tracker; no artifact bytes are touched.
type WarmupEngine struct {
	store     EntryStore
	artifacts ArtifactStore
	engine    *similarity.Engine
	tracker   *AccessTracker
	config    Config
	logger    observability.Logger

	mu        sync.Mutex
	lastRun   time.Time
	lastStats WarmupStats
}

// NewWarmupEngine wires the warmup heuristics
func NewWarmupEngine(store EntryStore, artifacts ArtifactStore, engine *similarity.Engine, tracker *AccessTracker, config Config, logger observability.Logger) *WarmupEngine {
	if logger == nil {
		logger = observability.NewLogger("cache.warmup")
	}
	return &WarmupEngine{
		store:     store,
		artifacts: artifacts,
		engine:    engine,
		tracker:   tracker,
		config:    config,
		logger:    logger,
	}
}

// Due reports whether enough time has passed since the last cycle
func (w *WarmupEngine) Due() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.due(time.Now())
}

func (w *WarmupEngine) due(now time.Time) bool {
	return w.lastRun.IsZero() || now.Sub(w.lastRun) >= w.config.WarmupCooldown
}

// LastStats returns the outcome of the most recent cycle
func (w *WarmupEngine) LastStats() WarmupStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastStats
}

// Run executes one comprehensive warmup cycle. A call inside the cooldown
// window warms nothing and returns ErrWarmupCoolingDown. Each strategy gets
// a quarter of the batch budget; entries are deduplicated across strategies.
func (w *WarmupEngine) Run(ctx context.Context) (WarmupStats, error) {
	now := time.Now()

	w.mu.Lock()
	if !w.due(now) {
		w.mu.Unlock()
		w.logger.Debug("Warmup skipped, cooling down", map[string]interface{}{
			"last_run": w.lastRun.Format(time.RFC3339),
		})
		return WarmupStats{}, ErrWarmupCoolingDown
	}
	w.lastRun = now
	w.mu.Unlock()

	start := time.Now()
	budget := w.config.WarmupBatchLimit / 4
	if budget < 1 {
		budget = 1
	}

	strategies := []WarmupStrategy{StrategyPopular, StrategyTimePattern, StrategyUserBehavior, StrategySimilar}
	collected := make(map[WarmupStrategy][]*Entry, len(strategies))
	var collectMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.WarmupConcurrency)
	for _, strategy := range strategies {
		strategy := strategy
		g.Go(func() error {
			candidates, err := w.Candidates(gctx, strategy, budget)
			if err != nil {
				// A failed strategy costs its share of the cycle, nothing more.
				w.logger.Warn("Warmup strategy failed", map[string]interface{}{
					"strategy": string(strategy),
					"error":    err.Error(),
				})
				return nil
			}
			collectMu.Lock()
			collected[strategy] = candidates
			collectMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stats := WarmupStats{RanAt: now}
	seen := make(map[string]struct{})
	for _, strategy := range strategies {
		warmed := 0
		for _, entry := range collected[strategy] {
			if warmed >= budget {
				break
			}
			if _, dup := seen[entry.ID]; dup {
				continue
			}
			if !w.warmable(entry) {
				continue
			}
			w.warm(entry)
			seen[entry.ID] = struct{}{}
			warmed++
		}
		entriesWarmed.WithLabelValues(string(strategy)).Add(float64(warmed))
		switch strategy {
		case StrategyPopular:
			stats.Popular = warmed
		case StrategyTimePattern:
			stats.TimePattern = warmed
		case StrategyUserBehavior:
			stats.UserBehavior = warmed
		case StrategySimilar:
			stats.Similar = warmed
		}
		stats.Total += warmed
	}
	stats.Duration = time.Since(start)

	w.mu.Lock()
	w.lastStats = stats
	w.mu.Unlock()

	w.logger.Info("Warmup cycle finished", map[string]interface{}{
		"total":       stats.Total,
		"duration_ms": stats.Duration.Milliseconds(),
	})
	return stats, nil
}

// Candidates returns what a strategy would warm right now
func (w *WarmupEngine) Candidates(ctx context.Context, strategy WarmupStrategy, limit int) ([]*Entry, error) {
	switch strategy {
	case StrategyPopular:
		since := time.Now().Add(-w.config.PopularWindow)
		return w.store.TopByHits(ctx, since, limit)

	case StrategyTimePattern:
		return w.timePatternCandidates(ctx, time.Now().Hour(), limit)

	case StrategyUserBehavior:
		return w.userBehaviorCandidates(ctx, limit)

	case StrategySimilar:
		return w.similarCandidates(ctx, limit)

	case StrategyComprehensive:
		quarter := limit / 4
		if quarter < 1 {
			quarter = 1
		}
		seen := make(map[string]struct{})
		var merged []*Entry
		for _, s := range []WarmupStrategy{StrategyPopular, StrategyTimePattern, StrategyUserBehavior, StrategySimilar} {
			candidates, err := w.Candidates(ctx, s, quarter)
			if err != nil {
				continue
			}
			for _, e := range candidates {
				if _, dup := seen[e.ID]; dup {
					continue
				}
				seen[e.ID] = struct{}{}
				merged = append(merged, e)
				if len(merged) >= limit {
					return merged, nil
				}
			}
		}
		return merged, nil

	default:
		return nil, ErrInvalidInput
	}
}

// timePatternCandidates warms the entries most accessed among those created
// in the current hour of day on previous days, on the theory that demand
// repeats daily.
func (w *WarmupEngine) timePatternCandidates(ctx context.Context, hour, limit int) ([]*Entry, error) {
	since := time.Now().Add(-w.config.PopularWindow)
	return w.store.MostAccessedAtHour(ctx, hour, since, limit)
}

// userBehaviorCandidates splits the budget evenly over the busiest clients
func (w *WarmupEngine) userBehaviorCandidates(ctx context.Context, limit int) ([]*Entry, error) {
	since := time.Now().Add(-w.config.PopularWindow)
	clients, err := w.store.ActiveClients(ctx, since, 5)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, nil
	}

	perClient := limit / len(clients)
	if perClient < 1 {
		perClient = 1
	}

	var out []*Entry
	for _, client := range clients {
		entries, err := w.store.RecentByClient(ctx, client.ClientID, perClient)
		if err != nil {
			w.logger.Warn("Client warmup lookup failed", map[string]interface{}{
				"client_id": client.ClientID,
				"error":     err.Error(),
			})
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

// similarCandidates expands from recent entries to entries similar to them
// above the warmup score floor, a few per seed.
func (w *WarmupEngine) similarCandidates(ctx context.Context, limit int) ([]*Entry, error) {
	since := time.Now().Add(-w.config.SimilaritySeedAge)
	seeds, err := w.store.RecentEntries(ctx, since, 20)
	if err != nil {
		return nil, err
	}

	const perSeed = 5
	seen := make(map[string]struct{})
	var out []*Entry

	for _, seed := range seeds {
		if len(out) >= limit {
			break
		}
		filter := CandidateFilter{
			Kind:       seed.Input.Kind,
			Complexity: seed.Input.Complexity,
			Format:     seed.Input.Format,
			Limit:      perSeed * 2,
		}
		candidates, err := w.store.Candidates(ctx, filter)
		if err != nil {
			continue
		}

		taken := 0
		for _, cand := range candidates {
			if len(out) >= limit || taken >= perSeed {
				break
			}
			if cand.ID == seed.ID {
				continue
			}
			if _, dup := seen[cand.ID]; dup {
				continue
			}
			if w.seedScore(seed, cand) < w.config.WarmupScoreFloor {
				continue
			}
			seen[cand.ID] = struct{}{}
			out = append(out, cand)
			taken++
		}
	}
	return out, nil
}

func (w *WarmupEngine) seedScore(seed, cand *Entry) float64 {
	if seed.Input.Kind != cand.Input.Kind {
		return 0.0
	}
	if seed.Input.Kind == TaskImage {
		return w.engine.ImageScore(seed.Input.Text, cand.Input.Text)
	}
	return w.engine.Score(seed.Input.Text, cand.Input.Text)
}

// warmable requires a cached entry whose primary artifact is still on disk.
// Warming an entry with a dead artifact would only shield it from eviction.
func (w *WarmupEngine) warmable(entry *Entry) bool {
	if entry == nil || !entry.Cached {
		return false
	}
	primary := entry.Artifacts.Primary(entry.Input.Format)
	return primary != "" && w.artifacts.Exists(primary)
}

func (w *WarmupEngine) warm(entry *Entry) {
	if w.tracker != nil {
		w.tracker.Record(entry.ID, AccessTouch)
	}
	w.logger.Debug("Warmed entry", map[string]interface{}{"entry_id": entry.ID})
}
