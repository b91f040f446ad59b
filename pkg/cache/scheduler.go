package cache

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/meshforge/modelcache/pkg/observability"
)

// Scheduler drives the periodic maintenance work: cleanup checks, warmup
// cycles, stats reporting and metric snapshots. Each job runs on its own
// ticker so a slow cleanup never delays a snapshot.
type Scheduler struct {
	policy    *EvictionPolicy
	warmer    *WarmupEngine
	collector *Collector
	config    Config
	logger    observability.Logger

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler wires the maintenance jobs
func NewScheduler(policy *EvictionPolicy, warmer *WarmupEngine, collector *Collector, config Config, logger observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NewLogger("cache.scheduler")
	}
	return &Scheduler{
		policy:    policy,
		warmer:    warmer,
		collector: collector,
		config:    config,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the maintenance loops
func (s *Scheduler) Start(ctx context.Context) {
	s.run(ctx, s.config.CleanupCheckInterval, "cleanup", s.cleanupJob)
	s.run(ctx, s.config.WarmupInterval, "warmup", s.warmupJob)
	s.run(ctx, s.config.StatsReportInterval, "stats_report", s.statsJob)
	s.run(ctx, s.config.SnapshotInterval, "snapshot", s.snapshotJob)

	s.logger.Info("Scheduler started", map[string]interface{}{
		"cleanup_interval":  s.config.CleanupCheckInterval.String(),
		"warmup_interval":   s.config.WarmupInterval.String(),
		"stats_interval":    s.config.StatsReportInterval.String(),
		"snapshot_interval": s.config.SnapshotInterval.String(),
	})
}

// Stop terminates the loops and waits for in-flight jobs
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Scheduler stopped", nil)
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration, name string, job func(ctx context.Context) error) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := job(ctx); err != nil {
					s.logger.Error("Scheduled job failed", map[string]interface{}{
						"job":   name,
						"error": err.Error(),
					})
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) cleanupJob(ctx context.Context) error {
	return s.policy.MaybeCleanup(ctx)
}

func (s *Scheduler) warmupJob(ctx context.Context) error {
	_, err := s.warmer.Run(ctx)
	if errors.Is(err, ErrWarmupCoolingDown) {
		return nil
	}
	return err
}

func (s *Scheduler) statsJob(ctx context.Context) error {
	report, err := s.collector.Report(ctx, 1)
	if err != nil {
		return err
	}
	s.logger.Info("Hourly cache report", map[string]interface{}{
		"hit_rate":       report.OverallHitRate,
		"avg_latency_ms": report.AvgLatencyMs,
		"total_requests": report.TotalRequests,
	})
	return nil
}

func (s *Scheduler) snapshotJob(ctx context.Context) error {
	return s.collector.SaveSnapshot(ctx)
}
