package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/meshforge/modelcache/pkg/observability"
)

// HealthStatus orders from healthy to down; the overall status is the worst
// of the component checks.
type HealthStatus int

const (
	StatusHealthy HealthStatus = iota
	StatusWarning
	StatusCritical
	StatusDown
)

func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "DOWN"
	}
}

// MarshalJSON renders the status by name
func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a status name produced by MarshalJSON
func (s *HealthStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "HEALTHY":
		*s = StatusHealthy
	case "WARNING":
		*s = StatusWarning
	case "CRITICAL":
		*s = StatusCritical
	case "DOWN":
		*s = StatusDown
	default:
		return errors.Errorf("unknown health status %q", name)
	}
	return nil
}

const (
	hitRateWarning  = 0.5
	hitRateCritical = 0.3
	latencyWarning  = 1000.0
	latencyCritical = 3000.0

	capacityWarning  = 0.8
	capacityCritical = 0.95
)

// PerformanceCheck grades lookup behavior
type PerformanceCheck struct {
	HitRate      float64      `json:"hit_rate"`
	AvgLatencyMs float64      `json:"avg_latency_ms"`
	Status       HealthStatus `json:"status"`
	Grade        string       `json:"grade"`
}

// CapacityCheck grades storage pressure
type CapacityCheck struct {
	UsedBytes    int64        `json:"used_bytes"`
	MaxBytes     int64        `json:"max_bytes"`
	UsageRatio   float64      `json:"usage_ratio"`
	Status       HealthStatus `json:"status"`
	NeedsCleanup bool         `json:"needs_cleanup"`
}

// HealthReport is the full picture from one health check
type HealthReport struct {
	Timestamp       time.Time        `json:"timestamp"`
	Overall         HealthStatus     `json:"overall"`
	Available       bool             `json:"available"`
	Performance     PerformanceCheck `json:"performance"`
	Capacity        CapacityCheck    `json:"capacity"`
	Issues          []string         `json:"issues"`
	Recommendations []string         `json:"recommendations"`
}

// HealthMonitor evaluates availability, performance and capacity. A failing
// store yields a DOWN report, never an error; health checks must not flap on
// the same outage they are reporting.
type HealthMonitor struct {
	store     EntryStore
	policy    *EvictionPolicy
	collector *Collector
	logger    observability.Logger
}

// NewHealthMonitor wires the checks
func NewHealthMonitor(store EntryStore, policy *EvictionPolicy, collector *Collector, logger observability.Logger) *HealthMonitor {
	if logger == nil {
		logger = observability.NewLogger("cache.health")
	}
	return &HealthMonitor{store: store, policy: policy, collector: collector, logger: logger}
}

// Check runs the full health evaluation
func (h *HealthMonitor) Check(ctx context.Context) HealthReport {
	report := HealthReport{Timestamp: time.Now()}

	report.Available = h.store.Ping(ctx) == nil
	report.Performance = h.checkPerformance(ctx)
	report.Capacity = h.checkCapacity(ctx)

	report.Overall = StatusHealthy
	if !report.Available {
		report.Overall = StatusDown
		report.Performance.Status = StatusDown
		report.Performance.Grade = "F"
	}
	if report.Performance.Status > report.Overall {
		report.Overall = report.Performance.Status
	}
	if report.Capacity.Status > report.Overall {
		report.Overall = report.Capacity.Status
	}

	switch report.Performance.Status {
	case StatusWarning:
		report.Issues = append(report.Issues, "cache performance degraded")
		report.Recommendations = append(report.Recommendations, "review similarity thresholds and warmup coverage")
	case StatusCritical:
		report.Issues = append(report.Issues, "cache performance severely degraded")
		report.Recommendations = append(report.Recommendations, "check store and artifact disk immediately")
	}
	switch report.Capacity.Status {
	case StatusWarning:
		report.Issues = append(report.Issues, "cache capacity usage high")
		report.Recommendations = append(report.Recommendations, "run cleanup or raise capacity")
	case StatusCritical:
		report.Issues = append(report.Issues, "cache capacity nearly exhausted")
		report.Recommendations = append(report.Recommendations, "run cleanup now")
	}
	if !report.Available {
		report.Issues = append(report.Issues, "store unreachable")
	}

	h.logger.Info("Health check completed", map[string]interface{}{
		"overall": report.Overall.String(),
		"issues":  len(report.Issues),
	})
	return report
}

// Status is the quick form for liveness endpoints
func (h *HealthMonitor) Status(ctx context.Context) HealthStatus {
	return h.Check(ctx).Overall
}

func (h *HealthMonitor) checkPerformance(ctx context.Context) PerformanceCheck {
	snapshot := h.collector.Snapshot(ctx)

	check := PerformanceCheck{
		HitRate:      snapshot.HitRate,
		AvgLatencyMs: snapshot.AvgLatencyMs,
		Status:       StatusHealthy,
		Grade:        "A",
	}

	switch {
	case check.HitRate < hitRateCritical || check.AvgLatencyMs > latencyCritical:
		check.Status = StatusCritical
		check.Grade = "D"
	case check.HitRate < hitRateWarning || check.AvgLatencyMs > latencyWarning:
		check.Status = StatusWarning
		check.Grade = "C"
	case check.HitRate > 0.8 && check.AvgLatencyMs < 500:
		check.Grade = "A+"
	case check.HitRate > 0.7 && check.AvgLatencyMs < 800:
		check.Grade = "B"
	}
	return check
}

func (h *HealthMonitor) checkCapacity(ctx context.Context) CapacityCheck {
	stats, err := h.policy.Statistics(ctx)
	if err != nil {
		h.logger.Error("Capacity check failed", map[string]interface{}{"error": err.Error()})
		return CapacityCheck{Status: StatusDown}
	}

	check := CapacityCheck{
		UsedBytes:  stats.TotalSizeBytes,
		MaxBytes:   h.policy.config.MaxSizeBytes,
		UsageRatio: stats.SizeRatio,
		Status:     StatusHealthy,
	}

	switch {
	case check.UsageRatio >= capacityCritical:
		check.Status = StatusCritical
		check.NeedsCleanup = true
	case check.UsageRatio >= capacityWarning:
		check.Status = StatusWarning
		check.NeedsCleanup = true
	}
	return check
}
