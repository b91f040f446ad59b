// Package api exposes the cache's operator surface over HTTP: health,
// metrics, cleanup and warmup controls. Lookup and insert stay internal to
// the generation pipeline; this surface is for humans and dashboards.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshforge/modelcache/pkg/cache"
	"github.com/meshforge/modelcache/pkg/observability"
)

// Handler serves the cache management API
type Handler struct {
	index     *cache.Index
	policy    *cache.EvictionPolicy
	warmer    *cache.WarmupEngine
	collector *cache.Collector
	health    *cache.HealthMonitor
	logger    observability.Logger
}

// NewHandler wires the management surface
func NewHandler(index *cache.Index, policy *cache.EvictionPolicy, warmer *cache.WarmupEngine, collector *cache.Collector, health *cache.HealthMonitor, logger observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewLogger("cache.api")
	}
	return &Handler{
		index:     index,
		policy:    policy,
		warmer:    warmer,
		collector: collector,
		health:    health,
		logger:    logger,
	}
}

// Register mounts all routes under /api/cache
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	group := router.Group("/api/cache")
	{
		group.GET("/health", h.healthQuick)
		group.GET("/health/detailed", h.healthDetailed)

		group.GET("/statistics", h.statistics)
		group.GET("/metrics/realtime", h.realtimeMetrics)
		group.GET("/metrics/performance-report", h.performanceReport)
		group.GET("/metrics/hotspots", h.hotspots)
		group.GET("/metrics/trend-analysis", h.trends)
		group.POST("/metrics/reset", h.resetMetrics)

		group.POST("/cleanup", h.cleanup)
		group.POST("/cleanup/force", h.forceCleanup)
		group.DELETE("/entry/:id", h.evictEntry)

		group.POST("/warmup", h.warmup)
		group.GET("/warmup/statistics", h.warmupStats)
		group.GET("/warmup/candidates", h.warmupCandidates)
	}
}

func (h *Handler) healthQuick(c *gin.Context) {
	status := h.health.Status(c.Request.Context())
	code := http.StatusOK
	if status == cache.StatusDown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status.String(),
		"timestamp": time.Now(),
	})
}

func (h *Handler) healthDetailed(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	code := http.StatusOK
	if report.Overall == cache.StatusDown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (h *Handler) statistics(c *gin.Context) {
	stats, err := h.policy.Statistics(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) realtimeMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.Snapshot(c.Request.Context()))
}

func (h *Handler) performanceReport(c *gin.Context) {
	hours := intQuery(c, "hours", 24)
	report, err := h.collector.Report(c.Request.Context(), hours)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) hotspots(c *gin.Context) {
	limit := intQuery(c, "limit", 10)
	hotspots, err := h.collector.Hotspots(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hotspots": hotspots, "count": len(hotspots)})
}

func (h *Handler) trends(c *gin.Context) {
	days := intQuery(c, "days", 7)
	analysis, err := h.collector.Trends(c.Request.Context(), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *Handler) resetMetrics(c *gin.Context) {
	if err := h.collector.Reset(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "metrics reset"})
}

func (h *Handler) cleanup(c *gin.Context) {
	report, err := h.policy.Cleanup(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) forceCleanup(c *gin.Context) {
	count := intQuery(c, "count", 10)
	evicted, err := h.policy.ForceEvictCount(c.Request.Context(), count)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requested": count, "evicted": evicted})
}

func (h *Handler) evictEntry(c *gin.Context) {
	id := c.Param("id")
	evicted, err := h.policy.ForceEvict(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, cache.ErrEntryPinned) {
			c.JSON(http.StatusConflict, gin.H{"error": "entry has active references"})
			return
		}
		h.fail(c, err)
		return
	}
	if !evicted {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found or not cached"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry_id": id, "evicted": true})
}

func (h *Handler) warmup(c *gin.Context) {
	stats, err := h.warmer.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, cache.ErrWarmupCoolingDown) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"warmed":  0,
				"message": "warmup is cooling down",
			})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) warmupStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.warmer.LastStats())
}

func (h *Handler) warmupCandidates(c *gin.Context) {
	strategy := cache.WarmupStrategy(c.DefaultQuery("strategy", string(cache.StrategyComprehensive)))
	limit := intQuery(c, "limit", 50)

	candidates, err := h.warmer.Candidates(c.Request.Context(), strategy, limit)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown warmup strategy"})
			return
		}
		h.fail(c, err)
		return
	}

	ids := make([]string, 0, len(candidates))
	for _, e := range candidates {
		ids = append(ids, e.ID)
	}
	c.JSON(http.StatusOK, gin.H{"strategy": strategy, "count": len(ids), "entry_ids": ids})
}

func (h *Handler) fail(c *gin.Context, err error) {
	h.logger.Error("Request failed", map[string]interface{}{
		"path":  c.FullPath(),
		"error": err.Error(),
	})
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
