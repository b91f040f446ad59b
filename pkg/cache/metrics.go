package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelcache",
		Name:      "lookups_total",
		Help:      "Cache lookups by outcome match type",
	}, []string{"match_type"})

	lookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelcache",
		Name:      "lookup_duration_seconds",
		Help:      "Cache lookup latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation"})

	entriesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "modelcache",
		Name:      "entries_evicted_total",
		Help:      "Entries evicted by cleanup",
	})

	bytesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "modelcache",
		Name:      "bytes_reclaimed_total",
		Help:      "Artifact bytes reclaimed by cleanup",
	})

	entriesWarmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelcache",
		Name:      "entries_warmed_total",
		Help:      "Entries warmed by strategy",
	}, []string{"strategy"})

	cacheSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelcache",
		Name:      "size_bytes",
		Help:      "Total artifact bytes tracked by the cache",
	})

	cacheEntryCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelcache",
		Name:      "entries",
		Help:      "Live cache entries",
	})

	hitRateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelcache",
		Name:      "hit_rate",
		Help:      "Rolling cache hit rate since start or last reset",
	})
)
