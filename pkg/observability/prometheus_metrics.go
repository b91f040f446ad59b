package observability

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsClient implements MetricsClient on a Prometheus registry.
// Collectors are created lazily on first use and cached by name plus label
// ordering, so callers can emit ad-hoc metric names without pre-registration.
type PrometheusMetricsClient struct {
	registry  prometheus.Registerer
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a metrics client registering on the
// given registry. A nil registry uses the default one.
func NewPrometheusMetricsClient(registry prometheus.Registerer, namespace string) *PrometheusMetricsClient {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &PrometheusMetricsClient{
		registry:   registry,
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// IncrementCounter increments a counter without labels
func (m *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	m.IncrementCounterWithLabels(name, value, nil)
}

// IncrementCounterWithLabels increments a labeled counter
func (m *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	m.counter(name, keys).WithLabelValues(values...).Add(value)
}

// RecordGauge sets a labeled gauge
func (m *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	m.gauge(name, keys).WithLabelValues(values...).Set(value)
}

// RecordHistogram observes a value on a labeled histogram
func (m *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	m.histogram(name, keys).WithLabelValues(values...).Observe(value)
}

// RecordLatency observes an operation duration in seconds
func (m *PrometheusMetricsClient) RecordLatency(operation string, duration time.Duration) {
	m.RecordHistogram("operation_duration_seconds", duration.Seconds(), map[string]string{
		"operation": operation,
	})
}

// Close is a no-op; the registry owns collector lifecycles
func (m *PrometheusMetricsClient) Close() error { return nil }

func (m *PrometheusMetricsClient) counter(name string, labelKeys []string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := collectorKey(name, labelKeys)
	if c, ok := m.counters[key]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      sanitizeMetricName(name),
		Help:      name,
	}, labelKeys)
	m.registry.MustRegister(c)
	m.counters[key] = c
	return c
}

func (m *PrometheusMetricsClient) gauge(name string, labelKeys []string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := collectorKey(name, labelKeys)
	if g, ok := m.gauges[key]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      sanitizeMetricName(name),
		Help:      name,
	}, labelKeys)
	m.registry.MustRegister(g)
	m.gauges[key] = g
	return g
}

func (m *PrometheusMetricsClient) histogram(name string, labelKeys []string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := collectorKey(name, labelKeys)
	if h, ok := m.histograms[key]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      sanitizeMetricName(name),
		Help:      name,
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, labelKeys)
	m.registry.MustRegister(h)
	m.histograms[key] = h
	return h
}

func splitLabels(labels map[string]string) ([]string, []string) {
	if len(labels) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return keys, values
}

func collectorKey(name string, labelKeys []string) string {
	return name + "|" + strings.Join(labelKeys, ",")
}

func sanitizeMetricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}
