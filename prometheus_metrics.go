package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance.
// If registry is nil, uses the default Prometheus registry.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer.(*prometheus.Registry)
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

// registerDefaultMetrics registers all standard wallet engine metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	p.counters[MetricTransferApplied] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "transfer",
			Name:      "applied_total",
			Help:      "Total number of committed transfers",
		},
		[]string{},
	)

	p.counters[MetricTransferRejected] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "transfer",
			Name:      "rejected_total",
			Help:      "Total number of rejected transfers",
		},
		[]string{"code"},
	)

	p.counters[MetricTransferDuplicate] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "transfer",
			Name:      "duplicates_total",
			Help:      "Total number of duplicate deliveries absorbed by idempotency",
		},
		[]string{},
	)

	p.counters[MetricLockRetry] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "lock",
			Name:      "retries_total",
			Help:      "Total number of lock acquisition retries",
		},
		[]string{},
	)

	p.counters[MetricLockUnavailable] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "lock",
			Name:      "unavailable_total",
			Help:      "Total number of acquisitions that exhausted their retry budget",
		},
		[]string{},
	)

	p.counters[MetricTxAbort] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "tx",
			Name:      "aborts_total",
			Help:      "Total number of optimistic transaction aborts",
		},
		[]string{},
	)

	p.histograms[MetricTransferDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wallet",
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "End-to-end transfer duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{},
	)

	p.histograms[MetricLockAcquireTime] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wallet",
			Subsystem: "lock",
			Name:      "acquire_duration_seconds",
			Help:      "Multi-key lock acquisition duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			extractLabels(tags),
		)
		p.counters[name] = counter
	}

	counter.With(extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "wallet",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			extractLabels(tags),
		)
		p.gauges[name] = gauge
	}

	gauge.With(extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wallet",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			extractLabels(tags),
		)
		p.histograms[name] = histogram
	}

	histogram.With(extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}

// sanitizeMetricName converts dotted metric names to Prometheus form
func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}

// extractLabels extracts label names from tags (every even index)
func extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags)-1; i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func extractLabelValues(tags []string) prometheus.Labels {
	if len(tags) == 0 {
		return prometheus.Labels{}
	}

	labels := make(prometheus.Labels)
	for i := 0; i < len(tags)-1; i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}
