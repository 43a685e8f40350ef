package wallet

import (
	"sync"
	"time"
)

// Metrics provides observability for wallet engine operations
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// Metric names emitted by the engine
const (
	MetricTransferApplied   = "wallet.transfer.applied"
	MetricTransferRejected  = "wallet.transfer.rejected"
	MetricTransferDuplicate = "wallet.transfer.duplicate"
	MetricTransferDuration  = "wallet.transfer.duration"

	MetricLockAcquired    = "wallet.lock.acquired"
	MetricLockRetry       = "wallet.lock.retry"
	MetricLockUnavailable = "wallet.lock.unavailable"
	MetricLockReleaseMiss = "wallet.lock.release_miss"
	MetricLockAcquireTime = "wallet.lock.acquire_duration"

	MetricTxAbort = "wallet.tx.abort"
	MetricKVError = "wallet.kv.error"

	MetricConsumerMessages    = "wallet.consumer.messages"
	MetricConsumerDecodeError = "wallet.consumer.decode_error"
	MetricConsumerRetries     = "wallet.consumer.retries"
)

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing. Safe for
// concurrent use; transfer tests hammer it from many goroutines.
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], duration)
}

// Count returns the current value of a counter
func (m *InMemoryMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}
