// internal/utils/metrics.go
package utils

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Counter is a monotonically increasing value.
type Counter struct {
	value int64
}

// Gauge is a value that can go up and down.
type Gauge struct {
	value int64
}

// Histogram tracks count, sum, min and max of observed values.
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (m *MetricsCollector) counter(name string) *Counter {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; !ok {
		c = &Counter{}
		m.counters[name] = c
	}
	return c
}

func (m *MetricsCollector) gauge(name string) *Gauge {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if ok {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok = m.gauges[name]; !ok {
		g = &Gauge{}
		m.gauges[name] = g
	}
	return g
}

// IncrementCounter adds one to a counter.
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(&m.counter(name).value, 1)
}

// AddCounter adds value to a counter.
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(&m.counter(name).value, value)
}

// GetCounterValue returns the current value of a counter (0 if unknown).
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(&c.value)
}

func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(&m.gauge(name).value, value)
}

func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, 1)
}

func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, -1)
}

func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(&g.value)
}

// RecordHistogram records one observation.
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 || value < h.min {
		h.min = value
	}
	if h.count == 0 || value > h.max {
		h.max = value
	}
	h.count++
	h.sum += value
}

// GetMetrics returns a snapshot suitable for JSON output.
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(&c.value)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, g := range m.gauges {
		gauges[name] = atomic.LoadInt64(&g.value)
	}

	histograms := make(map[string]map[string]interface{}, len(m.histograms))
	names := make([]string, 0, len(m.histograms))
	for name := range m.histograms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := m.histograms[name]
		h.mu.Lock()
		avg := float64(0)
		if h.count > 0 {
			avg = float64(h.sum) / float64(h.count)
		}
		histograms[name] = map[string]interface{}{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
			"avg":   avg,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
		"timestamp":  time.Now(),
	}
}

// APIMetrics records domain metrics on top of a collector.
type APIMetrics struct {
	collector *MetricsCollector
}

func NewAPIMetrics() *APIMetrics {
	return &APIMetrics{collector: GetMetricsCollector()}
}

// RecordAPIRequest records one HTTP request.
func (am *APIMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	am.collector.IncrementCounter("api_requests_total")
	am.collector.IncrementCounter(fmt.Sprintf("api_requests_%s_%s", method, endpoint))
	am.collector.IncrementCounter(fmt.Sprintf("api_responses_%dxx", statusCode/100))
	am.collector.RecordHistogram("api_request_duration_ms", duration.Milliseconds())
}

// RecordStage records one workflow stage run; outcome is success, partial or error.
func (am *APIMetrics) RecordStage(stage, outcome string, duration time.Duration) {
	am.collector.IncrementCounter(fmt.Sprintf("stage_%s_%s", stage, outcome))
	am.collector.RecordHistogram(fmt.Sprintf("stage_%s_duration_ms", stage), duration.Milliseconds())
}

// RecordVendorCall records one call to an external vendor.
func (am *APIMetrics) RecordVendorCall(vendor string, ok bool, duration time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	am.collector.IncrementCounter(fmt.Sprintf("vendor_%s_%s", vendor, outcome))
	am.collector.RecordHistogram(fmt.Sprintf("vendor_%s_duration_ms", vendor), duration.Milliseconds())
}

// RecordError records an error by type and component.
func (am *APIMetrics) RecordError(errorType, component string) {
	am.collector.IncrementCounter("errors_total")
	am.collector.IncrementCounter(fmt.Sprintf("errors_%s_%s", component, errorType))
}

// RecordSessionCreated counts discussion sessions.
func (am *APIMetrics) RecordSessionCreated() {
	am.collector.IncrementCounter("discussion_sessions_created")
}

// PollTasksActive tracks running video poll tasks.
func (am *APIMetrics) PollTasksActive(delta int64) {
	am.collector.AddGauge("video_poll_tasks_active", delta)
}

// AddGauge adds delta to a gauge.
func (m *MetricsCollector) AddGauge(name string, delta int64) {
	atomic.AddInt64(&m.gauge(name).value, delta)
}
