package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/heysubinoy/kvlite/pkg/kv"
)

// Operation labels.
const (
	opGet    = "get"
	opSet    = "set"
	opDelete = "del"
)

// Result labels.
const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultError    = "error"
)

// Metrics holds the Prometheus collectors for store operations.
type Metrics struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newMetrics() *Metrics {
	return &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvlite",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations by operation and result.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kvlite",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Latency of store operations.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.ops.Describe(ch)
	m.latency.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.ops.Collect(ch)
	m.latency.Collect(ch)
}

func (m *Metrics) observe(op, result string, start time.Time) {
	m.ops.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// InstrumentedStore wraps any kv.Store implementation with timing metrics.
// This pattern works for file-backed, cached and in-memory stores alike.
type InstrumentedStore struct {
	store   kv.Store
	metrics *Metrics
}

// Compile-time check to ensure InstrumentedStore implements kv.Store.
var _ kv.Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore wraps a store with instrumentation and registers its
// collectors with reg. A nil reg skips registration.
func NewInstrumentedStore(store kv.Store, reg prometheus.Registerer) (*InstrumentedStore, error) {
	metrics := newMetrics()
	if reg != nil {
		if err := reg.Register(metrics); err != nil {
			return nil, err
		}
	}
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}, nil
}

// Get delegates to the wrapped store and records timing.
func (s *InstrumentedStore) Get(key []byte) ([]byte, bool, error) {
	start := time.Now()
	value, found, err := s.store.Get(key)

	result := resultOK
	switch {
	case err != nil:
		result = resultError
	case !found:
		result = resultNotFound
	}
	s.metrics.observe(opGet, result, start)

	return value, found, err
}

// Set delegates to the wrapped store and records timing.
func (s *InstrumentedStore) Set(key, value []byte) error {
	start := time.Now()
	err := s.store.Set(key, value)
	s.metrics.observe(opSet, resultOf(err), start)
	return err
}

// Delete delegates to the wrapped store and records timing.
func (s *InstrumentedStore) Delete(key []byte) error {
	start := time.Now()
	err := s.store.Delete(key)
	s.metrics.observe(opDelete, resultOf(err), start)
	return err
}

// Metrics returns the collectors backing this store.
func (s *InstrumentedStore) Metrics() *Metrics {
	return s.metrics
}

// Snapshot returns a point-in-time view of the metrics.
func (s *InstrumentedStore) Snapshot() MetricsSnapshot {
	getCount, getAvg := s.latencyStats(opGet)
	setCount, setAvg := s.latencyStats(opSet)
	deleteCount, deleteAvg := s.latencyStats(opDelete)

	return MetricsSnapshot{
		GetCount:         getCount,
		SetCount:         setCount,
		DeleteCount:      deleteCount,
		ErrorCount:       s.errorCount(),
		GetAvgLatency:    getAvg,
		SetAvgLatency:    setAvg,
		DeleteAvgLatency: deleteAvg,
	}
}

func (s *InstrumentedStore) latencyStats(op string) (uint64, time.Duration) {
	var m dto.Metric
	h, ok := s.metrics.latency.WithLabelValues(op).(prometheus.Metric)
	if !ok || h.Write(&m) != nil {
		return 0, 0
	}
	count := m.GetHistogram().GetSampleCount()
	if count == 0 {
		return 0, 0
	}
	avg := m.GetHistogram().GetSampleSum() / float64(count)
	return count, time.Duration(avg * float64(time.Second))
}

// errorCount sums the error series without creating empty ones.
func (s *InstrumentedStore) errorCount() uint64 {
	ch := make(chan prometheus.Metric)
	go func() {
		s.metrics.ops.Collect(ch)
		close(ch)
	}()

	var total uint64
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			continue
		}
		for _, label := range m.GetLabel() {
			if label.GetName() == "result" && label.GetValue() == resultError {
				total += uint64(m.GetCounter().GetValue())
			}
		}
	}
	return total
}

func resultOf(err error) string {
	if err != nil {
		return resultError
	}
	return resultOK
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	GetCount         uint64
	SetCount         uint64
	DeleteCount      uint64
	ErrorCount       uint64
	GetAvgLatency    time.Duration
	SetAvgLatency    time.Duration
	DeleteAvgLatency time.Duration
}
