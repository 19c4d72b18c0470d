package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LookupMetrics provides observability for the lookup adapter.
//
// Implementations collect batch throughput, hit ratio and connection
// lifecycle. If not provided to the adapter, a no-op implementation is used.
type LookupMetrics interface {
	// RecordBatch records one answered request batch.
	//
	// Parameters:
	//   - keys: Number of tuples in the batch
	//   - hits: Number of tuples found in the model
	//   - duration: Time from reading the count to flushing the response
	RecordBatch(keys, hits int, duration time.Duration)

	// RecordProtocolError counts requests rejected before lookup
	// (negative count, oversized batch).
	RecordProtocolError(reason string)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed by shutdown.
	RecordConnectionForceClosed()
}

// lookupMetrics is the Prometheus implementation of LookupMetrics.
type lookupMetrics struct {
	batchesTotal           prometheus.Counter
	keysTotal              *prometheus.CounterVec
	batchDuration          prometheus.Histogram
	batchSize              prometheus.Histogram
	protocolErrors         *prometheus.CounterVec
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

var (
	lookupOnce   sync.Once
	sharedLookup LookupMetrics
)

// NewLookupMetrics returns the Prometheus-backed LookupMetrics registered
// on the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called). Repeated calls return the same instance.
func NewLookupMetrics() LookupMetrics {
	if !IsEnabled() {
		return NewNoopLookupMetrics()
	}
	lookupOnce.Do(func() {
		sharedLookup = NewLookupMetricsWith(GetRegistry())
	})
	return sharedLookup
}

// NewLookupMetricsWith registers lookup metrics on reg.
func NewLookupMetricsWith(reg prometheus.Registerer) LookupMetrics {
	return &lookupMetrics{
		batchesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of answered lookup batches",
			},
		),
		keysTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keys_total",
				Help:      "Total number of looked up tuples by result",
			},
			[]string{"result"}, // hit or miss
		),
		batchDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Time to read, look up and answer one batch",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
					10.0,   // 10s
				},
			},
		),
		batchSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size_keys",
				Help:      "Distribution of tuples per batch",
				Buckets:   prometheus.ExponentialBuckets(1, 10, 7), // 1 .. 1M
			},
		),
		protocolErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_errors_total",
				Help:      "Requests rejected before lookup",
			},
			[]string{"reason"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Current number of active lookup connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_accepted_total",
				Help:      "Total number of lookup connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_closed_total",
				Help:      "Total number of lookup connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_force_closed_total",
				Help:      "Total number of lookup connections closed by shutdown",
			},
		),
	}
}

func (m *lookupMetrics) RecordBatch(keys, hits int, duration time.Duration) {
	m.batchesTotal.Inc()
	m.keysTotal.WithLabelValues("hit").Add(float64(hits))
	m.keysTotal.WithLabelValues("miss").Add(float64(keys - hits))
	m.batchDuration.Observe(duration.Seconds())
	m.batchSize.Observe(float64(keys))
}

func (m *lookupMetrics) RecordProtocolError(reason string) {
	m.protocolErrors.WithLabelValues(reason).Inc()
}

func (m *lookupMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *lookupMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *lookupMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *lookupMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

// NewNoopLookupMetrics returns a LookupMetrics that records nothing.
func NewNoopLookupMetrics() LookupMetrics {
	return noopLookupMetrics{}
}

// noopLookupMetrics is a no-op implementation of LookupMetrics with zero overhead.
type noopLookupMetrics struct{}

func (noopLookupMetrics) RecordBatch(keys, hits int, duration time.Duration) {}
func (noopLookupMetrics) RecordProtocolError(reason string)                  {}
func (noopLookupMetrics) SetActiveConnections(count int32)                   {}
func (noopLookupMetrics) RecordConnectionAccepted()                          {}
func (noopLookupMetrics) RecordConnectionClosed()                            {}
func (noopLookupMetrics) RecordConnectionForceClosed()                       {}
