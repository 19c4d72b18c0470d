package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LoadResult is the outcome of loading one provenance table.
type LoadResult struct {
	Genre     string
	Lines     int64
	Entries   int64
	Filtered  int64
	Malformed int64
	Duration  time.Duration
	Err       error
}

// LoaderMetrics provides observability for model loading at startup.
type LoaderMetrics interface {
	// RecordLoad records a finished (or failed) table load.
	RecordLoad(result LoadResult)
}

type loaderMetrics struct {
	loadsTotal   *prometheus.CounterVec
	loadDuration *prometheus.GaugeVec
	linesTotal   *prometheus.CounterVec
	tableEntries *prometheus.GaugeVec
}

var (
	loaderOnce   sync.Once
	sharedLoader LoaderMetrics
)

// NewLoaderMetrics returns the Prometheus-backed LoaderMetrics registered
// on the global registry, or a no-op implementation if metrics are disabled.
func NewLoaderMetrics() LoaderMetrics {
	if !IsEnabled() {
		return NewNoopLoaderMetrics()
	}
	loaderOnce.Do(func() {
		sharedLoader = NewLoaderMetricsWith(GetRegistry())
	})
	return sharedLoader
}

// NewLoaderMetricsWith registers loader metrics on reg.
func NewLoaderMetricsWith(reg prometheus.Registerer) LoaderMetrics {
	return &loaderMetrics{
		loadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "table_loads_total",
				Help:      "Table loads by genre and status",
			},
			[]string{"genre", "status"},
		),
		loadDuration: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_load_duration_seconds",
				Help:      "Time spent loading each table",
			},
			[]string{"genre"},
		),
		linesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "table_lines_total",
				Help:      "Table lines read by genre and outcome",
			},
			[]string{"genre", "outcome"}, // loaded, filtered, malformed
		),
		tableEntries: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_entries",
				Help:      "Distinct (source, target) entries held per genre",
			},
			[]string{"genre"},
		),
	}
}

func (m *loaderMetrics) RecordLoad(r LoadResult) {
	status := "success"
	if r.Err != nil {
		status = "error"
	}
	m.loadsTotal.WithLabelValues(r.Genre, status).Inc()
	m.loadDuration.WithLabelValues(r.Genre).Set(r.Duration.Seconds())
	m.linesTotal.WithLabelValues(r.Genre, "loaded").Add(float64(r.Lines - r.Filtered - r.Malformed))
	m.linesTotal.WithLabelValues(r.Genre, "filtered").Add(float64(r.Filtered))
	m.linesTotal.WithLabelValues(r.Genre, "malformed").Add(float64(r.Malformed))
	if r.Err == nil {
		m.tableEntries.WithLabelValues(r.Genre).Set(float64(r.Entries))
	}
}

// NewNoopLoaderMetrics returns a LoaderMetrics that records nothing.
func NewNoopLoaderMetrics() LoaderMetrics {
	return noopLoaderMetrics{}
}

type noopLoaderMetrics struct{}

func (noopLoaderMetrics) RecordLoad(LoadResult) {}
