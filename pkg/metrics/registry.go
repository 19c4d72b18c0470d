// Package metrics exposes Prometheus collectors for the ttable server under
// the "ttable_" prefix.
//
// Two groups are provided: LookupMetrics (connections, batches, keys, hits,
// protocol errors) recorded by the lookup adapter, and LoaderMetrics (lines,
// entries, load duration per genre) recorded while the model is built.
//
// Metrics are off unless InitRegistry runs. Until then the New* constructors
// hand out no-op collectors, so the loader and adapter record unconditionally:
//
//	if cfg.Metrics.Enabled {
//		metrics.InitRegistry()
//	}
//	l := loader.New(cfg.Loader, opener, metrics.NewLoaderMetrics())
//	a, err := lookup.New(cfg.Server.Config, metrics.NewLookupMetrics())
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "ttable"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry enables metrics by creating the registry served on
// /metrics, with Go runtime and process collectors attached. Later calls
// are no-ops.
//
// Call it before the first New* constructor; collectors created earlier
// stay no-op.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = r
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return registry != nil
}
