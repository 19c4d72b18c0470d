package config

import (
	"github.com/marmos91/ttableserver/pkg/metrics"
)

// MetricsResult contains the metrics server and the collectors handed to
// the loader and the lookup adapter.
type MetricsResult struct {
	// Server is the HTTP server for /metrics (nil if disabled)
	Server *metrics.Server

	Lookup metrics.LookupMetrics
	Loader metrics.LoaderMetrics
}

// InitializeMetrics creates the metrics registry and collectors when
// metrics are enabled, or no-op collectors otherwise.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Lookup: metrics.NewNoopLookupMetrics(),
			Loader: metrics.NewNoopLoaderMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Lookup: metrics.NewLookupMetrics(),
		Loader: metrics.NewLoaderMetrics(),
	}
}
