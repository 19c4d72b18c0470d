package config

import (
	"strings"
	"time"

	protocol "github.com/marmos91/ttableserver/internal/protocol/lookup"
	"github.com/marmos91/ttableserver/pkg/adapter/lookup"
	"github.com/marmos91/ttableserver/pkg/loader"
	"github.com/marmos91/ttableserver/pkg/server"
)

const (
	defaultMetricsPort        = 9090
	defaultMetricsLogInterval = 5 * time.Minute
	defaultS3MaxRetries       = 10
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are treated as unset. Ports are always defaulted here; an
// ephemeral port is only reachable through the Go API.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyLoaderDefaults(&cfg.Loader)
	applyS3Defaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Lifetime == 0 {
		cfg.Lifetime = server.DefaultLifetime
	}
	if cfg.Direction == "" {
		cfg.Direction = lookup.DirectionS2T
	}
	cfg.Direction = lookup.Direction(strings.ToLower(string(cfg.Direction)))

	if cfg.S2TPort == 0 {
		cfg.S2TPort = lookup.DefaultS2TPort
	}
	if cfg.T2SPort == 0 {
		cfg.T2SPort = lookup.DefaultT2SPort
	}
	if cfg.Workers == 0 {
		cfg.Workers = lookup.DefaultWorkers
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = protocol.DefaultMaxBatch
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = defaultMetricsLogInterval
	}
}

func applyLoaderDefaults(cfg *loader.Config) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = loader.DefaultConcurrency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = loader.DefaultTimeout
	}
	if cfg.OnTimeout == "" {
		cfg.OnTimeout = loader.TimeoutFail
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = loader.DefaultProgressInterval
	}
}

func applyS3Defaults(cfg *Config) {
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if _, ok := cfg.S3["max_retries"]; !ok {
		cfg.S3["max_retries"] = defaultS3MaxRetries
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = defaultMetricsPort
	}
}

// GetDefaultConfig returns a Config with all defaults applied and an
// example model section, as written by "ttableserver init".
func GetDefaultConfig() *Config {
	cfg := &Config{
		Model: ModelConfig{
			Template:     "/data/lex/$GENRE/$DIRECTION.gz",
			LanguagePair: "en2zh",
			Provenances:  "",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
