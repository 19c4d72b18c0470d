package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/ttableserver/pkg/adapter/lookup"
	"github.com/marmos91/ttableserver/pkg/loader"
)

// Config represents the complete ttableserver configuration.
//
// Configuration sources, highest priority first:
//  1. Environment variables (TTABLE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Environment variable naming: TTABLE_<SECTION>_<KEY>, for example
// TTABLE_SERVER_DIRECTION=t2s or TTABLE_MODEL_TEMPLATE=/data/$GENRE.gz.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server holds the lifetime and the query front end settings
	Server ServerConfig `mapstructure:"server"`

	// Model describes which tables to load
	Model ModelConfig `mapstructure:"model"`

	// Loader controls how tables are loaded
	Loader loader.Config `mapstructure:"loader"`

	// S3 holds object storage options, used when the template is an
	// s3:// URL. Decoded by CreateOpener.
	S3 map[string]any `mapstructure:"s3"`

	// Metrics controls the Prometheus exposition endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format.
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains the server lifetime and the lookup front end
// settings, which live in the same "server" section.
type ServerConfig struct {
	// Lifetime is how long the server serves before exiting on its own.
	// 0 means until interrupted.
	Lifetime time.Duration `mapstructure:"lifetime" validate:"min=0"`

	lookup.Config `mapstructure:",squash"`
}

// ModelConfig describes the set of tables making up the model.
type ModelConfig struct {
	// Template is the table location with $GENRE and $DIRECTION
	// placeholders. A local path or an s3://bucket/key URL.
	Template string `mapstructure:"template" validate:"required"`

	// LanguagePair replaces $DIRECTION, e.g. "en2zh".
	LanguagePair string `mapstructure:"language_pair"`

	// Provenances is a comma-separated genre list. Empty loads only the
	// ALL table.
	Provenances string `mapstructure:"provenances"`
}

// MetricsConfig configures the metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and exposed.
	Enabled bool `mapstructure:"enabled"`

	// Port is the HTTP port for /metrics. Default: 9090.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// envKeys are bound explicitly so that environment variables apply even
// when the key is absent from the config file.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.lifetime", "server.direction", "server.s2t_port", "server.t2s_port",
	"server.workers", "server.max_batch", "server.accept_rate", "server.accept_burst",
	"server.metrics_log_interval",
	"model.template", "model.language_pair", "model.provenances",
	"loader.concurrency", "loader.timeout", "loader.on_timeout",
	"loader.progress_interval", "loader.min_probability",
	"s3.region", "s3.endpoint", "s3.access_key_id", "s3.secret_access_key", "s3.max_retries",
	"metrics.enabled", "metrics.port",
}

// Load loads configuration from file, environment and defaults.
//
// A missing config file is not an error. The result has defaults applied
// and has been validated.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) error {
	v.SetEnvPrefix("TTABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return nil
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/ttableserver, falling back to
// ~/.config/ttableserver, or "." if the home directory is unknown.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ttableserver")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "ttableserver")
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists reports whether a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory.
func GetConfigDir() string {
	return getConfigDir()
}
