package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/ttableserver/pkg/adapter/lookup"
	"github.com/marmos91/ttableserver/pkg/loader"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

model:
  template: "/data/lex/$GENRE/$DIRECTION.gz"
  language_pair: "en2zh"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.Lifetime != 24*time.Hour {
		t.Errorf("Expected default lifetime 24h, got %v", cfg.Server.Lifetime)
	}
	if cfg.Server.Direction != lookup.DirectionS2T {
		t.Errorf("Expected default direction s2t, got %q", cfg.Server.Direction)
	}
	if cfg.Server.S2TPort != 4949 || cfg.Server.T2SPort != 4950 {
		t.Errorf("Expected default ports 4949/4950, got %d/%d", cfg.Server.S2TPort, cfg.Server.T2SPort)
	}
	if cfg.Server.Workers != 6 {
		t.Errorf("Expected default workers 6, got %d", cfg.Server.Workers)
	}
	if cfg.Loader.Concurrency != 4 {
		t.Errorf("Expected default loader concurrency 4, got %d", cfg.Loader.Concurrency)
	}
	if cfg.Loader.OnTimeout != loader.TimeoutFail {
		t.Errorf("Expected default on_timeout 'fail', got %q", cfg.Loader.OnTimeout)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  lifetime: 90m
  direction: T2S
  s2t_port: 5000
  t2s_port: 5001
  workers: 12
  max_batch: 1000
  accept_rate: 50
  accept_burst: 5

model:
  template: "/lex/$GENRE/$DIRECTION.zst"
  language_pair: "de2en"
  provenances: "news, web"

loader:
  concurrency: 2
  timeout: 10m
  on_timeout: partial
  min_probability: 0.001
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Lifetime != 90*time.Minute {
		t.Errorf("Expected lifetime 90m, got %v", cfg.Server.Lifetime)
	}
	if cfg.Server.Direction != lookup.DirectionT2S {
		t.Errorf("Expected direction t2s, got %q", cfg.Server.Direction)
	}
	if cfg.Server.PortFor(cfg.Server.Direction) != 5001 {
		t.Errorf("Expected serving port 5001, got %d", cfg.Server.PortFor(cfg.Server.Direction))
	}
	if cfg.Server.Workers != 12 || cfg.Server.MaxBatch != 1000 {
		t.Errorf("Unexpected workers/max_batch: %d/%d", cfg.Server.Workers, cfg.Server.MaxBatch)
	}
	if cfg.Server.AcceptRate != 50 || cfg.Server.AcceptBurst != 5 {
		t.Errorf("Unexpected accept rate/burst: %v/%d", cfg.Server.AcceptRate, cfg.Server.AcceptBurst)
	}
	if cfg.Loader.Timeout != 10*time.Minute {
		t.Errorf("Expected loader timeout 10m, got %v", cfg.Loader.Timeout)
	}
	if cfg.Loader.OnTimeout != loader.TimeoutPartial {
		t.Errorf("Expected on_timeout 'partial', got %q", cfg.Loader.OnTimeout)
	}
	if cfg.Loader.MinProbability != 0.001 {
		t.Errorf("Expected min_probability 0.001, got %v", cfg.Loader.MinProbability)
	}

	tasks, err := CreateTasks(cfg)
	if err != nil {
		t.Fatalf("CreateTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("Expected 3 tasks (ALL + 2 genres), got %d", len(tasks))
	}
	if tasks[2].Path != "/lex/web/de2en.zst" {
		t.Errorf("Unexpected path for provenance 2: %q", tasks[2].Path)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("TTABLE_MODEL_TEMPLATE", "/data/$GENRE.gz")

	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Model.Template != "/data/$GENRE.gz" {
		t.Errorf("Expected template from env var, got %q", cfg.Model.Template)
	}
}

func TestLoad_MissingTemplate(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "DEBUG"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error without model.template, got nil")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
	if errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Parse errors should not be reported as validation errors: %v", err)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[server]
direction = "t2s"

[model]
template = "/data/$GENRE.gz"
provenances = "legal"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Server.Direction != lookup.DirectionT2S {
		t.Errorf("Expected direction t2s, got %q", cfg.Server.Direction)
	}
	if cfg.Model.Provenances != "legal" {
		t.Errorf("Expected provenances 'legal', got %q", cfg.Model.Provenances)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Model.Template == "" {
		t.Error("Expected an example template in the default config")
	}
	if cfg.Server.MaxBatch != 1<<20 {
		t.Errorf("Expected default max_batch %d, got %d", 1<<20, cfg.Server.MaxBatch)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in an empty config home")
	}
	if err := InitConfigToPath(GetDefaultConfigPath(), false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after init")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "ttableserver" {
		t.Errorf("Expected directory name 'ttableserver', got %q", filepath.Base(dir))
	}

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if got := GetConfigDir(); got != filepath.Join(xdg, "ttableserver") {
		t.Errorf("Expected XDG_CONFIG_HOME to be honored, got %q", got)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("TTABLE_LOGGING_LEVEL", "ERROR")
	t.Setenv("TTABLE_SERVER_S2T_PORT", "6049")
	t.Setenv("TTABLE_LOADER_ON_TIMEOUT", "partial")
	t.Setenv("TTABLE_MODEL_PROVENANCES", "a,b,c")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

server:
  s2t_port: 4949

model:
  template: "/data/$GENRE.gz"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Server.S2TPort != 6049 {
		t.Errorf("Expected port 6049 from env var, got %d", cfg.Server.S2TPort)
	}
	if cfg.Loader.OnTimeout != loader.TimeoutPartial {
		t.Errorf("Expected on_timeout 'partial' from env var, got %q", cfg.Loader.OnTimeout)
	}
	if cfg.Model.Provenances != "a,b,c" {
		t.Errorf("Expected provenances from env var, got %q", cfg.Model.Provenances)
	}
}
