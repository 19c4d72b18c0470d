package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config, got error: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "InvalidLogLevel",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantMsg: "Level",
		},
		{
			name:    "InvalidLogFormat",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantMsg: "Format",
		},
		{
			name:    "MissingTemplate",
			mutate:  func(c *Config) { c.Model.Template = "" },
			wantMsg: "Template",
		},
		{
			name:    "InvalidDirection",
			mutate:  func(c *Config) { c.Server.Direction = "both" },
			wantMsg: "Direction",
		},
		{
			name:    "PortOutOfRange",
			mutate:  func(c *Config) { c.Server.S2TPort = 70000 },
			wantMsg: "S2TPort",
		},
		{
			name:    "NegativeWorkers",
			mutate:  func(c *Config) { c.Server.Workers = -1 },
			wantMsg: "Workers",
		},
		{
			name:    "InvalidTimeoutPolicy",
			mutate:  func(c *Config) { c.Loader.OnTimeout = "retry" },
			wantMsg: "OnTimeout",
		},
		{
			name:    "NegativeMinProbability",
			mutate:  func(c *Config) { c.Loader.MinProbability = -0.5 },
			wantMsg: "MinProbability",
		},
		{
			name:    "DuplicateProvenance",
			mutate:  func(c *Config) { c.Model.Provenances = "news,web,news" },
			wantMsg: "model.provenances",
		},
		{
			name:    "ReservedProvenance",
			mutate:  func(c *Config) { c.Model.Provenances = "all" },
			wantMsg: "model.provenances",
		},
		{
			name: "DirectionWithoutLanguagePair",
			mutate: func(c *Config) {
				c.Model.Template = "/lex/$GENRE/$DIRECTION.gz"
				c.Model.LanguagePair = ""
			},
			wantMsg: "language_pair",
		},
		{
			name: "SamePorts",
			mutate: func(c *Config) {
				c.Server.S2TPort = 5000
				c.Server.T2SPort = 5000
			},
			wantMsg: "must differ",
		},
		{
			name: "MetricsPortCollision",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = c.Server.S2TPort
			},
			wantMsg: "metrics.port",
		},
		{
			name: "S3WithoutRegion",
			mutate: func(c *Config) {
				c.Model.Template = "s3://bucket/lex/$GENRE/$DIRECTION.gz"
			},
			wantMsg: "s3.region",
		},
		{
			name: "S3WithoutKey",
			mutate: func(c *Config) {
				c.Model.Template = "s3://bucket"
				c.S3["region"] = "eu-west-1"
			},
			wantMsg: "model.template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestValidate_MetricsPortOnOtherDirection(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	// t2s is not served when direction is s2t
	cfg.Metrics.Port = cfg.Server.T2SPort

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected metrics on the unused port to be valid, got: %v", err)
	}
}

func TestValidate_S3Template(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Model.Template = "s3://tables/lex/$GENRE/$DIRECTION.gz"
	cfg.S3["region"] = "us-east-1"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid s3 config, got: %v", err)
	}
}

func TestValidate_LogLevelCaseInsensitive(t *testing.T) {
	for _, level := range []string{"debug", "Info", "WARN", "error"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level
		ApplyDefaults(cfg)

		if err := Validate(cfg); err != nil {
			t.Errorf("Level %q should be valid, got: %v", level, err)
		}
	}
}
