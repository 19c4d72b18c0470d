package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `TTable Server Configuration File

Every key can be overridden with an environment variable named
TTABLE_<SECTION>_<KEY>, e.g. TTABLE_SERVER_DIRECTION=t2s.`

// InitConfig writes a default config file to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default config file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

type section struct {
	key     string
	comment string
	value   map[string]any
}

// generateYAMLWithComments renders cfg as YAML with a comment above each
// section. Keys use the same names as the mapstructure tags so the output
// loads back through Load.
func generateYAMLWithComments(cfg *Config) (string, error) {
	s3 := map[string]any{
		"region":            "",
		"endpoint":          "",
		"access_key_id":     "",
		"secret_access_key": "",
	}
	for k, v := range cfg.S3 {
		s3[k] = v
	}

	sections := []section{
		{
			key:     "logging",
			comment: "Logging: level is DEBUG, INFO, WARN or ERROR; format is text or json;\noutput is stdout, stderr or a file path",
			value: map[string]any{
				"level":  cfg.Logging.Level,
				"format": cfg.Logging.Format,
				"output": cfg.Logging.Output,
			},
		},
		{
			key: "server",
			comment: "Server: lifetime is how long the process serves before exiting.\n" +
				"direction (s2t or t2s) selects s2t_port or t2s_port. workers bounds\n" +
				"concurrently served connections; accept_rate 0 disables accept throttling.",
			value: map[string]any{
				"lifetime":             cfg.Server.Lifetime.String(),
				"direction":            string(cfg.Server.Direction),
				"s2t_port":             cfg.Server.S2TPort,
				"t2s_port":             cfg.Server.T2SPort,
				"workers":              cfg.Server.Workers,
				"max_batch":            cfg.Server.MaxBatch,
				"accept_rate":          cfg.Server.AcceptRate,
				"accept_burst":         cfg.Server.AcceptBurst,
				"metrics_log_interval": cfg.Server.MetricsLogInterval.String(),
			},
		},
		{
			key: "model",
			comment: "Model: template is a local path or s3://bucket/key with $GENRE and\n" +
				"$DIRECTION placeholders. provenances is a comma-separated genre list;\n" +
				"the ALL table is always loaded as provenance 0.",
			value: map[string]any{
				"template":      cfg.Model.Template,
				"language_pair": cfg.Model.LanguagePair,
				"provenances":   cfg.Model.Provenances,
			},
		},
		{
			key: "loader",
			comment: "Loader: on_timeout is fail (abort startup) or partial (serve the tables\n" +
				"that finished). Entries below min_probability are dropped.",
			value: map[string]any{
				"concurrency":       cfg.Loader.Concurrency,
				"timeout":           cfg.Loader.Timeout.String(),
				"on_timeout":        string(cfg.Loader.OnTimeout),
				"progress_interval": cfg.Loader.ProgressInterval,
				"min_probability":   cfg.Loader.MinProbability,
			},
		},
		{
			key:     "s3",
			comment: "S3: only used when the template is an s3:// URL",
			value:   s3,
		},
		{
			key:     "metrics",
			comment: "Metrics: Prometheus endpoint on /metrics",
			value: map[string]any{
				"enabled": cfg.Metrics.Enabled,
				"port":    cfg.Metrics.Port,
			},
		},
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range sections {
		var value yaml.Node
		if err := value.Encode(s.value); err != nil {
			return "", fmt.Errorf("failed to encode %s section: %w", s.key, err)
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: s.key, HeadComment: s.comment},
			&value,
		)
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: configHeader,
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
