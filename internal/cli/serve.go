package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/ttableserver/internal/logger"
	"github.com/marmos91/ttableserver/pkg/adapter/lookup"
	"github.com/marmos91/ttableserver/pkg/config"
)

const metricsStopTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Direction string
}

func addServeFlags(cmd *cobra.Command, opts *ServeOptions) {
	cmd.Flags().StringVarP(&opts.Direction, "direction", "d", "", "override server.direction (s2t or t2s)")
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the tables and serve lookups",
		Long: `Load every table named by the model section, then serve lookups on the
port selected by the direction until the lifetime expires or the process
is interrupted.

Exit codes:
  0  lifetime expired or interrupted
  1  runtime failure
  2  invalid configuration
  3  a table failed to load`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, opts)
		},
	}
	addServeFlags(cmd, opts)

	return cmd
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(rootOpts *RootOptions, direction string) (*config.Config, error) {
	cfg, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitConfigError, "failed to load configuration", err)
	}

	if rootOpts.LogLevel == "" && direction == "" {
		return cfg, nil
	}
	if rootOpts.LogLevel != "" {
		cfg.Logging.Level = strings.ToUpper(rootOpts.LogLevel)
	}
	if direction != "" {
		cfg.Server.Direction = lookup.Direction(strings.ToLower(direction))
	}
	if err := config.Validate(cfg); err != nil {
		return nil, WrapExitError(ExitConfigError, "invalid command line override", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *ServeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(rootOpts, opts.Direction)
	if err != nil {
		return err
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return WrapExitError(ExitConfigError, "failed to configure logging", err)
	}

	logger.Info("Starting ttableserver: direction=%s port=%d lifetime=%v",
		cfg.Server.Direction, cfg.Server.PortFor(cfg.Server.Direction), cfg.Server.Lifetime)

	m := config.InitializeMetrics(cfg)

	srv, err := config.CreateServer(ctx, cfg, m)
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return WrapExitError(ExitConfigError, "failed to create server", err)
		}
		return fmt.Errorf("failed to create server: %w", err)
	}

	metricsDone := make(chan struct{})
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if m.Server != nil {
		go func() {
			defer close(metricsDone)
			if err := m.Server.Start(metricsCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	} else {
		close(metricsDone)
	}

	runErr := srv.Run(ctx)

	stopMetrics()
	select {
	case <-metricsDone:
	case <-time.After(metricsStopTimeout):
		logger.Warn("Metrics server did not stop within %v", metricsStopTimeout)
	}

	// interrupted while loading
	if runErr != nil && ctx.Err() != nil && errors.Is(runErr, ctx.Err()) {
		logger.Info("Interrupted before the model finished loading")
		return nil
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("ttableserver stopped")
	return nil
}
