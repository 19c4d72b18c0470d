package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/ttableserver/pkg/config"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	Force bool
}

// NewInitCommand creates the init command, which writes a commented
// default config file.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a commented default configuration file to the path given by --config,
or to $XDG_CONFIG_HOME/ttableserver/config.yaml when no path is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, rootOpts *RootOptions, opts *InitOptions) error {
	path := rootOpts.ConfigPath
	if path == "" {
		p, err := config.InitConfig(opts.Force)
		if err != nil {
			return WrapExitError(ExitConfigError, "failed to write config", err)
		}
		path = p
	} else if err := config.InitConfigToPath(path, opts.Force); err != nil {
		return WrapExitError(ExitConfigError, "failed to write config", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
