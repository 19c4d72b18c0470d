package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the ttableserver command tree. Running the root
// command without a subcommand is the same as "serve".
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	serveOpts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "ttableserver",
		Short: "Translation table lookup server",
		Long: "Loads translation probability tables into memory and answers batched\n" +
			"(provenance, source, target) lookups over TCP for a fixed lifetime.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, serveOpts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (default: $XDG_CONFIG_HOME/ttableserver/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")
	addServeFlags(cmd, serveOpts)

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))

	return cmd
}
