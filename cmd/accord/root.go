package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"accord/internal/platform/config"
	"accord/internal/platform/logger"
)

// rootOptions holds global flags and the state every subcommand shares.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "accord",
		Short: "Accord - k-anonymous precedent federation",
		Long: `Accord bundles decided cases into k-anonymous precedent summaries and
exchanges them with peer nodes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only the server logs to stdout; other commands keep it for output.
			w := cmd.ErrOrStderr()
			if cmd.Name() == "serve" {
				w = os.Stdout
			}
			return opts.load(w)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (json|text)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newBundleCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newRequestCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// load reads configuration and builds the logger. Flags win over the file and
// the environment.
func (o *rootOptions) load(w io.Writer) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	log, err := logger.NewWithWriter(w, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = log
	return nil
}
