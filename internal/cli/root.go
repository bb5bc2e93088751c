// Package cli implements the autotune command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
)

// Version is set at build time
var Version = "dev"

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	log *slog.Logger
)

// NewRootCmd creates the root cobra command for the autotune CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autotune",
		Short: "Schedule auto-tuning for tensor kernels",
		Long:  "autotune searches loop schedules for tensor kernels, measures the promising ones and keeps the tuning history.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			log = logger.NewWithFormat(flagLogLevel, flagLogFormat, cmd.ErrOrStderr())
			logger.SetDefault(log)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newTuneCmd(),
		newHistoryCmd(),
		newTargetsCmd(),
		newVersionCmd(),
	)

	return root
}

func init() {
	log = logger.NewText("info", os.Stderr)
}
