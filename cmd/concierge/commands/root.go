// Package commands implements the concierge CLI using cobra.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "concierge",
		Short: "Concierge - confirmation-gated personal assistant bot",
		Long: `Concierge is a personal-assistant bot that turns operator messages into
proposed operations, holds each one behind a confirmation card with a live
countdown, and only executes after an explicit confirm (or the operation's
configured default when the window lapses).

Examples:
  concierge serve
  concierge serve --config ./config.yaml
  concierge ops
  concierge ops --cleanup
  concierge vault init`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newOpsCmd(),
		newVaultCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// newLogger builds the process logger honoring the --verbose flag.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
