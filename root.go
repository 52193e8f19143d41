package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/duplexsync/duplex/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagOverrides  []string
	flagVerbose    bool
	flagQuiet      bool
)

const rootLong = `duplex keeps two storage locations in sync by comparing each side against
the state recorded after the last run, so changes, moves, and deletions made
on either side propagate to the other without re-transferring unchanged data.`

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	// Cobra's default error/usage printing is silenced; main handles it.
	cmd := &cobra.Command{
		Use:           "duplex",
		Short:         "Bidirectional file synchronization",
		Long:          rootLong,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "duplex.toml", "config file path")
	cmd.PersistentFlags().StringArrayVarP(&flagOverrides, "override", "o", nil,
		"config override as a TOML fragment, e.g. -o 'workers = 8' (repeatable)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newBreakLockCmd())

	return cmd
}

// loadConfig reads the config file and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	return config.Load(flagConfigPath, flagOverrides)
}

// buildLogger creates the CLI logger: colored terse output on a terminal,
// plain text when redirected. CLI flags pick the level.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	w := os.Stderr

	if isatty.IsTerminal(w.Fd()) {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
