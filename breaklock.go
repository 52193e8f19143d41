package main

import (
	"github.com/spf13/cobra"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/engine"
)

func newBreakLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "break-lock",
		Short: "Remove stale lock markers left by a dead run",
		Long: `Remove the remote lock markers for this sync pair. Only use this after
confirming no other run is active: breaking a live lock lets two runs act on
the same remotes at once.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			be, err := backend.NewRclone(cmd.Context(), cfg.RcloneExe, cfg.RcloneEnv, logger,
				backend.WithFlags(cfg.RcloneFlags...))
			if err != nil {
				return err
			}

			return engine.BreakLocks(cmd.Context(), cfg, be, logger)
		},
	}
}
