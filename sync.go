package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/engine"
)

// Sync command flags.
var (
	flagDryRun      bool
	flagInteractive bool
	flagResetState  bool
	flagNoBackup    bool
	flagNoProgress  bool
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass",
		Long: `Run one full synchronization pass: list both sides, compare against the
prior state, propagate changes, and commit the new state.

Use --dry-run to preview the plan without touching either side. Item
failures never abort a run; failed paths are retried on the next run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd)
		},
	}

	cmd.Flags().BoolVarP(&flagDryRun, "dry-run", "n", false, "plan and preview without executing")
	cmd.Flags().BoolVarP(&flagInteractive, "interactive", "i", false, "show the plan and ask before executing")
	cmd.Flags().BoolVar(&flagResetState, "reset-state", false, "discard the prior state and reconcile from scratch")
	cmd.Flags().BoolVar(&flagNoBackup, "no-backup", false, "skip backups for this run")
	cmd.Flags().BoolVar(&flagNoProgress, "no-progress", false, "disable the progress bar")

	return cmd
}

func runSync(cmd *cobra.Command) error {
	logger := buildLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	be, err := backend.NewRclone(ctx, cfg.RcloneExe, cfg.RcloneEnv, logger, backend.WithFlags(cfg.RcloneFlags...))
	if err != nil {
		return err
	}

	orch, err := engine.NewOrchestrator(cfg, be, logger)
	if err != nil {
		return err
	}

	opts := engine.RunOptions{
		DryRun:     flagDryRun,
		ResetState: flagResetState,
		NoBackup:   flagNoBackup,
		Progress:   !flagNoProgress && !flagQuiet && isatty.IsTerminal(os.Stderr.Fd()),
	}

	if flagInteractive && !flagDryRun {
		opts.Confirm = confirmPlan
	}

	result, err := orch.Run(ctx, opts)
	if err != nil {
		return err
	}

	if result.DryRun {
		return nil
	}

	fmt.Println(result.Summary())

	if !result.Ok() {
		return fmt.Errorf("%d items failed; affected paths will be retried next run", len(result.Stats.Errors))
	}

	return nil
}

// confirmPlan shows the preview and asks for a y/N answer on stdin.
func confirmPlan(preview string) bool {
	fmt.Print(preview)
	fmt.Print("proceed? [y/N] ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes"
}
