package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/config"
	"github.com/duplexsync/duplex/internal/snapshot"
)

// Orchestrator drives one full sync run: lock, list, classify, plan,
// execute, commit.
type Orchestrator struct {
	cfg    *config.Config
	be     backend.Transferer
	store  *snapshot.Store
	filter *config.PathFilter
	logger *slog.Logger
}

// RunOptions are per-invocation switches layered over the config.
type RunOptions struct {
	// DryRun plans and previews without executing or committing.
	DryRun bool
	// ResetState discards the prior state: every file on both sides is
	// treated as new and reconciled from scratch.
	ResetState bool
	// NoBackup disables backups for this run only.
	NoBackup bool
	// Progress draws a terminal progress bar during execution.
	Progress bool
	// Confirm, when set, is shown the plan preview and can abort the run.
	Confirm func(preview string) bool
}

// ErrAborted is returned when interactive confirmation declines the plan.
var ErrAborted = errors.New("run aborted before execution")

// NewOrchestrator builds a run driver from a validated config.
func NewOrchestrator(cfg *config.Config, be backend.Transferer, logger *slog.Logger) (*Orchestrator, error) {
	filter, err := config.NewPathFilter(cfg)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:    cfg,
		be:     be,
		store:  snapshot.NewStore(cfg.StateDir, cfg.Name),
		filter: filter,
		logger: logger,
	}, nil
}

func (o *Orchestrator) sideConfig(side snapshot.Side) *config.SideConfig {
	if side == snapshot.SideA {
		return &o.cfg.A
	}

	return &o.cfg.B
}

// Run performs one synchronization pass.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	started := time.Now()

	result := &Result{
		RunID:   uuid.NewString(),
		Started: started,
		DryRun:  opts.DryRun,
	}

	o.logger.Info("run starting", "name", o.cfg.Name, "run_id", result.RunID, "dry_run", opts.DryRun)

	if !opts.DryRun {
		lock := NewRunLock(o.cfg, o.be, result.RunID, o.logger)
		if err := lock.Acquire(ctx); err != nil {
			return nil, err
		}

		defer lock.Release(ctx)
	}

	prior, err := o.loadPrior(opts.ResetState)
	if err != nil {
		return nil, err
	}

	caps, err := o.resolveCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	currA, currB, err := o.listBoth(ctx, prior, started)
	if err != nil {
		return nil, err
	}

	o.logger.Info("listed", "a_files", currA.Len(), "b_files", currB.Len())

	stats := &RunStats{}

	plan, err := o.buildPlan(prior, currA, currB, caps, opts, started, stats)
	if err != nil {
		return nil, err
	}

	preview := RenderPreview(plan)

	if opts.DryRun {
		fmt.Print(preview)

		result.Stats = stats.View()
		result.Finished = time.Now()

		return result, nil
	}

	if plan.Empty() {
		o.logger.Info("nothing to do")

		if err := o.commit(ctx, plan); err != nil {
			return nil, err
		}

		result.Committed = true
		result.Stats = stats.View()
		result.Finished = time.Now()

		return result, nil
	}

	if opts.Confirm != nil && !opts.Confirm(preview) {
		return nil, ErrAborted
	}

	exec := NewExecutor(o.be, o.sidePaths(), caps, o.cfg.Workers, compareOptionsFrom(o.cfg), stats, o.logger)
	exec.ShowProgress = opts.Progress

	if err := exec.Execute(ctx, plan, currA, currB); err != nil {
		return nil, err
	}

	if stats.ErrorCount() == 0 {
		if err := o.commit(ctx, plan); err != nil {
			return nil, err
		}

		result.Committed = true

		o.syncBackups(ctx, plan)
	} else {
		o.logger.Warn("item failures: keeping previous state so the next run re-examines affected paths",
			"errors", stats.ErrorCount())
	}

	result.Stats = stats.View()
	result.Finished = time.Now()

	o.logger.Info("run finished", "summary", result.Summary(), "committed", result.Committed)

	return result, nil
}

func (o *Orchestrator) loadPrior(reset bool) (*snapshot.PriorState, error) {
	if reset {
		if err := o.store.Reset(); err != nil {
			return nil, err
		}

		o.logger.Warn("prior state reset: all files will be treated as new")
	}

	prior, err := o.store.Load()
	if errors.Is(err, snapshot.ErrStateUnreadable) {
		return nil, fmt.Errorf("%w (run with --reset-state to discard it)", err)
	}

	if err != nil {
		return nil, err
	}

	return prior, nil
}

func (o *Orchestrator) sidePaths() map[snapshot.Side]SidePaths {
	return map[snapshot.Side]SidePaths{
		snapshot.SideA: {Root: o.cfg.A.Remote, Workdir: o.cfg.A.Workdir},
		snapshot.SideB: {Root: o.cfg.B.Remote, Workdir: o.cfg.B.Workdir},
	}
}

func (o *Orchestrator) resolveCapabilities(ctx context.Context) (map[snapshot.Side]backend.Capabilities, error) {
	caps := make(map[snapshot.Side]backend.Capabilities, 2)

	for side, root := range map[snapshot.Side]string{
		snapshot.SideA: o.cfg.A.Remote,
		snapshot.SideB: o.cfg.B.Remote,
	} {
		c, err := o.be.Capabilities(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("resolving capabilities for %s: %w", side, err)
		}

		caps[side] = c

		o.logger.Debug("capabilities", "side", side, "copy", c.ServerSideCopy,
			"move", c.ServerSideMove, "overlapping_moves", c.OverlappingMoves, "empty_dirs", c.EmptyDirs)
	}

	return caps, nil
}

// listBoth lists the two sides concurrently.
func (o *Orchestrator) listBoth(ctx context.Context, prior *snapshot.PriorState, now time.Time) (*snapshot.Snapshot, *snapshot.Snapshot, error) {
	var currA, currB *snapshot.Snapshot

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		currA, err = o.listSide(ctx, snapshot.SideA, prior.A, now)
		return err
	})

	g.Go(func() error {
		var err error
		currB, err = o.listSide(ctx, snapshot.SideB, prior.B, now)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return currA, currB, nil
}

// listStatusInterval is the cadence of in-progress status logs while a side
// is being listed or hashed. Large trees can list for minutes; silence looks
// like a hang.
var listStatusInterval = 10 * time.Second

// listingStatus starts a status logger for one side and returns its stop
// function.
func (o *Orchestrator) listingStatus(side snapshot.Side) func() {
	start := time.Now()
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(listStatusInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				o.logger.Info("still listing", "side", side, "elapsed", time.Since(start).Round(time.Second))
			}
		}
	}()

	return func() { close(done) }
}

// listSide lists one side and applies the path filter. When hashes are
// needed and reuse is on, digests carry over from the prior snapshot for
// records whose size and mtime are unchanged; only the remainder is hashed.
func (o *Orchestrator) listSide(ctx context.Context, side snapshot.Side, prior *snapshot.Snapshot, now time.Time) (*snapshot.Snapshot, error) {
	sc := o.sideConfig(side)
	root := sc.Remote

	stop := o.listingStatus(side)
	defer stop()

	needHashes := o.cfg.NeedsHashes(sc)
	listWithHashes := needHashes && !sc.ReuseHashes

	records, err := o.be.List(ctx, root, listWithHashes)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", side, err)
	}

	kept := records[:0]

	for i := range records {
		if records[i].IsDir || !o.filter.Match(records[i].Path) {
			continue
		}

		kept = append(kept, records[i])
	}

	if needHashes && sc.ReuseHashes {
		if err := o.topUpHashes(ctx, root, kept, prior); err != nil {
			return nil, err
		}
	}

	return snapshot.New(side, now, kept)
}

// topUpHashes reuses prior digests where the record looks untouched and
// fetches the rest, bounded by the worker count.
func (o *Orchestrator) topUpHashes(ctx context.Context, root string, records []snapshot.FileRecord, prior *snapshot.Snapshot) error {
	tol := o.cfg.MtimeTolerance.Std()

	var missing []int

	for i := range records {
		rec := &records[i]

		if prev, ok := prior.Get(rec.Path); ok && len(prev.Hashes) > 0 && mtimeEqual(prev, rec, tol) {
			rec.Hashes = prev.Clone().Hashes
			continue
		}

		missing = append(missing, i)
	}

	if len(missing) == 0 || o.cfg.HashName == "" {
		// Without a pinned algorithm there is no single digest to request
		// per file; such records fall back to the configured hash-fail mode.
		return nil
	}

	o.logger.Debug("hashing changed files", "count", len(missing))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, i := range missing {
		rec := &records[i]

		g.Go(func() error {
			digest, err := o.be.Hash(ctx, backend.Join(root, rec.Path), o.cfg.HashName)
			if err != nil {
				return fmt.Errorf("hashing %s: %w", rec.Path, err)
			}

			if digest != "" {
				rec.Hashes = map[string]string{o.cfg.HashName: digest}
			}

			return nil
		})
	}

	return g.Wait()
}

// buildPlan runs classification, move tracking, conflict resolution, and
// planning.
func (o *Orchestrator) buildPlan(
	prior *snapshot.PriorState,
	currA, currB *snapshot.Snapshot,
	caps map[snapshot.Side]backend.Capabilities,
	opts RunOptions,
	now time.Time,
	stats *RunStats,
) (*Plan, error) {
	cmp := compareOptionsFrom(o.cfg)

	csA := Classify(prior.A, currA, cmp)
	csB := Classify(prior.B, currB, cmp)

	TrackMoves(csA, o.cfg.A.Renames, o.cfg.HashName)
	TrackMoves(csB, o.cfg.B.Renames, o.cfg.HashName)
	ReconcileMoves(csA, csB)

	conflicts := DetectConflicts(csA, csB, cmp)
	stats.AddConflicts(len(conflicts))

	resolutions := make([]*Resolution, 0, len(conflicts))

	for _, c := range conflicts {
		r := Resolve(c, o.cfg.ConflictPolicy, o.cfg.MtimeTolerance.Std(), now)
		resolutions = append(resolutions, r)

		o.logger.Info("conflict", "path", c.Path,
			"a", c.A.Kind.String(), "b", c.B.Kind.String(), "resolution", r.Reason())
	}

	backupCfg := o.cfg
	if opts.NoBackup {
		clone := *o.cfg
		clone.Backup = false
		backupCfg = &clone
	}

	bk := NewBackupper(backupCfg, now, caps[snapshot.SideA], caps[snapshot.SideB])

	return BuildPlan(PlannerInput{
		Cfg:         o.cfg,
		CSA:         csA,
		CSB:         csB,
		CurrA:       currA,
		CurrB:       currB,
		Resolutions: resolutions,
		Backupper:   bk,
		CapsA:       caps[snapshot.SideA],
		CapsB:       caps[snapshot.SideB],
		Now:         now,
	})
}

// commit persists the new prior state. With avoid_relist the planner's
// expected post-run snapshots are trusted; otherwise both sides are listed
// again so out-of-band changes made during the run are captured.
func (o *Orchestrator) commit(ctx context.Context, plan *Plan) error {
	nextA, nextB := plan.NextA, plan.NextB

	if !o.cfg.AvoidRelist {
		relistedA, relistedB, err := o.listBoth(ctx, &snapshot.PriorState{A: nextA, B: nextB}, time.Now())
		if err != nil {
			return fmt.Errorf("relisting for commit: %w", err)
		}

		nextA, nextB = relistedA, relistedB
	}

	if err := o.store.Commit(nextA, nextB); err != nil {
		return err
	}

	o.logger.Debug("state committed", "path", o.store.Path())

	return nil
}

// syncBackups mirrors this run's backups to the opposite side's backup area,
// best effort.
func (o *Orchestrator) syncBackups(ctx context.Context, plan *Plan) {
	if !o.cfg.SyncBackups {
		return
	}

	paths := o.sidePaths()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, side := range []snapshot.Side{snapshot.SideA, snapshot.SideB} {
		other := side.Other()

		for _, a := range plan.Backups[side] {
			src := backend.Join(paths[side].Workdir, a.BackupPath)
			dst := backend.Join(paths[other].Workdir, a.BackupPath)

			g.Go(func() error {
				if _, err := o.be.Copy(ctx, src, dst, backend.CheckSizeOnly); err != nil {
					o.logger.Warn("backup mirror failed", "src", src, "error", err)
				}

				return nil
			})
		}
	}

	_ = g.Wait()
}
