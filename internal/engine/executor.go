package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/sync/errgroup"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/snapshot"
)

// SidePaths holds the backend locations for one side.
type SidePaths struct {
	// Root is the synced tree.
	Root string
	// Workdir holds backups and lock markers, outside the synced listing.
	Workdir string
}

// Executor runs a plan against the backend with a bounded worker pool.
// Phases execute with barriers between them; item failures are recorded and
// isolated, never aborting the run. Only context cancellation stops early.
type Executor struct {
	be      backend.Transferer
	paths   map[snapshot.Side]SidePaths
	caps    map[snapshot.Side]backend.Capabilities
	workers int
	compare CompareOptions
	stats   *RunStats
	logger  *slog.Logger

	// ShowProgress draws a terminal progress bar across all actions.
	ShowProgress bool

	bar *pb.ProgressBar
}

// NewExecutor wires an executor. Workers bounds in-flight backend operations.
func NewExecutor(
	be backend.Transferer,
	paths map[snapshot.Side]SidePaths,
	caps map[snapshot.Side]backend.Capabilities,
	workers int,
	compare CompareOptions,
	stats *RunStats,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		be:      be,
		paths:   paths,
		caps:    caps,
		workers: workers,
		compare: compare,
		stats:   stats,
		logger:  logger,
	}
}

func (e *Executor) root(side snapshot.Side) string    { return e.paths[side].Root }
func (e *Executor) workdir(side snapshot.Side) string { return e.paths[side].Workdir }

// Execute runs all phases of the plan. currA and currB are the pre-run
// listings, needed for the empty-directory pass. The returned error is only
// ever a context error; item failures land in the stats.
func (e *Executor) Execute(ctx context.Context, plan *Plan, currA, currB *snapshot.Snapshot) error {
	if e.ShowProgress {
		e.bar = pb.StartNew(plan.TotalActions())
		defer e.bar.Finish()
	}

	phases := []struct {
		name string
		run  func(context.Context, *Plan) error
	}{
		{"backup", e.runBackups},
		{"rename", e.runRenames},
		{"delete", e.runDeletes},
		{"move", e.runMoves},
		{"copy", e.runCopies},
	}

	for _, ph := range phases {
		e.logger.Debug("phase start", "phase", ph.name)

		if err := ph.run(ctx, plan); err != nil {
			return err
		}
	}

	return e.runRmdirs(ctx, plan, currA, currB)
}

// tick advances the progress bar if one is active.
func (e *Executor) tick(n int) {
	if e.bar != nil {
		e.bar.Add(n)
	}
}

// forEach runs fn over the actions on the worker pool. fn errors are
// recorded as item failures; only context cancellation propagates.
func (e *Executor) forEach(ctx context.Context, actions []Action, fn func(context.Context, Action) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, a := range actions {
		a := a

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := fn(ctx, a); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				e.logger.Warn("action failed", "op", a.Kind.String(), "side", a.Side, "path", a.Path, "error", err)
				e.stats.AddError(a.Side, a.Kind.String(), a.Path, err)
			}

			e.tick(1)

			return nil
		})
	}

	return g.Wait()
}

func bothSides(m map[snapshot.Side][]Action) []Action {
	return append(append([]Action(nil), m[snapshot.SideA]...), m[snapshot.SideB]...)
}

func (e *Executor) runBackups(ctx context.Context, plan *Plan) error {
	return e.forEach(ctx, bothSides(plan.Backups), func(ctx context.Context, a Action) error {
		src := backend.Join(e.root(a.Side), a.Path)
		dst := backend.Join(e.workdir(a.Side), a.BackupPath)

		if a.BackupByCopy {
			if _, err := e.be.Copy(ctx, src, dst, backend.CheckSizeOnly); err != nil {
				return err
			}
		} else if err := e.be.Move(ctx, src, dst); err != nil {
			return err
		}

		e.stats.AddBackedUp()

		return nil
	})
}

func (e *Executor) runRenames(ctx context.Context, plan *Plan) error {
	return e.forEach(ctx, bothSides(plan.Renames), func(ctx context.Context, a Action) error {
		err := e.be.Move(ctx, backend.Join(e.root(a.Side), a.Path), backend.Join(e.root(a.Side), a.DstPath))
		if err != nil {
			return err
		}

		e.stats.AddRenamed()

		return nil
	})
}

func (e *Executor) runDeletes(ctx context.Context, plan *Plan) error {
	return e.forEach(ctx, bothSides(plan.Deletes), func(ctx context.Context, a Action) error {
		if err := e.be.Delete(ctx, backend.Join(e.root(a.Side), a.Path)); err != nil {
			return err
		}

		e.stats.AddDeleted()

		return nil
	})
}

// runMoves executes both sides' waves concurrently; waves within a side stay
// strictly ordered since a later wave may reuse a path freed by an earlier
// one.
func (e *Executor) runMoves(ctx context.Context, plan *Plan) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, side := range []snapshot.Side{snapshot.SideA, snapshot.SideB} {
		side := side

		g.Go(func() error {
			for _, wave := range plan.MoveWaves[side] {
				if err := e.runMoveWave(ctx, side, wave); err != nil {
					return err
				}
			}

			return nil
		})
	}

	return g.Wait()
}

func (e *Executor) runMoveWave(ctx context.Context, side snapshot.Side, wave []MoveBatch) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range wave {
		mb := wave[i]

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := e.runMoveBatch(ctx, side, mb)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				e.logger.Warn("move failed", "side", side, "src", mb.SrcDir, "dst", mb.DstDir, "error", err)
				e.stats.AddError(side, "move", mb.SrcDir, err)
			}

			e.tick(len(mb.Moves()))

			return nil
		})
	}

	return g.Wait()
}

func (e *Executor) runMoveBatch(ctx context.Context, side snapshot.Side, mb MoveBatch) error {
	root := e.root(side)

	if len(mb.Rels) == 0 {
		if err := e.be.Move(ctx, backend.Join(root, mb.SrcDir), backend.Join(root, mb.DstDir)); err != nil {
			return err
		}

		e.stats.AddMoved(1)

		return nil
	}

	err := e.be.MoveBatch(ctx, backend.Join(root, mb.SrcDir), backend.Join(root, mb.DstDir), mb.Rels)
	if err != nil {
		return err
	}

	e.stats.AddMoved(len(mb.Rels))

	return nil
}

// runCopies is the two-pass transfer: pass one moves bytes cheaply with
// size-only checking, pass two verifies each destination under the
// configured comparison and re-transfers once with strict checking on
// mismatch. A second mismatch is terminal for that item.
func (e *Executor) runCopies(ctx context.Context, plan *Plan) error {
	all := bothSides(plan.Copies)

	var (
		mu     sync.Mutex
		passed []Action
	)

	err := e.forEachNoTick(ctx, all, func(ctx context.Context, a Action) error {
		n, err := e.be.Copy(ctx, e.copySrc(a), e.copyDst(a), backend.CheckSizeOnly)
		if err != nil {
			e.tick(1)
			return err
		}

		e.stats.AddCopied(n)

		mu.Lock()
		passed = append(passed, a)
		mu.Unlock()

		return nil
	})
	if err != nil {
		return err
	}

	return e.forEachNoTick(ctx, passed, func(ctx context.Context, a Action) error {
		defer e.tick(1)
		return e.verifyAndRepair(ctx, a)
	})
}

func (e *Executor) copySrc(a Action) string {
	return backend.Join(e.root(a.SrcSide), a.Record.Path)
}

func (e *Executor) copyDst(a Action) string {
	return backend.Join(e.root(a.Side), a.Path)
}

// forEachNoTick is forEach without automatic progress ticking, for phases
// that account progress themselves.
func (e *Executor) forEachNoTick(ctx context.Context, actions []Action, fn func(context.Context, Action) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, a := range actions {
		a := a

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := fn(ctx, a); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				e.logger.Warn("copy failed", "side", a.Side, "path", a.Path, "error", err)
				e.stats.AddError(a.Side, "copy", a.Path, err)
			}

			return nil
		})
	}

	return g.Wait()
}

// runRmdirs prunes directories left empty by the plan, per side, only on
// remotes that can hold empty directories at all.
func (e *Executor) runRmdirs(ctx context.Context, plan *Plan, currA, currB *snapshot.Snapshot) error {
	for side, curr := range map[snapshot.Side]*snapshot.Snapshot{snapshot.SideA: currA, snapshot.SideB: currB} {
		if !e.caps[side].EmptyDirs {
			continue
		}

		removed, added := removedAdded(plan, side)

		for _, dir := range EmptyDirRoots(curr, removed, added) {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := e.be.Rmdirs(ctx, backend.Join(e.root(side), dir)); err != nil {
				// Directory cleanup is best effort.
				e.logger.Debug("rmdir failed", "side", side, "dir", dir, "error", err)
				continue
			}

			e.stats.AddDirsRemoved(1)
		}
	}

	return nil
}
