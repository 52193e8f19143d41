package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/config"
)

// ErrLockContention means another run holds the pair. The caller fails fast;
// there is no waiting or retrying, since a concurrent run invalidates every
// listing already taken.
var ErrLockContention = errors.New("another sync run holds the lock")

// RunLock combines a local advisory flock with marker files on each side's
// workdir. The local lock stops concurrent runs on the same machine; the
// remote markers stop runs from different machines against the same remotes.
type RunLock struct {
	enabled bool
	name    string
	runID   string
	local   *flock.Flock
	be      backend.Transferer
	markers []string
	logger  *slog.Logger

	held bool
}

// lockMarkers returns the remote marker paths for a config.
func lockMarkers(cfg *config.Config) []string {
	rel := "LOCK/LOCK_" + cfg.Name

	return []string{
		backend.Join(cfg.A.Workdir, rel),
		backend.Join(cfg.B.Workdir, rel),
	}
}

// NewRunLock builds the lock for one run. runID ties the markers to this run
// for diagnostics.
func NewRunLock(cfg *config.Config, be backend.Transferer, runID string, logger *slog.Logger) *RunLock {
	return &RunLock{
		enabled: cfg.Lock,
		name:    cfg.Name,
		runID:   runID,
		local:   flock.New(filepath.Join(cfg.StateDir, cfg.Name+".lock")),
		be:      be,
		markers: lockMarkers(cfg),
		logger:  logger,
	}
}

// Acquire takes the local lock and plants the remote markers. Any contention
// releases whatever was taken and returns ErrLockContention.
func (l *RunLock) Acquire(ctx context.Context) error {
	if !l.enabled {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.local.Path()), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	ok, err := l.local.TryLock()
	if err != nil {
		return fmt.Errorf("taking local lock %s: %w", l.local.Path(), err)
	}

	if !ok {
		return fmt.Errorf("local lock %s: %w", l.local.Path(), ErrLockContention)
	}

	for _, marker := range l.markers {
		rec, err := l.be.Stat(ctx, marker)
		if err != nil {
			l.unlockLocal()
			return fmt.Errorf("checking lock marker %s: %w", marker, err)
		}

		if rec != nil {
			l.unlockLocal()
			return fmt.Errorf("lock marker %s exists (break-lock clears a stale one): %w", marker, ErrLockContention)
		}
	}

	if err := l.plantMarkers(ctx); err != nil {
		l.unlockLocal()
		return err
	}

	l.held = true

	return nil
}

func (l *RunLock) plantMarkers(ctx context.Context) error {
	tmp, err := os.CreateTemp("", "duplex-lock-*")
	if err != nil {
		return fmt.Errorf("writing lock payload: %w", err)
	}
	defer os.Remove(tmp.Name())

	fmt.Fprintf(tmp, "run %s at %s\n", l.runID, time.Now().UTC().Format(time.RFC3339))
	tmp.Close()

	for _, marker := range l.markers {
		if _, err := l.be.Copy(ctx, tmp.Name(), marker, backend.CheckSizeOnly); err != nil {
			return fmt.Errorf("planting lock marker %s: %w", marker, err)
		}
	}

	return nil
}

// Release clears the remote markers and drops the local lock. Marker removal
// failures are logged, not returned: the run's outcome is already decided.
func (l *RunLock) Release(ctx context.Context) {
	if !l.enabled || !l.held {
		return
	}

	for _, marker := range l.markers {
		if err := l.be.Delete(ctx, marker); err != nil {
			l.logger.Warn("could not remove lock marker", "marker", marker, "error", err)
		}
	}

	l.unlockLocal()
	l.held = false
}

func (l *RunLock) unlockLocal() {
	if err := l.local.Unlock(); err != nil {
		l.logger.Warn("could not release local lock", "path", l.local.Path(), "error", err)
	}
}

// BreakLocks force-removes the remote markers left behind by a run that died
// without releasing. The local flock needs no breaking; it dies with its
// process.
func BreakLocks(ctx context.Context, cfg *config.Config, be backend.Transferer, logger *slog.Logger) error {
	for _, marker := range lockMarkers(cfg) {
		rec, err := be.Stat(ctx, marker)
		if err != nil {
			return fmt.Errorf("checking lock marker %s: %w", marker, err)
		}

		if rec == nil {
			logger.Info("no lock marker", "marker", marker)
			continue
		}

		if err := be.Delete(ctx, marker); err != nil {
			return fmt.Errorf("removing lock marker %s: %w", marker, err)
		}

		logger.Info("removed lock marker", "marker", marker)
	}

	return nil
}
