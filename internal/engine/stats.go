package engine

import (
	"fmt"
	"sync"

	"github.com/duplexsync/duplex/internal/snapshot"
)

// ItemError records one failed action. Item failures never abort the run;
// they are collected here and surfaced in the final result.
type ItemError struct {
	Side snapshot.Side
	Op   string
	Path string
	Err  error
}

func (e ItemError) String() string {
	return fmt.Sprintf("%s %s %s: %v", e.Side, e.Op, e.Path, e.Err)
}

// RunStats is the shared counter set for one run. All workers write through
// it; the mutex keeps the whole update for one action atomic.
type RunStats struct {
	mu sync.Mutex

	copied      int
	moved       int
	deleted     int
	backedUp    int
	renamed     int
	dirsRemoved int
	conflicts   int
	retransfers int
	bytesCopied int64
	errors      []ItemError
}

// StatsView is an immutable copy of the counters at a point in time.
type StatsView struct {
	Copied      int
	Moved       int
	Deleted     int
	BackedUp    int
	Renamed     int
	DirsRemoved int
	Conflicts   int
	Retransfers int
	BytesCopied int64
	Errors      []ItemError
}

func (s *RunStats) AddCopied(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copied++
	s.bytesCopied += bytes
}

func (s *RunStats) AddMoved(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moved += n
}

func (s *RunStats) AddDeleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted++
}

func (s *RunStats) AddBackedUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backedUp++
}

func (s *RunStats) AddRenamed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renamed++
}

func (s *RunStats) AddDirsRemoved(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirsRemoved += n
}

func (s *RunStats) AddConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts += n
}

func (s *RunStats) AddRetransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retransfers++
}

func (s *RunStats) AddError(side snapshot.Side, op, path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, ItemError{Side: side, Op: op, Path: path, Err: err})
}

// ErrorCount returns the number of item failures so far.
func (s *RunStats) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.errors)
}

// View snapshots the counters.
func (s *RunStats) View() StatsView {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatsView{
		Copied:      s.copied,
		Moved:       s.moved,
		Deleted:     s.deleted,
		BackedUp:    s.backedUp,
		Renamed:     s.renamed,
		DirsRemoved: s.dirsRemoved,
		Conflicts:   s.conflicts,
		Retransfers: s.retransfers,
		BytesCopied: s.bytesCopied,
		Errors:      append([]ItemError(nil), s.errors...),
	}
}
