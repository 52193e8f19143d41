package engine

import (
	"path"
	"sort"
	"strings"

	"github.com/duplexsync/duplex/internal/snapshot"
)

// removedAdded derives, from the plan, the file paths that disappear from
// and appear on one side during execution.
func removedAdded(plan *Plan, side snapshot.Side) (removed, added map[string]bool) {
	removed = make(map[string]bool)
	added = make(map[string]bool)

	for _, a := range plan.Backups[side] {
		if !a.BackupByCopy {
			removed[a.Path] = true
		}
	}

	for _, a := range plan.Deletes[side] {
		removed[a.Path] = true
	}

	for _, a := range plan.Renames[side] {
		removed[a.Path] = true
		added[a.DstPath] = true
	}

	for _, wave := range plan.MoveWaves[side] {
		for i := range wave {
			for _, mv := range wave[i].Moves() {
				removed[mv[0]] = true
				added[mv[1]] = true
			}
		}
	}

	for _, a := range plan.Copies[side] {
		added[a.Path] = true
	}

	return removed, added
}

// EmptyDirRoots returns the topmost directories on a side that the plan
// leaves with no files at all. Only directories known from the pre-run
// listing's file paths are considered, so a directory that was already empty
// before the run is never touched: missing a removable directory is
// acceptable, removing a non-empty one is not.
func EmptyDirRoots(curr *snapshot.Snapshot, removed, added map[string]bool) []string {
	// Per-directory file counts over the pre-run tree.
	remaining := make(map[string]int)

	for _, p := range curr.Paths() {
		surviving := !removed[p]

		for d := path.Dir(p); d != "."; d = path.Dir(d) {
			if surviving {
				remaining[d]++
			} else if _, ok := remaining[d]; !ok {
				remaining[d] = 0
			}
		}
	}

	// Anything the plan writes keeps its whole ancestor chain alive.
	for p := range added {
		for d := path.Dir(p); d != "."; d = path.Dir(d) {
			remaining[d]++
		}
	}

	var empty []string

	for d, n := range remaining {
		if n == 0 {
			empty = append(empty, d)
		}
	}

	sort.Strings(empty)

	// Keep only roots: a child of another empty directory is removed by the
	// recursive prune of its parent.
	var roots []string

	for _, d := range empty {
		if len(roots) == 0 || !strings.HasPrefix(d, roots[len(roots)-1]+"/") {
			roots = append(roots, d)
		}
	}

	return roots
}
