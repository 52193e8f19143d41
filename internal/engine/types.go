// Package engine implements the synchronization decision core: snapshot
// comparison against the persisted prior state, move correlation, conflict
// classification and resolution, action planning, and concurrent verified
// execution of the resulting plan.
package engine

import (
	"sort"

	"github.com/duplexsync/duplex/internal/snapshot"
)

// ChangeKind labels what happened to a path on one side since the prior state.
type ChangeKind int

const (
	// Unchanged: present in prior and current with equal content.
	Unchanged ChangeKind = iota
	// Created: present only in current.
	Created
	// Modified: present in both with differing content.
	Modified
	// Deleted: present only in prior.
	Deleted
	// MovedFrom: the prior path of a correlated move; MovedTo holds the
	// destination.
	MovedFrom
	// MovedTo: the current path of a correlated move; MovedFromPath holds
	// the origin.
	MovedTo
)

func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Created:
		return "new"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case MovedFrom:
		return "moved-from"
	case MovedTo:
		return "moved-to"
	default:
		return "unknown"
	}
}

// Change is one path's classification on one side.
type Change struct {
	Path string
	Kind ChangeKind

	// Prev is the prior-state record (nil for Created/MovedTo).
	Prev *snapshot.FileRecord
	// Curr is the current record (nil for Deleted/MovedFrom).
	Curr *snapshot.FileRecord

	// MovedToPath is set on MovedFrom changes; MovedFromPath on MovedTo.
	MovedToPath   string
	MovedFromPath string
}

// Changed reports whether this change requires any propagation.
func (c *Change) Changed() bool {
	return c != nil && c.Kind != Unchanged
}

// ChangeSet holds one side's classified changes, indexed by path.
type ChangeSet struct {
	Side   snapshot.Side
	byPath map[string]*Change
}

// NewChangeSet creates an empty change set for a side.
func NewChangeSet(side snapshot.Side) *ChangeSet {
	return &ChangeSet{Side: side, byPath: make(map[string]*Change)}
}

// Get returns the change for path, or nil when the path never appeared on
// this side (absent in both prior and current).
func (cs *ChangeSet) Get(path string) *Change {
	return cs.byPath[path]
}

// Put inserts or replaces a change.
func (cs *ChangeSet) Put(c *Change) {
	cs.byPath[c.Path] = c
}

// Paths returns all classified paths in sorted order.
func (cs *ChangeSet) Paths() []string {
	paths := make([]string, 0, len(cs.byPath))
	for p := range cs.byPath {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

// Changed returns the changes that require propagation, in sorted path order.
func (cs *ChangeSet) Changed() []*Change {
	var out []*Change

	for _, p := range cs.Paths() {
		if c := cs.byPath[p]; c.Kind != Unchanged {
			out = append(out, c)
		}
	}

	return out
}

// Len returns the number of classified paths.
func (cs *ChangeSet) Len() int { return len(cs.byPath) }

// ActionKind is the kind of a single planned operation.
type ActionKind int

const (
	// ActionCopy propagates SrcSide's file at Path onto DstSide.
	ActionCopy ActionKind = iota
	// ActionDelete removes Path on Side.
	ActionDelete
	// ActionBackup preserves Side's file at Path under BackupPath before an
	// overwrite or delete.
	ActionBackup
	// ActionRename renames Path to DstPath on Side (tag renames).
	ActionRename
	// ActionRmdir removes the directory at Path on Side if empty.
	ActionRmdir
)

func (k ActionKind) String() string {
	switch k {
	case ActionCopy:
		return "copy"
	case ActionDelete:
		return "delete"
	case ActionBackup:
		return "backup"
	case ActionRename:
		return "rename"
	case ActionRmdir:
		return "rmdir"
	default:
		return "unknown"
	}
}

// Action is one planned operation against one side.
type Action struct {
	Kind ActionKind

	// Side is the side acted upon. For copies this is the destination.
	Side snapshot.Side
	// SrcSide is the source side for copies.
	SrcSide snapshot.Side

	Path    string
	DstPath string // renames
	// BackupPath is the workdir-relative destination for backups.
	BackupPath string
	// BackupByCopy selects copy-mode backup; false means move-mode.
	BackupByCopy bool

	// Size is the size of the file being acted on, for stats and progress.
	Size int64
	// Record is the source record for copies (the content being propagated).
	Record *snapshot.FileRecord
}

// MoveBatch is a group of moves sharing a common relative layout, applied as
// one backend call. A batch with no Rels is a single whole-path move from
// SrcDir to DstDir.
type MoveBatch struct {
	SrcDir string
	DstDir string
	Rels   []string
}

// Moves returns the individual (src, dst) pairs the batch performs.
func (mb *MoveBatch) Moves() [][2]string {
	if len(mb.Rels) == 0 {
		return [][2]string{{mb.SrcDir, mb.DstDir}}
	}

	out := make([][2]string, 0, len(mb.Rels))
	for _, rel := range mb.Rels {
		out = append(out, [2]string{joinRel(mb.SrcDir, rel), joinRel(mb.DstDir, rel)})
	}

	return out
}

func joinRel(dir, rel string) string {
	if dir == "" {
		return rel
	}

	return dir + "/" + rel
}

// Plan is the complete ordered action list for one run. Phases execute with
// barriers between them: backups and tag renames precede the deletions and
// overwrites they protect, and deletions precede moves into freed paths.
// Within a phase, actions are independent and run unordered on the pool.
type Plan struct {
	Backups map[snapshot.Side][]Action
	Renames map[snapshot.Side][]Action
	Deletes map[snapshot.Side][]Action
	// MoveWaves are sequential waves per side; batches within a wave are
	// independent under the path-overlap constraint.
	MoveWaves map[snapshot.Side][][]MoveBatch
	// Copies is keyed by destination side.
	Copies map[snapshot.Side][]Action

	// NextA and NextB are the expected post-run snapshots, committed as the
	// new prior state when execution fully succeeds (or replaced by fresh
	// listings when relisting is enabled).
	NextA *snapshot.Snapshot
	NextB *snapshot.Snapshot

	// Resolutions are the conflict outcomes folded into this plan.
	Resolutions []*Resolution
}

// NewPlan returns an empty plan.
func NewPlan() *Plan {
	return &Plan{
		Backups:   make(map[snapshot.Side][]Action),
		Renames:   make(map[snapshot.Side][]Action),
		Deletes:   make(map[snapshot.Side][]Action),
		MoveWaves: make(map[snapshot.Side][][]MoveBatch),
		Copies:    make(map[snapshot.Side][]Action),
	}
}

// TotalActions counts every planned operation including individual moves.
func (p *Plan) TotalActions() int {
	n := 0

	for _, side := range []snapshot.Side{snapshot.SideA, snapshot.SideB} {
		n += len(p.Backups[side]) + len(p.Renames[side]) + len(p.Deletes[side]) + len(p.Copies[side])

		for _, wave := range p.MoveWaves[side] {
			for i := range wave {
				n += len(wave[i].Moves())
			}
		}
	}

	return n
}

// Empty reports whether the plan contains no operations.
func (p *Plan) Empty() bool { return p.TotalActions() == 0 }
