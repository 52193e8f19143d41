package engine

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/config"
	"github.com/duplexsync/duplex/internal/snapshot"
)

// PlannerInput bundles everything BuildPlan needs: the reconciled change
// sets, current listings, resolved conflicts, and each side's capabilities.
type PlannerInput struct {
	Cfg         *config.Config
	CSA, CSB    *ChangeSet
	CurrA       *snapshot.Snapshot
	CurrB       *snapshot.Snapshot
	Resolutions []*Resolution
	Backupper   *Backupper
	CapsA       backend.Capabilities
	CapsB       backend.Capabilities
	Now         time.Time
}

func (in *PlannerInput) changes(side snapshot.Side) *ChangeSet {
	if side == snapshot.SideA {
		return in.CSA
	}

	return in.CSB
}

func (in *PlannerInput) current(side snapshot.Side) *snapshot.Snapshot {
	if side == snapshot.SideA {
		return in.CurrA
	}

	return in.CurrB
}

func (in *PlannerInput) caps(side snapshot.Side) backend.Capabilities {
	if side == snapshot.SideA {
		return in.CapsA
	}

	return in.CapsB
}

// moveOp is one pending move on a side before batching.
type moveOp struct {
	Src, Dst string
	Size     int64
}

// planner accumulates actions while walking changes and resolutions.
type planner struct {
	in   PlannerInput
	plan *Plan

	moves map[snapshot.Side][]moveOp
	// backedUp dedupes protection: one backup per (side, path) per run.
	backedUp map[snapshot.Side]map[string]bool
}

// BuildPlan turns both sides' changes plus the conflict resolutions into the
// phased action plan, including the expected post-run snapshots.
func BuildPlan(in PlannerInput) (*Plan, error) {
	p := &planner{
		in:   in,
		plan: NewPlan(),
		moves: map[snapshot.Side][]moveOp{
			snapshot.SideA: nil,
			snapshot.SideB: nil,
		},
		backedUp: map[snapshot.Side]map[string]bool{
			snapshot.SideA: {},
			snapshot.SideB: {},
		},
	}

	p.plan.Resolutions = in.Resolutions

	conflicted := make(map[string]bool, len(in.Resolutions))
	for _, r := range in.Resolutions {
		conflicted[r.Conflict.Path] = true
	}

	for _, side := range []snapshot.Side{snapshot.SideA, snapshot.SideB} {
		p.propagateSide(side, conflicted)
	}

	for _, r := range in.Resolutions {
		p.planResolution(r)
	}

	p.batchMoves()

	nextA, err := p.expectedState(snapshot.SideA)
	if err != nil {
		return nil, err
	}

	nextB, err := p.expectedState(snapshot.SideB)
	if err != nil {
		return nil, err
	}

	p.plan.NextA = nextA
	p.plan.NextB = nextB

	return p.plan, nil
}

// propagateSide mirrors one side's one-sided changes onto the other side.
func (p *planner) propagateSide(side snapshot.Side, conflicted map[string]bool) {
	other := side.Other()
	cs := p.in.changes(side)
	otherCS := p.in.changes(other)

	for _, c := range cs.Changed() {
		if conflicted[c.Path] {
			continue
		}

		switch c.Kind {
		case Created, Modified:
			p.planCopy(side, other, c.Curr, c.Path)
		case Deleted:
			p.planDelete(other, c.Path)
		case MovedFrom:
			p.planMirrorMove(side, other, c, otherCS)
		case MovedTo:
			// Covered by the MovedFrom counterpart.
		}
	}
}

// planCopy schedules src's record onto dst at path, protecting any existing
// differing file on dst first.
func (p *planner) planCopy(src, dst snapshot.Side, rec *snapshot.FileRecord, dstPath string) {
	if existing, ok := p.in.current(dst).Get(dstPath); ok {
		p.planBackup(dst, existing)
	}

	p.plan.Copies[dst] = append(p.plan.Copies[dst], Action{
		Kind:    ActionCopy,
		Side:    dst,
		SrcSide: src,
		Path:    dstPath,
		Size:    rec.Size,
		Record:  rec,
	})
}

// planDelete removes path on the given side if it is still present there,
// taking a backup first. A move-mode backup already removes the file, so the
// explicit delete is dropped in that case.
func (p *planner) planDelete(side snapshot.Side, path string) {
	rec, ok := p.in.current(side).Get(path)
	if !ok {
		return
	}

	took := p.planBackup(side, rec)
	if took && !p.in.Backupper.ByCopy(side) {
		return
	}

	p.plan.Deletes[side] = append(p.plan.Deletes[side], Action{
		Kind: ActionDelete,
		Side: side,
		Path: path,
		Size: rec.Size,
	})
}

// planMirrorMove replays a move from one side onto the other.
func (p *planner) planMirrorMove(side, other snapshot.Side, c *Change, otherCS *ChangeSet) {
	// Both sides already performed the identical move.
	if o := otherCS.Get(c.Path); o != nil && o.Kind == MovedFrom && o.MovedToPath == c.MovedToPath {
		return
	}

	dstSnap := p.in.current(other)

	srcRec, hasSrc := dstSnap.Get(c.Path)
	if !hasSrc {
		// The other side never had the origin; the moved file is simply
		// new content there.
		moved := p.in.changes(side).Get(c.MovedToPath)
		if moved != nil && moved.Curr != nil {
			p.planCopy(side, other, moved.Curr, c.MovedToPath)
		}

		return
	}

	if existing, ok := dstSnap.Get(c.MovedToPath); ok {
		p.planBackup(other, existing)
	}

	p.moves[other] = append(p.moves[other], moveOp{
		Src:  c.Path,
		Dst:  c.MovedToPath,
		Size: srcRec.Size,
	})
}

// planBackup schedules at most one backup per (side, path). Returns whether a
// backup action is in the plan for it.
func (p *planner) planBackup(side snapshot.Side, rec *snapshot.FileRecord) bool {
	act, ok := p.in.Backupper.Action(side, rec)
	if !ok {
		return false
	}

	if p.backedUp[side][rec.Path] {
		return true
	}

	p.backedUp[side][rec.Path] = true
	p.plan.Backups[side] = append(p.plan.Backups[side], act)

	return true
}

// planResolution folds one conflict outcome into the plan.
func (p *planner) planResolution(r *Resolution) {
	c := r.Conflict

	if !r.Tagged {
		winner, loser := r.Winner, r.Winner.Other()

		win := changeFor(c, winner)
		if win == nil || win.Curr == nil {
			return
		}

		p.planCopy(winner, loser, win.Curr, c.Path)

		return
	}

	// Tagging: each surviving version is renamed in place, then the tagged
	// file is copied to the other side. The untagged path ends up absent on
	// both sides, which also honors a deletion that conflicted with an edit.
	p.planTagSide(snapshot.SideA, c.A, r.TagA)
	p.planTagSide(snapshot.SideB, c.B, r.TagB)
}

func (p *planner) planTagSide(side snapshot.Side, ch *Change, tag string) {
	if tag == "" || ch == nil || ch.Curr == nil {
		return
	}

	p.plan.Renames[side] = append(p.plan.Renames[side], Action{
		Kind:    ActionRename,
		Side:    side,
		Path:    ch.Path,
		DstPath: tag,
		Size:    ch.Curr.Size,
	})

	tagged := ch.Curr.Clone()
	tagged.Path = tag

	p.plan.Copies[side.Other()] = append(p.plan.Copies[side.Other()], Action{
		Kind:    ActionCopy,
		Side:    side.Other(),
		SrcSide: side,
		Path:    tag,
		Size:    tagged.Size,
		Record:  tagged,
	})
}

func changeFor(c *Conflict, side snapshot.Side) *Change {
	if side == snapshot.SideA {
		return c.A
	}

	return c.B
}

// batchMoves partitions each side's moves into overlap-safe waves and groups
// moves sharing a directory rename into single batches.
func (p *planner) batchMoves() {
	for side, ops := range p.moves {
		if len(ops) == 0 {
			continue
		}

		sort.Slice(ops, func(i, j int) bool { return ops[i].Src < ops[j].Src })

		waves := waveMoves(ops, p.in.caps(side).OverlappingMoves)

		batched := make([][]MoveBatch, 0, len(waves))
		for _, wave := range waves {
			batched = append(batched, groupMoves(wave))
		}

		p.plan.MoveWaves[side] = batched
	}
}

// waveMoves orders moves so no move lands on a path another pending move
// still occupies. With overlapping-move support everything goes in one wave.
// A pure swap cycle is broken by routing one member through a temporary name.
func waveMoves(ops []moveOp, overlapOK bool) [][]moveOp {
	if overlapOK {
		return [][]moveOp{ops}
	}

	pending := append([]moveOp(nil), ops...)

	var waves [][]moveOp

	for len(pending) > 0 {
		srcs := make(map[string]bool, len(pending))
		for _, m := range pending {
			srcs[m.Src] = true
		}

		var ready, blocked []moveOp

		for _, m := range pending {
			if srcs[m.Dst] {
				blocked = append(blocked, m)
			} else {
				ready = append(ready, m)
			}
		}

		if len(ready) == 0 {
			// Every pending move targets another's source: a cycle.
			// Detour the first through a temporary path.
			m := blocked[0]
			tmp := m.Src + ".duplexmv"

			ready = append(ready, moveOp{Src: m.Src, Dst: tmp, Size: m.Size})
			blocked[0] = moveOp{Src: tmp, Dst: m.Dst, Size: m.Size}
		}

		waves = append(waves, ready)
		pending = blocked
	}

	return waves
}

// groupMoves merges moves that share the same source and destination parent
// directories into one batch, so a renamed directory becomes a single backend
// call instead of one per file.
func groupMoves(ops []moveOp) []MoveBatch {
	type dirKey struct{ src, dst string }

	groups := make(map[dirKey][]string)
	var order []dirKey
	var singles []moveOp

	for _, m := range ops {
		srcDir, srcBase := path.Split(m.Src)
		dstDir, dstBase := path.Split(m.Dst)

		if srcBase != dstBase || srcDir == dstDir {
			singles = append(singles, m)
			continue
		}

		k := dirKey{src: strings.TrimSuffix(srcDir, "/"), dst: strings.TrimSuffix(dstDir, "/")}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}

		groups[k] = append(groups[k], srcBase)
	}

	var out []MoveBatch

	for _, k := range order {
		rels := groups[k]
		sort.Strings(rels)
		out = append(out, MoveBatch{SrcDir: k.src, DstDir: k.dst, Rels: rels})
	}

	for _, m := range singles {
		out = append(out, MoveBatch{SrcDir: m.Src, DstDir: m.Dst})
	}

	return out
}

// expectedState applies the plan to a side's current snapshot, producing the
// listing the side should show after a fully successful run.
func (p *planner) expectedState(side snapshot.Side) (*snapshot.Snapshot, error) {
	byPath := make(map[string]*snapshot.FileRecord)
	for _, rec := range p.in.current(side).Records() {
		byPath[rec.Path] = rec.Clone()
	}

	for _, a := range p.plan.Backups[side] {
		if !a.BackupByCopy {
			delete(byPath, a.Path)
		}
	}

	for _, a := range p.plan.Renames[side] {
		if rec, ok := byPath[a.Path]; ok {
			delete(byPath, a.Path)
			rec.Path = a.DstPath
			byPath[a.DstPath] = rec
		}
	}

	for _, a := range p.plan.Deletes[side] {
		delete(byPath, a.Path)
	}

	for _, wave := range p.plan.MoveWaves[side] {
		for i := range wave {
			for _, mv := range wave[i].Moves() {
				if rec, ok := byPath[mv[0]]; ok {
					delete(byPath, mv[0])
					rec.Path = mv[1]
					byPath[mv[1]] = rec
				}
			}
		}
	}

	for _, a := range p.plan.Copies[side] {
		rec := a.Record.Clone()
		rec.Path = a.Path
		byPath[a.Path] = rec
	}

	records := make([]snapshot.FileRecord, 0, len(byPath))
	for _, rec := range byPath {
		records = append(records, *rec)
	}

	next, err := snapshot.New(side, p.in.Now, records)
	if err != nil {
		return nil, fmt.Errorf("computing expected state for %s: %w", side, err)
	}

	return next, nil
}
