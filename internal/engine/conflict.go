package engine

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/duplexsync/duplex/internal/config"
	"github.com/duplexsync/duplex/internal/snapshot"
)

// Conflict is a path changed on both sides in incompatible ways.
type Conflict struct {
	Path string
	A    *Change
	B    *Change
}

// Resolution is the decided outcome for one conflict.
type Resolution struct {
	Conflict *Conflict

	// Winner is set when one side's version prevails at the original path.
	Winner snapshot.Side
	// Tagged means the surviving versions keep coexisting under tagged
	// names instead of one overwriting the other.
	Tagged bool
	// TagA and TagB are the tagged paths for each side's surviving version;
	// empty when that side has no version (deleted).
	TagA string
	TagB string
}

// Reason summarizes the resolution for logs and previews.
func (r *Resolution) Reason() string {
	if r.Tagged {
		return "tagged both versions"
	}

	return fmt.Sprintf("side %s wins", r.Winner)
}

// DetectConflicts walks both change sets after move reconciliation and
// returns the paths changed incompatibly on both sides. Changes that agree
// (both deleted, or both arriving at equal content) are neutralized to
// Unchanged in place since they need no propagation.
func DetectConflicts(csA, csB *ChangeSet, opt CompareOptions) []*Conflict {
	var conflicts []*Conflict

	for _, p := range csA.Paths() {
		a := csA.Get(p)
		if !conflictable(a.Kind) {
			continue
		}

		b := csB.Get(p)
		if b == nil || !conflictable(b.Kind) {
			continue
		}

		if a.Kind == Deleted && b.Kind == Deleted {
			a.Kind = Unchanged
			b.Kind = Unchanged

			continue
		}

		// Both sides converged on the same content independently.
		if a.Curr != nil && b.Curr != nil && recordsEqual(a.Curr, b.Curr, opt) {
			a.Kind = Unchanged
			b.Kind = Unchanged

			continue
		}

		conflicts = append(conflicts, &Conflict{Path: p, A: a, B: b})
	}

	return conflicts
}

// conflictable reports whether a change kind can participate in a two-sided
// conflict at its own path. Moves were already reconciled; survivors act on
// untouched paths.
func conflictable(k ChangeKind) bool {
	return k == Created || k == Modified || k == Deleted
}

// Resolve applies the configured conflict policy. Resolution never discards
// content: under side-wins policies the loser is preserved through the backup
// phase, and under tagging both versions survive under distinct names.
func Resolve(c *Conflict, policy string, tol time.Duration, now time.Time) *Resolution {
	res := &Resolution{Conflict: c}

	switch policy {
	case config.ConflictNewer, config.ConflictNewerTag:
		if winner, ok := newerSide(c, tol); ok {
			res.Winner = winner
			return res
		}

		if policy == config.ConflictNewer {
			// Times equal or unusable: deterministic tie-break. The
			// losing version still lands in backups.
			res.Winner = snapshot.SideA
			return res
		}

		fallthrough
	default:
		res.Tagged = true

		if c.A.Curr != nil {
			res.TagA = tagName(c.Path, now, snapshot.SideA)
		}

		if c.B.Curr != nil {
			res.TagB = tagName(c.Path, now, snapshot.SideB)
		}
	}

	return res
}

// newerSide picks the side with the strictly later modification time. A
// deletion never outranks a surviving file, and timestamps within tolerance
// of each other are treated as equal.
func newerSide(c *Conflict, tol time.Duration) (snapshot.Side, bool) {
	switch {
	case c.A.Curr == nil:
		return snapshot.SideB, true
	case c.B.Curr == nil:
		return snapshot.SideA, true
	}

	if !c.A.Curr.HasModTime() || !c.B.Curr.HasModTime() {
		return "", false
	}

	d := c.A.Curr.ModTime.Sub(*c.B.Curr.ModTime)
	switch {
	case d > tol:
		return snapshot.SideA, true
	case d < -tol:
		return snapshot.SideB, true
	default:
		return "", false
	}
}

// tagTimeFormat is the timestamp embedded in tagged filenames.
const tagTimeFormat = "20060102T150405"

// tagName builds the tagged filename for a conflict survivor:
// docs/plan.txt -> docs/plan.20240301T101500.A.txt
func tagName(p string, now time.Time, side snapshot.Side) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	return dir + stem + "." + now.UTC().Format(tagTimeFormat) + "." + string(side) + ext
}
