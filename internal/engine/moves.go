package engine

import (
	"fmt"
	"time"

	"github.com/duplexsync/duplex/internal/config"
	"github.com/duplexsync/duplex/internal/snapshot"
)

// fingerprint identifies a file's content for move correlation. The kind tag
// keeps hash-derived and attribute-derived fingerprints from ever colliding.
type fingerprint struct {
	kind  string
	value string
}

// fingerprintFor derives a move-tracking fingerprint under the side's renames
// mode. ok is false when the record lacks the needed attribute, which simply
// removes it from move consideration.
func fingerprintFor(rec *snapshot.FileRecord, mode, hashName string) (fingerprint, bool) {
	switch mode {
	case config.CompareHash:
		algo := hashName
		if algo == "" {
			algos := rec.HashAlgos()
			if len(algos) == 0 {
				return fingerprint{}, false
			}

			algo = algos[0]
		}

		dig := rec.Hash(algo)
		if dig == "" {
			return fingerprint{}, false
		}

		return fingerprint{kind: "hash", value: algo + ":" + dig}, true
	case config.CompareMtime:
		if !rec.HasModTime() {
			return fingerprint{}, false
		}

		// Second precision: move detection must survive backends that
		// round sub-second timestamps on rewrite.
		return fingerprint{
			kind:  "sizetime",
			value: fmt.Sprintf("%d:%d", rec.Size, rec.ModTime.Truncate(time.Second).Unix()),
		}, true
	case config.CompareSize:
		return fingerprint{kind: "size", value: fmt.Sprintf("%d", rec.Size)}, true
	default:
		return fingerprint{}, false
	}
}

// TrackMoves correlates deletions with creations on one side and rewrites
// unique pairs as MovedFrom/MovedTo. A fingerprint shared by more than one
// deletion or more than one creation is ambiguous and left untouched; an
// ambiguous pair degrades to delete plus copy, which is always safe.
func TrackMoves(cs *ChangeSet, mode, hashName string) {
	if mode == "" {
		return
	}

	deletedBy := make(map[fingerprint][]*Change)
	createdBy := make(map[fingerprint][]*Change)

	for _, p := range cs.Paths() {
		c := cs.Get(p)

		switch c.Kind {
		case Deleted:
			if fp, ok := fingerprintFor(c.Prev, mode, hashName); ok {
				deletedBy[fp] = append(deletedBy[fp], c)
			}
		case Created:
			if fp, ok := fingerprintFor(c.Curr, mode, hashName); ok {
				createdBy[fp] = append(createdBy[fp], c)
			}
		}
	}

	for fp, dels := range deletedBy {
		news := createdBy[fp]
		if len(dels) != 1 || len(news) != 1 {
			continue
		}

		from, to := dels[0], news[0]

		from.Kind = MovedFrom
		from.MovedToPath = to.Path
		to.Kind = MovedTo
		to.MovedFromPath = from.Path
	}
}

// ReconcileMoves cross-checks each side's moves against the other side's
// state at the same paths. A move survives only when the other side is
// untouched at both origin and destination (or performed the identical
// move); anything else demotes the move back to delete plus create so the
// ordinary change and conflict rules apply. Demotion never loses data.
func ReconcileMoves(csA, csB *ChangeSet) {
	reconcileSide(csA, csB)
	reconcileSide(csB, csA)
}

func reconcileSide(cs, other *ChangeSet) {
	for _, p := range cs.Paths() {
		c := cs.Get(p)
		if c.Kind != MovedFrom {
			continue
		}

		o := other.Get(p)

		// The identical move on both sides needs no propagation at all.
		if o != nil && o.Kind == MovedFrom && o.MovedToPath == c.MovedToPath {
			continue
		}

		if o != nil && o.Kind != Unchanged {
			demoteMove(cs, c)
			continue
		}

		// A changed file already at the destination on the other side
		// would be silently overwritten by mirroring the move.
		if od := other.Get(c.MovedToPath); od != nil && od.Kind != Unchanged && od.Kind != Deleted {
			demoteMove(cs, c)
		}
	}
}

func demoteMove(cs *ChangeSet, from *Change) {
	to := cs.Get(from.MovedToPath)

	from.Kind = Deleted
	from.MovedToPath = ""

	if to != nil {
		to.Kind = Created
		to.MovedFromPath = ""
	}
}
