package engine

import (
	"time"

	"github.com/duplexsync/duplex/internal/config"
	"github.com/duplexsync/duplex/internal/snapshot"
)

// CompareOptions selects how two records for the same logical file are judged
// equal during classification and cross-side agreement checks.
type CompareOptions struct {
	// Mode is size, mtime, or hash.
	Mode string
	// HashName pins the digest algorithm; empty picks the first algorithm
	// both records carry.
	HashName string
	// Fallback degrades a hash comparison when either record has no usable
	// digest: "size", "mtime", or "" to treat the pair as differing.
	Fallback string
	// Tolerance widens mtime equality. Backends round timestamps
	// differently, so exact comparison misfires.
	Tolerance time.Duration
}

// compareOptionsFrom builds CompareOptions from the loaded config.
func compareOptionsFrom(cfg *config.Config) CompareOptions {
	return CompareOptions{
		Mode:      cfg.Compare,
		HashName:  cfg.HashName,
		Fallback:  cfg.HashFailFallback,
		Tolerance: cfg.MtimeTolerance.Std(),
	}
}

// recordsEqual reports whether two records represent the same content under
// the configured comparison mode. Either argument may be nil, in which case
// they are equal only if both are.
func recordsEqual(a, b *snapshot.FileRecord, opt CompareOptions) bool {
	if a == nil || b == nil {
		return a == b
	}

	switch opt.Mode {
	case config.CompareHash:
		if digA, digB, ok := sharedDigest(a, b, opt.HashName); ok {
			return digA == digB
		}

		// No common algorithm: degrade per config rather than flagging
		// every hashless file modified forever.
		switch opt.Fallback {
		case config.CompareSize:
			return sizeEqual(a, b)
		case config.CompareMtime:
			return mtimeEqual(a, b, opt.Tolerance)
		default:
			return false
		}
	case config.CompareMtime:
		return mtimeEqual(a, b, opt.Tolerance)
	default:
		return sizeEqual(a, b)
	}
}

func sizeEqual(a, b *snapshot.FileRecord) bool {
	return a.Size == b.Size
}

// mtimeEqual requires matching sizes and mtimes within tolerance. Records
// without timestamps fall back to size alone; some backends cannot report
// modification times at all.
func mtimeEqual(a, b *snapshot.FileRecord, tol time.Duration) bool {
	if !sizeEqual(a, b) {
		return false
	}

	if !a.HasModTime() || !b.HasModTime() {
		return true
	}

	d := a.ModTime.Sub(*b.ModTime)
	if d < 0 {
		d = -d
	}

	return d <= tol
}

// sharedDigest returns the digest pair for the preferred algorithm, or the
// first algorithm (in sorted order) both records carry.
func sharedDigest(a, b *snapshot.FileRecord, preferred string) (string, string, bool) {
	if preferred != "" {
		da, db := a.Hash(preferred), b.Hash(preferred)
		if da != "" && db != "" {
			return da, db, true
		}

		return "", "", false
	}

	for _, algo := range a.HashAlgos() {
		if db := b.Hash(algo); db != "" {
			return a.Hash(algo), db, true
		}
	}

	return "", "", false
}

// Classify diffs one side's current listing against its prior snapshot.
// Every path present in either snapshot gets a change entry; move correlation
// runs separately on the result.
func Classify(prior, curr *snapshot.Snapshot, opt CompareOptions) *ChangeSet {
	cs := NewChangeSet(curr.Side())

	for _, path := range curr.Paths() {
		rec, _ := curr.Get(path)

		prev, ok := prior.Get(path)
		if !ok {
			cs.Put(&Change{Path: path, Kind: Created, Curr: rec})
			continue
		}

		kind := Modified
		if recordsEqual(prev, rec, opt) {
			kind = Unchanged
		}

		cs.Put(&Change{Path: path, Kind: kind, Prev: prev, Curr: rec})
	}

	for _, path := range prior.Paths() {
		if !curr.Has(path) {
			prev, _ := prior.Get(path)
			cs.Put(&Change{Path: path, Kind: Deleted, Prev: prev})
		}
	}

	return cs
}
