// Package snapshot defines point-in-time file listings of a sync side and the
// persisted prior-state archive they are committed to after a successful run.
// A Snapshot is immutable once built and indexed by path for O(1) lookup.
package snapshot

import (
	"sort"
	"time"
)

// Side identifies one of the two storage locations being synchronized.
type Side string

// The two sides of a sync pair.
const (
	SideA Side = "A"
	SideB Side = "B"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}

	return SideA
}

// FileRecord is the engine's view of a single file as reported by the
// transfer backend: path, size, optional modification time, and zero or more
// content hashes keyed by normalized algorithm name.
type FileRecord struct {
	Path    string            `json:"path"`
	IsDir   bool              `json:"is_dir,omitempty"`
	Size    int64             `json:"size"`
	ModTime *time.Time        `json:"mtime,omitempty"`
	Hashes  map[string]string `json:"hashes,omitempty"`
	Side    Side              `json:"-"`
}

// Hash returns the digest for the given normalized algorithm name, or ""
// when the backend did not report one.
func (r *FileRecord) Hash(algo string) string {
	if r.Hashes == nil {
		return ""
	}

	return r.Hashes[algo]
}

// HashAlgos returns the algorithm names this record carries, sorted.
func (r *FileRecord) HashAlgos() []string {
	if len(r.Hashes) == 0 {
		return nil
	}

	algos := make([]string, 0, len(r.Hashes))
	for a := range r.Hashes {
		algos = append(algos, a)
	}

	sort.Strings(algos)

	return algos
}

// HasModTime reports whether the backend supplied a modification time.
// Some backends cannot report mtimes cheaply and omit them entirely.
func (r *FileRecord) HasModTime() bool {
	return r.ModTime != nil && !r.ModTime.IsZero()
}

// Clone returns a deep copy of the record. Snapshots hand out pointers into
// their index, so callers that need to mutate a record must clone it first.
func (r *FileRecord) Clone() *FileRecord {
	c := *r

	if r.ModTime != nil {
		t := *r.ModTime
		c.ModTime = &t
	}

	if r.Hashes != nil {
		c.Hashes = make(map[string]string, len(r.Hashes))
		for k, v := range r.Hashes {
			c.Hashes[k] = v
		}
	}

	return &c
}
