package snapshot

import (
	"fmt"
	"sort"
	"time"
)

// Snapshot is an immutable, timestamped listing of one side's files, indexed
// by path. Linear scans over all paths for every comparison degrade to O(N²)
// total work on large trees, so every lookup goes through the index.
type Snapshot struct {
	side    Side
	takenAt time.Time
	byPath  map[string]*FileRecord
	paths   []string // sorted, built once
}

// New builds an indexed snapshot from the given records. Paths must be
// slash-normalized and relative to the side root. A duplicate path is a
// structural error in the listing and is rejected.
func New(side Side, takenAt time.Time, records []FileRecord) (*Snapshot, error) {
	s := &Snapshot{
		side:    side,
		takenAt: takenAt,
		byPath:  make(map[string]*FileRecord, len(records)),
		paths:   make([]string, 0, len(records)),
	}

	for i := range records {
		rec := records[i].Clone()
		rec.Side = side

		if _, dup := s.byPath[rec.Path]; dup {
			return nil, fmt.Errorf("snapshot %s: duplicate path %q in listing", side, rec.Path)
		}

		s.byPath[rec.Path] = rec
		s.paths = append(s.paths, rec.Path)
	}

	sort.Strings(s.paths)

	return s, nil
}

// Empty returns a snapshot with no records, used for reset-state runs and
// first syncs where no prior listing exists.
func Empty(side Side) *Snapshot {
	s, _ := New(side, time.Time{}, nil)
	return s
}

// Side returns which side this snapshot was listed from.
func (s *Snapshot) Side() Side { return s.side }

// TakenAt returns the listing timestamp.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Len returns the number of records.
func (s *Snapshot) Len() int { return len(s.paths) }

// Get returns the record for path, if present.
func (s *Snapshot) Get(path string) (*FileRecord, bool) {
	rec, ok := s.byPath[path]
	return rec, ok
}

// Has reports whether path is present.
func (s *Snapshot) Has(path string) bool {
	_, ok := s.byPath[path]
	return ok
}

// Paths returns all paths in sorted order. The returned slice is shared;
// callers must not modify it.
func (s *Snapshot) Paths() []string { return s.paths }

// Records returns all records in sorted path order.
func (s *Snapshot) Records() []FileRecord {
	out := make([]FileRecord, 0, len(s.paths))
	for _, p := range s.paths {
		out = append(out, *s.byPath[p])
	}

	return out
}

// TotalSize returns the sum of all record sizes.
func (s *Snapshot) TotalSize() int64 {
	var n int64
	for _, rec := range s.byPath {
		n += rec.Size
	}

	return n
}
