package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duplexsync/duplex/internal/config"
	"github.com/duplexsync/duplex/internal/snapshot"
)

func bothModified(t *testing.T, mtimeA, mtimeB time.Time) *Conflict {
	t.Helper()

	recA := rec("f.txt", 10, mtimeA, nil)
	recB := rec("f.txt", 12, mtimeB, nil)

	return &Conflict{
		Path: "f.txt",
		A:    &Change{Path: "f.txt", Kind: Modified, Curr: &recA},
		B:    &Change{Path: "f.txt", Kind: Modified, Curr: &recB},
	}
}

func TestDetectConflicts(t *testing.T) {
	cmp := CompareOptions{Mode: config.CompareMtime, Tolerance: 2 * time.Second}

	priorA := snap(t, snapshot.SideA, rec("f", 4, baseTime, nil), rec("g", 4, baseTime, nil))
	currA := snap(t, snapshot.SideA, rec("f", 9, baseTime.Add(time.Hour), nil), rec("g", 4, baseTime, nil))

	priorB := snap(t, snapshot.SideB, rec("f", 4, baseTime, nil), rec("g", 4, baseTime, nil))
	currB := snap(t, snapshot.SideB, rec("g", 4, baseTime, nil)) // f deleted

	csA := Classify(priorA, currA, cmp)
	csB := Classify(priorB, currB, cmp)

	conflicts := DetectConflicts(csA, csB, cmp)

	require.Len(t, conflicts, 1)
	assert.Equal(t, "f", conflicts[0].Path)
	assert.Equal(t, Modified, conflicts[0].A.Kind)
	assert.Equal(t, Deleted, conflicts[0].B.Kind)
}

func TestDetectConflictsNeutralizesAgreement(t *testing.T) {
	cmp := CompareOptions{Mode: config.CompareMtime, Tolerance: 2 * time.Second}

	priorA := snap(t, snapshot.SideA, rec("gone", 4, baseTime, nil))
	currA := snap(t, snapshot.SideA, rec("new", 7, baseTime, nil))
	priorB := snap(t, snapshot.SideB, rec("gone", 4, baseTime, nil))
	currB := snap(t, snapshot.SideB, rec("new", 7, baseTime, nil))

	csA := Classify(priorA, currA, cmp)
	csB := Classify(priorB, currB, cmp)

	conflicts := DetectConflicts(csA, csB, cmp)

	// Both deleted "gone" and both created equal "new": nothing to do.
	assert.Empty(t, conflicts)
	assert.Equal(t, Unchanged, csA.Get("gone").Kind)
	assert.Equal(t, Unchanged, csA.Get("new").Kind)
	assert.Equal(t, Unchanged, csB.Get("new").Kind)
}

func TestResolveNewerPicksLaterMtime(t *testing.T) {
	c := bothModified(t, baseTime.Add(time.Hour), baseTime)

	r := Resolve(c, config.ConflictNewer, 2*time.Second, baseTime)

	assert.False(t, r.Tagged)
	assert.Equal(t, snapshot.SideA, r.Winner)

	c = bothModified(t, baseTime, baseTime.Add(time.Hour))
	r = Resolve(c, config.ConflictNewer, 2*time.Second, baseTime)
	assert.Equal(t, snapshot.SideB, r.Winner)
}

func TestResolveNewerTieBreaksDeterministically(t *testing.T) {
	c := bothModified(t, baseTime, baseTime.Add(time.Second))

	r := Resolve(c, config.ConflictNewer, 2*time.Second, baseTime)

	assert.False(t, r.Tagged)
	assert.Equal(t, snapshot.SideA, r.Winner)
}

func TestResolveNewerDeletionNeverWins(t *testing.T) {
	recA := rec("f.txt", 10, baseTime, nil)

	c := &Conflict{
		Path: "f.txt",
		A:    &Change{Path: "f.txt", Kind: Modified, Curr: &recA},
		B:    &Change{Path: "f.txt", Kind: Deleted},
	}

	r := Resolve(c, config.ConflictNewer, 2*time.Second, baseTime)

	assert.Equal(t, snapshot.SideA, r.Winner)
}

func TestResolveNewerTagFallsBackToTag(t *testing.T) {
	c := bothModified(t, baseTime, baseTime.Add(time.Second))

	r := Resolve(c, config.ConflictNewerTag, 2*time.Second, baseTime)

	assert.True(t, r.Tagged)
	assert.NotEmpty(t, r.TagA)
	assert.NotEmpty(t, r.TagB)
}

func TestResolveTagSkipsDeletedSide(t *testing.T) {
	recA := rec("f.txt", 10, baseTime, nil)

	c := &Conflict{
		Path: "f.txt",
		A:    &Change{Path: "f.txt", Kind: Modified, Curr: &recA},
		B:    &Change{Path: "f.txt", Kind: Deleted},
	}

	r := Resolve(c, config.ConflictTag, 2*time.Second, baseTime)

	assert.True(t, r.Tagged)
	assert.NotEmpty(t, r.TagA)
	assert.Empty(t, r.TagB)
}

func TestTagName(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)

	assert.Equal(t, "docs/plan.20240301T101500.A.txt", tagName("docs/plan.txt", now, snapshot.SideA))
	assert.Equal(t, "README.20240301T101500.B", tagName("README", now, snapshot.SideB))
	assert.Equal(t, "a/b/c.tar.20240301T101500.A.gz", tagName("a/b/c.tar.gz", now, snapshot.SideA))
}
