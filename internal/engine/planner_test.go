package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/config"
	"github.com/duplexsync/duplex/internal/snapshot"
)

func plannerConfig() *config.Config {
	cfg := config.Default()
	cfg.Name = "test"
	cfg.A.Remote = "/a"
	cfg.B.Remote = "/b"

	return cfg
}

func allCaps() backend.Capabilities {
	return backend.Capabilities{
		ServerSideCopy:   true,
		ServerSideMove:   true,
		OverlappingMoves: true,
		EmptyDirs:        true,
	}
}

func buildTestPlan(t *testing.T, cfg *config.Config, priorA, currA, priorB, currB *snapshot.Snapshot, caps backend.Capabilities) *Plan {
	t.Helper()

	cmp := compareOptionsFrom(cfg)

	csA := Classify(priorA, currA, cmp)
	csB := Classify(priorB, currB, cmp)
	TrackMoves(csA, cfg.A.Renames, cfg.HashName)
	TrackMoves(csB, cfg.B.Renames, cfg.HashName)
	ReconcileMoves(csA, csB)

	conflicts := DetectConflicts(csA, csB, cmp)

	resolutions := make([]*Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		resolutions = append(resolutions, Resolve(c, cfg.ConflictPolicy, cfg.MtimeTolerance.Std(), baseTime))
	}

	plan, err := BuildPlan(PlannerInput{
		Cfg:         cfg,
		CSA:         csA,
		CSB:         csB,
		CurrA:       currA,
		CurrB:       currB,
		Resolutions: resolutions,
		Backupper:   NewBackupper(cfg, baseTime, caps, caps),
		CapsA:       caps,
		CapsB:       caps,
		Now:         baseTime,
	})
	require.NoError(t, err)

	return plan
}

func TestPlanOverwriteIncludesBackup(t *testing.T) {
	cfg := plannerConfig()

	priorA := snap(t, snapshot.SideA, rec("f", 4, baseTime, nil))
	currA := snap(t, snapshot.SideA, rec("f", 9, baseTime.Add(time.Hour), nil))
	priorB := snap(t, snapshot.SideB, rec("f", 4, baseTime, nil))
	currB := snap(t, snapshot.SideB, rec("f", 4, baseTime, nil))

	plan := buildTestPlan(t, cfg, priorA, currA, priorB, currB, allCaps())

	require.Len(t, plan.Copies[snapshot.SideB], 1)
	require.Len(t, plan.Backups[snapshot.SideB], 1)

	bk := plan.Backups[snapshot.SideB][0]
	assert.Equal(t, "f", bk.Path)
	assert.Equal(t, "backups/20240301T100000_test_B/f", bk.BackupPath)
	assert.True(t, bk.BackupByCopy)
}

func TestPlanMoveModeBackupSkipsDelete(t *testing.T) {
	cfg := plannerConfig()
	cfg.BackupMode = config.BackupMove

	priorA := snap(t, snapshot.SideA, rec("gone", 4, baseTime, nil))
	currA := snap(t, snapshot.SideA)
	priorB := snap(t, snapshot.SideB, rec("gone", 4, baseTime, nil))
	currB := snap(t, snapshot.SideB, rec("gone", 4, baseTime, nil))

	plan := buildTestPlan(t, cfg, priorA, currA, priorB, currB, allCaps())

	// The move into the backup area already removes the live file.
	require.Len(t, plan.Backups[snapshot.SideB], 1)
	assert.False(t, plan.Backups[snapshot.SideB][0].BackupByCopy)
	assert.Empty(t, plan.Deletes[snapshot.SideB])
}

func TestPlanBackupAutoFollowsCapability(t *testing.T) {
	cfg := plannerConfig()

	caps := allCaps()
	caps.ServerSideCopy = false

	priorA := snap(t, snapshot.SideA, rec("gone", 4, baseTime, nil))
	currA := snap(t, snapshot.SideA)
	priorB := snap(t, snapshot.SideB, rec("gone", 4, baseTime, nil))
	currB := snap(t, snapshot.SideB, rec("gone", 4, baseTime, nil))

	plan := buildTestPlan(t, cfg, priorA, currA, priorB, currB, caps)

	require.Len(t, plan.Backups[snapshot.SideB], 1)
	assert.False(t, plan.Backups[snapshot.SideB][0].BackupByCopy)
}

func TestPlanExpectedStateMatchesActions(t *testing.T) {
	cfg := plannerConfig()
	h := map[string]string{"sha1": "k"}

	// A: renamed one file, created another. B: untouched.
	priorA := snap(t, snapshot.SideA, rec("old.txt", 4, baseTime, h))
	currA := snap(t, snapshot.SideA,
		rec("new.txt", 4, baseTime, h),
		rec("extra.txt", 7, baseTime, nil),
	)
	priorB := snap(t, snapshot.SideB, rec("old.txt", 4, baseTime, h))
	currB := snap(t, snapshot.SideB, rec("old.txt", 4, baseTime, h))

	plan := buildTestPlan(t, cfg, priorA, currA, priorB, currB, allCaps())

	// Expected post-run B: the mirrored rename plus the copied creation.
	require.NotNil(t, plan.NextB)
	assert.ElementsMatch(t, []string{"extra.txt", "new.txt"}, plan.NextB.Paths())
	assert.False(t, plan.NextB.Has("old.txt"))

	// A is untouched by the plan.
	assert.ElementsMatch(t, []string{"extra.txt", "new.txt"}, plan.NextA.Paths())
}

func TestPlanIdenticalMoveOnBothSidesIsNoop(t *testing.T) {
	cfg := plannerConfig()
	h := map[string]string{"sha1": "k"}

	priorA := snap(t, snapshot.SideA, rec("p.txt", 4, baseTime, h))
	currA := snap(t, snapshot.SideA, rec("q.txt", 4, baseTime, h))
	priorB := snap(t, snapshot.SideB, rec("p.txt", 4, baseTime, h))
	currB := snap(t, snapshot.SideB, rec("q.txt", 4, baseTime, h))

	plan := buildTestPlan(t, cfg, priorA, currA, priorB, currB, allCaps())

	assert.True(t, plan.Empty(), "identical moves need no actions")
}

func TestPlanMirrorMoveBacksUpOccupiedDestination(t *testing.T) {
	cfg := plannerConfig()
	h := map[string]string{"sha1": "k"}

	priorA := snap(t, snapshot.SideA, rec("p.txt", 4, baseTime, h))
	currA := snap(t, snapshot.SideA, rec("q.txt", 4, baseTime, h))
	priorB := snap(t, snapshot.SideB, rec("p.txt", 4, baseTime, h), rec("q.txt", 9, baseTime, nil))
	currB := snap(t, snapshot.SideB, rec("p.txt", 4, baseTime, h), rec("q.txt", 9, baseTime, nil))

	plan := buildTestPlan(t, cfg, priorA, currA, priorB, currB, allCaps())

	// B's unrelated q.txt would be overwritten by the mirrored move; it
	// must be preserved first.
	require.Len(t, plan.Backups[snapshot.SideB], 1)
	assert.Equal(t, "q.txt", plan.Backups[snapshot.SideB][0].Path)
	require.Len(t, plan.MoveWaves[snapshot.SideB], 1)
}

func TestEmptyDirRoots(t *testing.T) {
	curr := snap(t, snapshot.SideA,
		rec("keep/a.txt", 1, baseTime, nil),
		rec("drop/sub/x.txt", 1, baseTime, nil),
		rec("drop/sub/y.txt", 1, baseTime, nil),
		rec("drop/z.txt", 1, baseTime, nil),
		rec("mixed/stay.txt", 1, baseTime, nil),
		rec("mixed/go.txt", 1, baseTime, nil),
	)

	removed := map[string]bool{
		"drop/sub/x.txt": true,
		"drop/sub/y.txt": true,
		"drop/z.txt":     true,
		"mixed/go.txt":   true,
	}

	roots := EmptyDirRoots(curr, removed, nil)

	// Only the topmost fully-emptied directory; "mixed" keeps a file.
	assert.Equal(t, []string{"drop"}, roots)
}

func TestEmptyDirRootsRespectsAdditions(t *testing.T) {
	curr := snap(t, snapshot.SideA, rec("dir/old.txt", 1, baseTime, nil))

	removed := map[string]bool{"dir/old.txt": true}
	added := map[string]bool{"dir/new.txt": true}

	// A move into the directory keeps it alive.
	assert.Empty(t, EmptyDirRoots(curr, removed, added))
}

func TestRenderPreviewCountsActions(t *testing.T) {
	cfg := plannerConfig()

	priorA := snap(t, snapshot.SideA)
	currA := snap(t, snapshot.SideA, rec("new.txt", 2048, baseTime, nil))
	priorB := snap(t, snapshot.SideB)
	currB := snap(t, snapshot.SideB)

	plan := buildTestPlan(t, cfg, priorA, currA, priorB, currB, allCaps())

	out := RenderPreview(plan)

	assert.Contains(t, out, "copy A -> B: 1")
	assert.Contains(t, out, "new.txt")
	assert.Contains(t, out, "total: 1 actions")
}
