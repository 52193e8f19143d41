package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingStateIsEmpty(t *testing.T) {
	st := NewStore(t.TempDir(), "job")

	state, err := st.Load()
	require.NoError(t, err)

	assert.Equal(t, 0, state.A.Len())
	assert.Equal(t, 0, state.B.Len())
}

func TestCommitAndLoadRoundTrip(t *testing.T) {
	st := NewStore(t.TempDir(), "job")

	mt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(SideA, time.Now(), []FileRecord{
		{Path: "docs/readme.md", Size: 128, ModTime: &mt, Hashes: map[string]string{"md5": "aa"}},
	})
	require.NoError(t, err)

	b, err := New(SideB, time.Now(), []FileRecord{{Path: "docs/readme.md", Size: 128}})
	require.NoError(t, err)

	require.NoError(t, st.Commit(a, b))

	state, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, stateFormatVersion, state.Version)

	got, ok := state.A.Get("docs/readme.md")
	require.True(t, ok)
	assert.Equal(t, int64(128), got.Size)
	assert.Equal(t, "aa", got.Hash("md5"))
	require.True(t, got.HasModTime())
	assert.True(t, got.ModTime.Equal(mt))

	assert.True(t, state.B.Has("docs/readme.md"))
}

func TestCommitReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, "job")

	a1, _ := New(SideA, time.Now(), []FileRecord{{Path: "old.txt", Size: 1}})
	require.NoError(t, st.Commit(a1, Empty(SideB)))

	a2, _ := New(SideA, time.Now(), []FileRecord{{Path: "new.txt", Size: 2}})
	require.NoError(t, st.Commit(a2, Empty(SideB)))

	state, err := st.Load()
	require.NoError(t, err)
	assert.False(t, state.A.Has("old.txt"))
	assert.True(t, state.A.Has("new.txt"))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLoadLegacyV1Format(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, "job")

	legacy := stateFileV1{
		A: []FileRecord{{Path: "kept.txt", Size: 7}},
		B: []FileRecord{},
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(st.Path(), raw, 0o644))

	state, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, state.Version)
	assert.True(t, state.A.Has("kept.txt"))
	assert.Equal(t, 0, state.B.Len())
}

func TestLoadCorruptStateFails(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, "job")

	require.NoError(t, os.WriteFile(st.Path(), []byte("not json, not gzip"), 0o644))

	_, err := st.Load()
	require.ErrorIs(t, err, ErrStateUnreadable)
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, "job")

	require.NoError(t, st.Commit(Empty(SideA), Empty(SideB)))
	require.NoError(t, st.Reset())

	_, err := os.Stat(filepath.Join(dir, "job_state.json.gz"))
	assert.True(t, os.IsNotExist(err))

	// Resetting twice is fine.
	require.NoError(t, st.Reset())
}
