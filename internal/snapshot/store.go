package snapshot

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrStateUnreadable is returned by Store.Load when the on-disk prior state
// exists but no known format decoder can parse it. The caller must treat this
// as fatal: silently resetting state would turn every file into a false "new".
var ErrStateUnreadable = errors.New("snapshot: prior state unreadable in any known format")

// stateFormatVersion is the only version the encoder produces. Older versions
// remain readable through the decoder chain for at least one release.
const stateFormatVersion = 2

// PriorState is the persisted snapshot pair from the last successful run.
type PriorState struct {
	A       *Snapshot
	B       *Snapshot
	Version int
	SavedAt time.Time
}

// Store reads and writes the prior-state archive for one sync pair. The
// archive is a gzip-compressed JSON envelope holding both sides' last
// committed snapshots. Commit is atomic: the previous state file stays
// intact until the replacement rename.
type Store struct {
	dir  string
	name string
}

// NewStore creates a store rooted at dir for the sync pair identified by name.
func NewStore(dir, name string) *Store {
	return &Store{dir: dir, name: name}
}

// Path returns the current-format state file path.
func (st *Store) Path() string {
	return filepath.Join(st.dir, st.name+"_state.json.gz")
}

// Load reads the prior state. A missing file yields an empty prior state
// (first sync). A present but undecodable file yields ErrStateUnreadable:
// each known format decoder is tried in order, newest first.
func (st *Store) Load() (*PriorState, error) {
	raw, err := os.ReadFile(st.Path())
	if errors.Is(err, os.ErrNotExist) {
		return emptyState(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("snapshot: read state: %w", err)
	}

	return decodeState(raw)
}

// Commit atomically replaces the prior state with the given snapshot pair.
// It writes the current format to a temp file in the same directory and
// renames it over the old state, so a failed run never damages the previous
// known-good checkpoint.
func (st *Store) Commit(a, b *Snapshot) error {
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create state dir: %w", err)
	}

	data, err := encodeState(a, b)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(st.dir, st.name+"_state.*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp state: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("snapshot: write temp state: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close temp state: %w", err)
	}

	if err := os.Rename(tmpName, st.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: replace state: %w", err)
	}

	return nil
}

// Reset removes the persisted state so the next run treats both sides as
// never synced. Used by the explicit reset-state switch only.
func (st *Store) Reset() error {
	err := os.Remove(st.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("snapshot: reset state: %w", err)
	}

	return nil
}

func emptyState() *PriorState {
	return &PriorState{
		A:       Empty(SideA),
		B:       Empty(SideB),
		Version: stateFormatVersion,
	}
}

// --- Wire formats ---

// stateEnvelopeV2 is the current on-disk format: a gzip-compressed JSON
// envelope with an explicit version field.
type stateEnvelopeV2 struct {
	Version int         `json:"version"`
	SavedAt time.Time   `json:"saved_at"`
	A       sideStateV2 `json:"a"`
	B       sideStateV2 `json:"b"`
}

type sideStateV2 struct {
	TakenAt time.Time    `json:"taken_at"`
	Records []FileRecord `json:"records"`
}

// stateFileV1 is the legacy format: uncompressed JSON with bare record
// arrays and no version field.
type stateFileV1 struct {
	A []FileRecord `json:"a"`
	B []FileRecord `json:"b"`
}

func encodeState(a, b *Snapshot) ([]byte, error) {
	env := stateEnvelopeV2{
		Version: stateFormatVersion,
		SavedAt: time.Now().UTC(),
		A:       sideStateV2{TakenAt: a.TakenAt(), Records: a.Records()},
		B:       sideStateV2{TakenAt: b.TakenAt(), Records: b.Records()},
	}

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(&env); err != nil {
		return nil, fmt.Errorf("snapshot: encode state: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: compress state: %w", err)
	}

	return buf.Bytes(), nil
}

// stateDecoder is one entry in the format chain: newest first, each tagged
// with the version it understands. The encoder always writes the current
// version only.
type stateDecoder struct {
	version int
	decode  func([]byte) (*PriorState, error)
}

var stateDecoders = []stateDecoder{
	{version: 2, decode: decodeStateV2},
	{version: 1, decode: decodeStateV1},
}

func decodeState(raw []byte) (*PriorState, error) {
	for _, dec := range stateDecoders {
		state, err := dec.decode(raw)
		if err == nil {
			state.Version = dec.version
			return state, nil
		}
	}

	return nil, ErrStateUnreadable
}

func decodeStateV2(raw []byte) (*PriorState, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	var env stateEnvelopeV2
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, err
	}

	if env.Version != stateFormatVersion {
		return nil, fmt.Errorf("snapshot: unexpected state version %d", env.Version)
	}

	a, err := New(SideA, env.A.TakenAt, env.A.Records)
	if err != nil {
		return nil, err
	}

	b, err := New(SideB, env.B.TakenAt, env.B.Records)
	if err != nil {
		return nil, err
	}

	return &PriorState{A: a, B: b, SavedAt: env.SavedAt}, nil
}

func decodeStateV1(raw []byte) (*PriorState, error) {
	var f stateFileV1
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}

	// An empty object decodes without error but carries no state; treat it
	// as unreadable rather than silently resetting.
	if f.A == nil && f.B == nil {
		return nil, errors.New("snapshot: v1 state missing both sides")
	}

	a, err := New(SideA, time.Time{}, f.A)
	if err != nil {
		return nil, err
	}

	b, err := New(SideB, time.Time{}, f.B)
	if err != nil {
		return nil, err
	}

	return &PriorState{A: a, B: b}, nil
}
