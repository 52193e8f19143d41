// Package config loads and validates the TOML configuration for a sync pair.
// One config file describes one pair of sides plus the policies the decision
// engine applies: comparison mode, move tracking, conflict policy, backups,
// concurrency, and filters.
package config

import "time"

// Duration is a time.Duration that decodes from TOML strings like "2s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Comparison and move-tracking attribute modes.
const (
	CompareSize  = "size"
	CompareMtime = "mtime"
	CompareHash  = "hash"
)

// Conflict policies.
const (
	ConflictTag      = "tag"
	ConflictNewer    = "newer"
	ConflictNewerTag = "newer_tag"
)

// Backup modes. Auto resolves to copy when the remote supports server-side
// copy, move otherwise.
const (
	BackupAuto = "auto"
	BackupCopy = "copy"
	BackupMove = "move"
)

// SideConfig holds per-side settings.
type SideConfig struct {
	// Remote is the backend path for this side, e.g. "/data/a" or "store:bucket/tree".
	Remote string `toml:"remote"`
	// Workdir holds state markers, locks, and backups for this side.
	// Defaults to "<remote>/.duplex".
	Workdir string `toml:"workdir"`
	// Renames selects the move-tracking attribute for this side:
	// "hash", "mtime", "size", or "" to disable move tracking.
	Renames string `toml:"renames"`
	// ReuseHashes carries hashes forward from the prior snapshot when path,
	// size, and mtime are unchanged, instead of rehashing every file.
	ReuseHashes bool `toml:"reuse_hashes"`
	// Flags are extra backend flags applied to this side only.
	Flags []string `toml:"flags"`
}

// Config is the complete configuration for one sync pair.
type Config struct {
	// Name identifies the pair; it appears in state, lock, and backup names.
	Name string `toml:"name"`

	A SideConfig `toml:"a"`
	B SideConfig `toml:"b"`

	// Compare selects the change-detection attribute: size, mtime, or hash.
	Compare string `toml:"compare"`
	// HashName pins a hash algorithm (normalized name). Empty picks the
	// first algorithm both snapshots report for a record pair.
	HashName string `toml:"hash_name"`
	// HashFailFallback degrades hash comparison to this mode when a record
	// is missing hashes: "size", "mtime", or "" to treat as modified.
	HashFailFallback string `toml:"hash_fail_fallback"`
	// MtimeTolerance treats mtimes within this window as equal. Backends
	// round timestamps differently; exact equality produces false changes.
	MtimeTolerance Duration `toml:"mtime_tolerance"`

	// ConflictPolicy is tag, newer, or newer_tag.
	ConflictPolicy string `toml:"conflict_policy"`

	// Backup preserves overwritten and deleted files under the side workdir.
	Backup bool `toml:"backup"`
	// BackupMode is auto, copy, or move.
	BackupMode string `toml:"backup_mode"`
	// SyncBackups mirrors each side's new backups to the other side's
	// backup area after a successful run.
	SyncBackups bool `toml:"sync_backups"`

	// AvoidRelist reuses the committed post-run state as the next run's
	// current listing, halving listing cost. Unsafe if a side changes
	// out-of-band; opt-in.
	AvoidRelist bool `toml:"avoid_relist"`

	// Workers bounds the engine's action worker pool. Independent of any
	// backend-level transfer concurrency set through flags.
	Workers int `toml:"workers"`

	// Include and Exclude are doublestar globs applied to listings. An
	// empty include list means everything.
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`

	// Lock enables the run-level locks (local flock plus remote markers).
	Lock bool `toml:"lock"`

	// StateDir holds local state and the local lock file. Defaults to a
	// ".duplex" directory next to the config file.
	StateDir string `toml:"state_dir"`

	// Backend tool settings.
	RcloneExe   string            `toml:"rclone_exe"`
	RcloneFlags []string          `toml:"rclone_flags"`
	RcloneEnv   map[string]string `toml:"rclone_env"`
}

// Default returns a config populated with defaults; loading overlays the
// file and any CLI overrides on top.
func Default() *Config {
	return &Config{
		Name:             "sync",
		Compare:          CompareMtime,
		HashFailFallback: CompareMtime,
		MtimeTolerance:   Duration(2 * time.Second),
		ConflictPolicy:   ConflictNewerTag,
		Backup:           true,
		BackupMode:       BackupAuto,
		Workers:          4,
		Lock:             true,
		RcloneExe:        "rclone",
		A:                SideConfig{Renames: CompareHash, ReuseHashes: true},
		B:                SideConfig{Renames: CompareHash, ReuseHashes: true},
	}
}

// NeedsHashes reports whether listings for the given side must include
// content hashes, based on the comparison and move-tracking modes.
func (c *Config) NeedsHashes(side *SideConfig) bool {
	return c.Compare == CompareHash || side.Renames == CompareHash
}
