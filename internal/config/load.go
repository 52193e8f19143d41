package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads the config file at path, overlays it on the defaults, applies
// CLI overrides, and validates the result. Overrides are "key = value"
// strings in TOML syntax, applied after the file so they win; nested keys
// use dotted form ("a.remote = '/tmp/a'").
func Load(path string, overrides []string) (*Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := ApplyOverrides(cfg, overrides); err != nil {
		return nil, err
	}

	applyDerived(cfg, path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides decodes each "key = value" override as a TOML fragment onto
// the config. There is no input validation beyond TOML syntax; Validate runs
// afterwards on the merged result.
func ApplyOverrides(cfg *Config, overrides []string) error {
	for _, ov := range overrides {
		if _, err := toml.Decode(ov, cfg); err != nil {
			return fmt.Errorf("config: override %q: %w", ov, err)
		}
	}

	return nil
}

// applyDerived fills defaults that depend on other values.
func applyDerived(cfg *Config, path string) {
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(filepath.Dir(path), ".duplex")
	}

	if cfg.A.Workdir == "" {
		cfg.A.Workdir = joinRemote(cfg.A.Remote, ".duplex")
	}

	if cfg.B.Workdir == "" {
		cfg.B.Workdir = joinRemote(cfg.B.Remote, ".duplex")
	}
}

func joinRemote(remote, rel string) string {
	if remote == "" {
		return rel
	}

	if strings.HasSuffix(remote, "/") || strings.HasSuffix(remote, ":") {
		return remote + rel
	}

	return remote + "/" + rel
}

// WriteTemplate writes a commented template config to path. It refuses to
// overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory for %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return fmt.Errorf("config: write template: %w", err)
	}

	return nil
}

// Top-level keys must stay above the [a]/[b] tables: anything after a table
// header belongs to that table in TOML.
const template = `# duplex sync pair configuration.
# Paths may be local directories or backend remote specs ("store:bucket/tree").

name = "sync"

# Change detection: size, mtime, or hash.
compare = "mtime"
# hash_name = "sha1"
hash_fail_fallback = "mtime"
mtime_tolerance = "2s"

# Conflict policy: tag, newer, or newer_tag.
conflict_policy = "newer_tag"

backup = true
backup_mode = "auto"   # auto, copy, or move
sync_backups = false

avoid_relist = false
workers = 4
lock = true

# include = ["**"]
# exclude = ["*.tmp", "**/.DS_Store"]

rclone_exe = "rclone"
# rclone_flags = ["--transfers", "8"]

[a]
remote = ""            # REQUIRED
# workdir = ""         # default: <remote>/.duplex
renames = "hash"       # move tracking attribute: hash, mtime, size, or "" to disable
reuse_hashes = true

[b]
remote = ""            # REQUIRED
renames = "hash"
reuse_hashes = true
`
