package config

import (
	"errors"
	"fmt"
	"strings"
)

// Flags that would change what the engine sees between listing and acting.
// Filtering must go through include/exclude so the engine and the backend
// agree on the file set.
var forbiddenFlags = map[string]bool{
	"--include":      true,
	"--exclude":      true,
	"--include-from": true,
	"--exclude-from": true,
	"--filter":       true,
	"--filter-from":  true,
	"--files-from":   true,
}

var (
	errNoRemoteA = errors.New("config: a.remote must be set")
	errNoRemoteB = errors.New("config: b.remote must be set")
)

// Validate checks the merged configuration. It is called after file load and
// override application; an invalid policy combination is fatal before any
// listing happens.
func (c *Config) Validate() error {
	if c.A.Remote == "" {
		return errNoRemoteA
	}

	if c.B.Remote == "" {
		return errNoRemoteB
	}

	if c.Name == "" {
		return errors.New("config: name must not be empty")
	}

	if err := oneOf("compare", c.Compare, CompareSize, CompareMtime, CompareHash); err != nil {
		return err
	}

	if err := oneOf("hash_fail_fallback", c.HashFailFallback, CompareSize, CompareMtime, ""); err != nil {
		return err
	}

	if err := oneOf("conflict_policy", c.ConflictPolicy, ConflictTag, ConflictNewer, ConflictNewerTag); err != nil {
		return err
	}

	if err := oneOf("backup_mode", c.BackupMode, BackupAuto, BackupCopy, BackupMove); err != nil {
		return err
	}

	for label, side := range map[string]*SideConfig{"a": &c.A, "b": &c.B} {
		if err := oneOf(label+".renames", side.Renames, CompareSize, CompareMtime, CompareHash, ""); err != nil {
			return err
		}

		if err := checkOverlap(label, side); err != nil {
			return err
		}

		if err := checkFlags(label+".flags", side.Flags); err != nil {
			return err
		}
	}

	if err := checkFlags("rclone_flags", c.RcloneFlags); err != nil {
		return err
	}

	if c.Workers < 1 {
		c.Workers = 1
	}

	return nil
}

func oneOf(key, val string, allowed ...string) error {
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}

	return fmt.Errorf("config: %s must be one of %q, got %q", key, allowed, val)
}

// checkOverlap rejects a workdir placed inside its remote tree (or vice
// versa). Backups written into the synced tree would be listed, synced, and
// backed up again on the next run.
func checkOverlap(label string, side *SideConfig) error {
	if side.Workdir == "" {
		return nil
	}

	remote := strings.TrimSuffix(side.Remote, "/")
	workdir := strings.TrimSuffix(side.Workdir, "/")

	// The default "<remote>/.duplex" workdir is excluded from listings by
	// construction and therefore allowed.
	if workdir == joinRemote(remote, ".duplex") {
		return nil
	}

	if strings.HasPrefix(workdir+"/", remote+"/") || strings.HasPrefix(remote+"/", workdir+"/") {
		return fmt.Errorf("config: %s.workdir %q overlaps %s.remote %q", label, side.Workdir, label, side.Remote)
	}

	return nil
}

func checkFlags(key string, flags []string) error {
	for _, f := range flags {
		if forbiddenFlags[f] {
			return fmt.Errorf("config: %s cannot contain filtering flag %q; use include/exclude", key, f)
		}
	}

	return nil
}
