package config

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PathFilter decides which listed paths participate in a sync. Patterns are
// doublestar globs matched against slash-relative paths. The workdir marker
// directory is always excluded so state and backups never sync themselves.
type PathFilter struct {
	include []string
	exclude []string
}

// workdirMarker is the reserved directory name for per-side state.
const workdirMarker = ".duplex"

// NewPathFilter validates the config's glob patterns and returns a filter.
func NewPathFilter(cfg *Config) (*PathFilter, error) {
	for _, pat := range append(append([]string{}, cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("config: invalid glob pattern %q", pat)
		}
	}

	return &PathFilter{include: cfg.Include, exclude: cfg.Exclude}, nil
}

// Match reports whether the given slash-relative path is included.
func (f *PathFilter) Match(path string) bool {
	if path == workdirMarker || strings.HasPrefix(path, workdirMarker+"/") {
		return false
	}

	for _, pat := range f.exclude {
		if ok, _ := doublestar.Match(pat, path); ok {
			return false
		}

		// An exclude of a directory name drops everything beneath it.
		if ok, _ := doublestar.Match(pat+"/**", path); ok {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}

	for _, pat := range f.include {
		if ok, _ := doublestar.Match(pat, path); ok {
			return true
		}
	}

	return false
}
