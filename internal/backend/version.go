package backend

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is a parsed backend tool version.
type Version struct {
	Major, Minor, Patch int
}

// MinVersion is the oldest backend version the engine supports.
var MinVersion = Version{1, 56, 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v >= other.
func (v Version) AtLeast(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}

	if v.Minor != other.Minor {
		return v.Minor > other.Minor
	}

	return v.Patch >= other.Patch
}

// IsZero reports whether the version is unknown (never parsed).
func (v Version) IsZero() bool {
	return v == Version{}
}

var versionRe = regexp.MustCompile(`(?m)^rclone\s+v?(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts the tool version from `--version` output. Parse
// failures are non-fatal for the run: callers log and fall back to the
// conservative capability defaults for a zero version.
func ParseVersion(out string) (Version, error) {
	m := versionRe.FindStringSubmatch(out)
	if m == nil {
		return Version{}, fmt.Errorf("backend: cannot parse version from %q", firstLine(out))
	}

	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])

	patch := 0
	if m[3] != "" {
		patch, _ = strconv.Atoi(m[3])
	}

	return Version{major, minor, patch}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}

	return s
}

// versionGate maps a capability to the backend version that introduced it.
// Gates are a data-driven table so version-dependent behavior never leaks
// into the planner as ad-hoc conditionals.
type versionGate struct {
	capability string
	since      Version
}

// Named capabilities resolved through the gate table.
const (
	capOverlappingMoves = "overlapping-moves"
	capBatchedMoveFiles = "batched-move-files"
)

var versionGates = []versionGate{
	// Since 1.59.0 move calls tolerate overlapping source/destination sets,
	// so the planner may skip its path-overlap batch splitting.
	{capability: capOverlappingMoves, since: Version{1, 59, 0}},
	// `move --files-from` appeared in the same release.
	{capability: capBatchedMoveFiles, since: Version{1, 59, 0}},
}

// gateOpen reports whether the named capability is available at version v.
// A zero (unparsed) version keeps every gate closed for safety.
func gateOpen(capability string, v Version) bool {
	if v.IsZero() {
		return false
	}

	for _, g := range versionGates {
		if g.capability == capability {
			return v.AtLeast(g.since)
		}
	}

	return false
}
