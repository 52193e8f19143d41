package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// Result is the outcome of one run, surfaced to the CLI and to shell hooks.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	Stats StatsView

	// DryRun means no action was executed and no state was committed.
	DryRun bool
	// Committed means the new prior state was persisted. False after a run
	// with item failures: the next run re-examines everything the failed
	// items touched.
	Committed bool
}

// Duration returns the wall-clock run time.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Ok reports whether every item succeeded.
func (r *Result) Ok() bool {
	return len(r.Stats.Errors) == 0
}

// Summary renders a one-line human summary.
func (r *Result) Summary() string {
	s := r.Stats

	return fmt.Sprintf(
		"copied %d (%s), moved %d, deleted %d, backed up %d, conflicts %d, errors %d in %s",
		s.Copied, humanize.Bytes(uint64(s.BytesCopied)), s.Moved, s.Deleted,
		s.BackedUp, s.Conflicts, len(s.Errors), r.Duration().Round(time.Millisecond),
	)
}

// EnvVars returns the run outcome as an environment variable map. A caller
// spawning a post-run hook must place these in the child's environment;
// setting them in the current process reaches no one.
func (r *Result) EnvVars() map[string]string {
	s := r.Stats

	return map[string]string{
		"DUPLEX_RUN_ID":    r.RunID,
		"DUPLEX_COPIED":    strconv.Itoa(s.Copied),
		"DUPLEX_MOVED":     strconv.Itoa(s.Moved),
		"DUPLEX_DELETED":   strconv.Itoa(s.Deleted),
		"DUPLEX_BACKED_UP": strconv.Itoa(s.BackedUp),
		"DUPLEX_CONFLICTS": strconv.Itoa(s.Conflicts),
		"DUPLEX_ERRORS":    strconv.Itoa(len(s.Errors)),
		"DUPLEX_BYTES":     strconv.FormatInt(s.BytesCopied, 10),
		"DUPLEX_COMMITTED": strconv.FormatBool(r.Committed),
		"DUPLEX_DRY_RUN":   strconv.FormatBool(r.DryRun),
	}
}
