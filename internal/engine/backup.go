package engine

import (
	"time"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/config"
	"github.com/duplexsync/duplex/internal/snapshot"
)

// Backupper decides where overwritten and deleted files are preserved. Every
// run gets its own backup directory per side under that side's workdir:
//
//	backups/20240301T101500_photos_A/docs/report.csv
//
// so consecutive runs never collide and a backup is traceable to the run and
// side it came from.
type Backupper struct {
	enabled bool
	stamp   string
	name    string
	mode    string
	byCopy  map[snapshot.Side]bool
}

// NewBackupper resolves the backup mode against each side's capabilities.
// Auto prefers copy-mode when the backend can copy server-side; otherwise
// backups are taken by moving, which is cheap everywhere but means the
// original is gone if a later phase fails before re-populating it.
func NewBackupper(cfg *config.Config, now time.Time, capsA, capsB backend.Capabilities) *Backupper {
	byCopy := map[snapshot.Side]bool{
		snapshot.SideA: resolveByCopy(cfg.BackupMode, capsA),
		snapshot.SideB: resolveByCopy(cfg.BackupMode, capsB),
	}

	return &Backupper{
		enabled: cfg.Backup,
		stamp:   now.UTC().Format(tagTimeFormat),
		name:    cfg.Name,
		mode:    cfg.BackupMode,
		byCopy:  byCopy,
	}
}

func resolveByCopy(mode string, caps backend.Capabilities) bool {
	switch mode {
	case config.BackupCopy:
		return true
	case config.BackupMove:
		return false
	default:
		return caps.ServerSideCopy
	}
}

// Enabled reports whether backups are being taken at all.
func (b *Backupper) Enabled() bool { return b.enabled }

// ByCopy reports whether a side backs up by copying. A move-mode backup
// already removes the original, so a protecting delete becomes redundant.
func (b *Backupper) ByCopy(side snapshot.Side) bool { return b.byCopy[side] }

// Dir returns this run's backup directory for a side, relative to the side's
// workdir.
func (b *Backupper) Dir(side snapshot.Side) string {
	return "backups/" + b.stamp + "_" + b.name + "_" + string(side)
}

// Action builds the backup action protecting the given live record, or false
// when backups are disabled.
func (b *Backupper) Action(side snapshot.Side, rec *snapshot.FileRecord) (Action, bool) {
	if !b.enabled {
		return Action{}, false
	}

	return Action{
		Kind:         ActionBackup,
		Side:         side,
		Path:         rec.Path,
		BackupPath:   b.Dir(side) + "/" + rec.Path,
		BackupByCopy: b.byCopy[side],
		Size:         rec.Size,
	}, true
}
