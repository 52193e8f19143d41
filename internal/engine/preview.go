package engine

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/duplexsync/duplex/internal/snapshot"
)

// previewMaxItems caps per-phase path listings in the rendered preview.
const previewMaxItems = 50

// RenderPreview formats a plan for display before execution (dry runs and
// interactive confirmation).
func RenderPreview(plan *Plan) string {
	var b strings.Builder

	if plan.Empty() {
		b.WriteString("nothing to do: both sides match the prior state\n")
		return b.String()
	}

	for _, side := range []snapshot.Side{snapshot.SideA, snapshot.SideB} {
		renderActionSection(&b, fmt.Sprintf("backup on %s", side), plan.Backups[side], func(a Action) string {
			return fmt.Sprintf("%s -> %s", a.Path, a.BackupPath)
		})
		renderActionSection(&b, fmt.Sprintf("tag-rename on %s", side), plan.Renames[side], func(a Action) string {
			return fmt.Sprintf("%s -> %s", a.Path, a.DstPath)
		})
		renderActionSection(&b, fmt.Sprintf("delete on %s", side), plan.Deletes[side], func(a Action) string {
			return a.Path
		})
		renderMoveSection(&b, side, plan.MoveWaves[side])
		renderActionSection(&b, fmt.Sprintf("copy %s -> %s", side.Other(), side), plan.Copies[side], func(a Action) string {
			return fmt.Sprintf("%s (%s)", a.Path, humanize.Bytes(uint64(a.Size)))
		})
	}

	if n := len(plan.Resolutions); n > 0 {
		fmt.Fprintf(&b, "conflicts resolved: %d\n", n)

		for _, r := range plan.Resolutions {
			fmt.Fprintf(&b, "  %s: %s\n", r.Conflict.Path, r.Reason())
		}
	}

	var bytes int64
	for _, side := range []snapshot.Side{snapshot.SideA, snapshot.SideB} {
		for _, a := range plan.Copies[side] {
			bytes += a.Size
		}
	}

	fmt.Fprintf(&b, "total: %d actions, %s to transfer\n", plan.TotalActions(), humanize.Bytes(uint64(bytes)))

	return b.String()
}

func renderActionSection(b *strings.Builder, title string, actions []Action, line func(Action) string) {
	if len(actions) == 0 {
		return
	}

	fmt.Fprintf(b, "%s: %d\n", title, len(actions))

	for i, a := range actions {
		if i == previewMaxItems {
			fmt.Fprintf(b, "  ... %d more\n", len(actions)-previewMaxItems)
			break
		}

		fmt.Fprintf(b, "  %s\n", line(a))
	}
}

func renderMoveSection(b *strings.Builder, side snapshot.Side, waves [][]MoveBatch) {
	var moves [][2]string

	for _, wave := range waves {
		for i := range wave {
			moves = append(moves, wave[i].Moves()...)
		}
	}

	if len(moves) == 0 {
		return
	}

	fmt.Fprintf(b, "move on %s: %d\n", side, len(moves))

	for i, mv := range moves {
		if i == previewMaxItems {
			fmt.Fprintf(b, "  ... %d more\n", len(moves)-previewMaxItems)
			break
		}

		fmt.Fprintf(b, "  %s -> %s\n", mv[0], mv[1])
	}
}
