// Package backend defines the transfer backend contract the sync engine runs
// against, plus the process-based rclone implementation. The engine never
// touches file bytes itself: listing, copying, moving, hashing, and deleting
// are all delegated through this interface.
package backend

import (
	"context"

	"github.com/duplexsync/duplex/internal/snapshot"
)

// CheckMode selects how a transfer destination is compared against its source.
type CheckMode int

// Comparison modes for Copy. Pass one uses size-only regardless of the
// configured comparison; pass two re-verifies with the user's mode.
const (
	CheckSizeOnly CheckMode = iota
	CheckModTime
	CheckChecksum
)

// Capabilities are version- and remote-dependent feature flags that gate
// planner and backup behavior. They are resolved from a data-driven table
// (version gates) plus the backend's own feature report, never from
// conditional logic embedded in the planner.
type Capabilities struct {
	// ServerSideCopy reports efficient remote-side copy support. When false,
	// backups default to move mode.
	ServerSideCopy bool
	// ServerSideMove reports efficient remote-side move support.
	ServerSideMove bool
	// OverlappingMoves reports that batched moves tolerate a source path
	// appearing as another move's destination in the same call.
	OverlappingMoves bool
	// EmptyDirs reports that the remote can hold empty directories. When
	// false, the empty-directory pass is a no-op by construction.
	EmptyDirs bool
}

// Transferer is the contract between the sync engine and the external
// transfer tool. All paths passed to it are full backend paths (remote root
// joined with a slash-relative path via Join). Implementations must keep
// their output streams drained for the duration of every call.
type Transferer interface {
	// List recursively lists all files under root. Records carry
	// slash-normalized paths relative to root, sizes, optional mtimes, and
	// optional hashes with normalized algorithm names.
	List(ctx context.Context, root string, withHashes bool) ([]snapshot.FileRecord, error)

	// Stat returns the record for a single file, or nil if it does not exist.
	Stat(ctx context.Context, path string) (*snapshot.FileRecord, error)

	// Copy transfers one file, creating or overwriting the destination, and
	// returns the number of bytes transferred (0 when the destination was
	// already equal under the given check mode).
	Copy(ctx context.Context, src, dst string, check CheckMode) (int64, error)

	// Move renames one file, creating parent directories as needed.
	Move(ctx context.Context, src, dst string) error

	// MoveBatch moves the given root-relative paths from srcDir to dstDir in
	// one backend call, preserving relative layout.
	MoveBatch(ctx context.Context, srcDir, dstDir string, rels []string) error

	// Delete removes one file. Deleting a missing file is an error.
	Delete(ctx context.Context, path string) error

	// Hash returns the digest of path under the given normalized algorithm.
	Hash(ctx context.Context, path, algo string) (string, error)

	// Rmdirs removes dir and any empty directories beneath it. Directories
	// holding any entry are left alone; failures are reported, not fatal.
	Rmdirs(ctx context.Context, dir string) error

	// Capabilities resolves feature flags for the remote holding root.
	Capabilities(ctx context.Context, root string) (Capabilities, error)
}

// Join combines a backend root with a slash-relative path. Roots may be
// plain directories ("/data/a") or remote specs ("store:bucket/path").
func Join(root, rel string) string {
	if rel == "" {
		return root
	}

	if root == "" {
		return rel
	}

	if root[len(root)-1] == '/' || root[len(root)-1] == ':' {
		return root + rel
	}

	return root + "/" + rel
}
