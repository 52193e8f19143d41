package engine

import (
	"context"
	"fmt"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/config"
	"github.com/duplexsync/duplex/internal/snapshot"
)

// errVerifyFailed marks a destination that still mismatches after the strict
// re-transfer. The item stays failed; the run continues.
var errVerifyFailed = fmt.Errorf("destination differs from source after re-transfer")

// strictCheck maps the configured comparison to the backend check mode used
// for the second-pass re-transfer.
func strictCheck(mode string) backend.CheckMode {
	switch mode {
	case config.CompareHash:
		return backend.CheckChecksum
	case config.CompareSize:
		return backend.CheckSizeOnly
	default:
		return backend.CheckModTime
	}
}

// verifyAndRepair checks one copied destination under the configured
// comparison. On mismatch it re-transfers once with strict checking and
// verifies again; a second mismatch is terminal for the item.
func (e *Executor) verifyAndRepair(ctx context.Context, a Action) error {
	ok, err := e.verifyCopy(ctx, a)
	if err != nil {
		return err
	}

	if ok {
		return nil
	}

	e.logger.Warn("verification mismatch, re-transferring", "side", a.Side, "path", a.Path)
	e.stats.AddRetransfer()

	n, err := e.be.Copy(ctx, e.copySrc(a), e.copyDst(a), strictCheck(e.compare.Mode))
	if err != nil {
		return err
	}

	e.stats.AddCopied(n)

	ok, err = e.verifyCopy(ctx, a)
	if err != nil {
		return err
	}

	if !ok {
		return errVerifyFailed
	}

	return nil
}

// verifyCopy compares the destination against the source record.
func (e *Executor) verifyCopy(ctx context.Context, a Action) (bool, error) {
	dst := e.copyDst(a)

	rec, err := e.be.Stat(ctx, dst)
	if err != nil {
		return false, err
	}

	if rec == nil {
		return false, nil
	}

	switch e.compare.Mode {
	case config.CompareHash:
		return e.verifyHash(ctx, dst, rec, a.Record)
	case config.CompareMtime:
		return mtimeEqual(a.Record, rec, e.compare.Tolerance), nil
	default:
		return sizeEqual(a.Record, rec), nil
	}
}

func (e *Executor) verifyHash(ctx context.Context, dst string, got, want *snapshot.FileRecord) (bool, error) {
	algo := e.compare.HashName
	if algo == "" {
		algos := want.HashAlgos()
		if len(algos) == 0 {
			// Source has no digest to verify against; fall back to size.
			return sizeEqual(want, got), nil
		}

		algo = algos[0]
	}

	wantDigest := want.Hash(algo)
	if wantDigest == "" {
		return sizeEqual(want, got), nil
	}

	gotDigest := got.Hash(algo)
	if gotDigest == "" {
		gotDigest, _ = e.be.Hash(ctx, dst, algo)
	}

	if gotDigest == "" {
		// Destination remote cannot produce this digest. Size is the best
		// remaining signal.
		return sizeEqual(want, got), nil
	}

	return gotDigest == wantDigest, nil
}
