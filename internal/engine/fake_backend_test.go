package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/duplexsync/duplex/internal/backend"
	"github.com/duplexsync/duplex/internal/snapshot"
)

// fakeBackend is an in-memory Transferer. Files are keyed by full backend
// path ("/a/docs/one.txt").
type fakeBackend struct {
	mu    sync.Mutex
	files map[string]*snapshot.FileRecord
	caps  backend.Capabilities

	// failCopies makes Copy to the given destination fail N times.
	failCopies map[string]int
	// corruptNext makes the next size-only Copy to the destination land
	// with a wrong size, as a short write would.
	corruptNext map[string]bool
	// listDelay stretches every List call, standing in for a slow remote.
	listDelay time.Duration

	rmdirCalls []string
	moveCalls  int
	batchCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		files: make(map[string]*snapshot.FileRecord),
		caps: backend.Capabilities{
			ServerSideCopy:   true,
			ServerSideMove:   true,
			OverlappingMoves: true,
			EmptyDirs:        true,
		},
		failCopies:  make(map[string]int),
		corruptNext: make(map[string]bool),
	}
}

func (f *fakeBackend) List(_ context.Context, root string, withHashes bool) ([]snapshot.FileRecord, error) {
	if f.listDelay > 0 {
		time.Sleep(f.listDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := root + "/"

	var out []snapshot.FileRecord

	for full, rec := range f.files {
		if !strings.HasPrefix(full, prefix) {
			continue
		}

		r := rec.Clone()
		r.Path = strings.TrimPrefix(full, prefix)

		if !withHashes {
			r.Hashes = nil
		}

		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

func (f *fakeBackend) Stat(_ context.Context, path string) (*snapshot.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.files[path]
	if !ok {
		return nil, nil
	}

	return rec.Clone(), nil
}

func (f *fakeBackend) Copy(_ context.Context, src, dst string, check backend.CheckMode) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCopies[dst] > 0 {
		f.failCopies[dst]--
		return 0, errors.New("simulated transfer failure")
	}

	var rec *snapshot.FileRecord

	if existing, ok := f.files[src]; ok {
		rec = existing.Clone()
	} else {
		// Uploading a path outside the store, e.g. a local lock payload.
		rec = &snapshot.FileRecord{Size: 1}
	}

	rec.Path = dst

	if f.corruptNext[dst] && check == backend.CheckSizeOnly {
		delete(f.corruptNext, dst)
		rec.Size++
		rec.Hashes = nil
	}

	f.files[dst] = rec

	return rec.Size, nil
}

func (f *fakeBackend) Move(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.moveCalls++

	rec, ok := f.files[src]
	if !ok {
		return errors.New("move: source not found: " + src)
	}

	delete(f.files, src)
	rec.Path = dst
	f.files[dst] = rec

	return nil
}

func (f *fakeBackend) MoveBatch(ctx context.Context, srcDir, dstDir string, rels []string) error {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()

	for _, rel := range rels {
		if err := f.Move(ctx, srcDir+"/"+rel, dstDir+"/"+rel); err != nil {
			return err
		}
	}

	return nil
}

func (f *fakeBackend) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.files[path]; !ok {
		return errors.New("delete: not found: " + path)
	}

	delete(f.files, path)

	return nil
}

func (f *fakeBackend) Hash(_ context.Context, path, algo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.files[path]
	if !ok {
		return "", errors.New("hash: not found: " + path)
	}

	return rec.Hash(algo), nil
}

func (f *fakeBackend) Rmdirs(_ context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rmdirCalls = append(f.rmdirCalls, dir)

	return nil
}

func (f *fakeBackend) Capabilities(context.Context, string) (backend.Capabilities, error) {
	return f.caps, nil
}
