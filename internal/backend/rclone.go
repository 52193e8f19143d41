package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/duplexsync/duplex/internal/snapshot"
)

// Exit codes the tool uses for "directory not found" and "file not found".
// Both are expected outcomes for stat-style probes, not failures.
const (
	exitDirNotFound  = 3
	exitFileNotFound = 4
)

// commandRunner executes one backend invocation and returns its stdout.
// The production runner is process-based; tests substitute a fake.
type commandRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// Rclone drives the external rclone binary. It is safe for concurrent use:
// each call spawns an independent process whose output streams are drained
// continuously, since an unconsumed pipe buffer can deadlock a blocking call
// under large error volumes.
type Rclone struct {
	runner  commandRunner
	flags   []string
	logger  *slog.Logger
	tempDir string

	version Version

	featMu   sync.Mutex
	features map[string]featureReport
}

// Option configures an Rclone driver.
type Option func(*Rclone)

// WithRunner substitutes the command runner (tests).
func WithRunner(r commandRunner) Option {
	return func(rc *Rclone) { rc.runner = r }
}

// WithFlags appends global flags passed to every invocation. Filtering flags
// are rejected at config validation, not here.
func WithFlags(flags ...string) Option {
	return func(rc *Rclone) { rc.flags = append(rc.flags, flags...) }
}

// NewRclone creates a driver for the given executable and verifies the tool
// version. A version below MinVersion is fatal; an unparseable version string
// degrades to zero (all version gates closed) with a warning.
func NewRclone(ctx context.Context, exe string, env map[string]string, logger *slog.Logger, opts ...Option) (*Rclone, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rc := &Rclone{
		logger:   logger,
		tempDir:  os.TempDir(),
		features: make(map[string]featureReport),
	}

	for _, opt := range opts {
		opt(rc)
	}

	if rc.runner == nil {
		rc.runner = &processRunner{exe: exe, env: env, logger: logger}
	}

	out, err := rc.runner.Run(ctx, "version")
	if err != nil {
		return nil, fmt.Errorf("backend: version probe: %w", err)
	}

	ver, perr := ParseVersion(out)
	if perr != nil {
		// Degrade: unknown version keeps every capability gate closed.
		logger.Warn("backend: cannot parse version, assuming conservative capabilities",
			"error", perr)
	} else if !ver.AtLeast(MinVersion) {
		return nil, fmt.Errorf("backend: rclone %s is older than minimum supported %s", ver, MinVersion)
	}

	rc.version = ver

	return rc, nil
}

// Version returns the parsed backend version (zero when unparseable).
func (rc *Rclone) Version() Version { return rc.version }

// List implements Transferer.
func (rc *Rclone) List(ctx context.Context, root string, withHashes bool) ([]snapshot.FileRecord, error) {
	args := []string{"lsjson", "-R", "--files-only", "--no-mimetype"}
	if withHashes {
		args = append(args, "--hash")
	}

	args = append(args, rc.flags...)
	args = append(args, root)

	out, err := rc.runner.Run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("backend: list %s: %w", root, err)
	}

	var items []lsjsonItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		return nil, fmt.Errorf("backend: parse listing of %s: %w", root, err)
	}

	records := make([]snapshot.FileRecord, 0, len(items))
	for i := range items {
		records = append(records, items[i].record())
	}

	return records, nil
}

// Stat implements Transferer. A missing file returns (nil, nil).
func (rc *Rclone) Stat(ctx context.Context, path string) (*snapshot.FileRecord, error) {
	args := append([]string{"lsjson", "--stat", "--no-mimetype"}, rc.flags...)
	args = append(args, path)

	out, err := rc.runner.Run(ctx, args...)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("backend: stat %s: %w", path, err)
	}

	var item lsjsonItem
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		return nil, fmt.Errorf("backend: parse stat of %s: %w", path, err)
	}

	rec := item.record()

	return &rec, nil
}

// Copy implements Transferer. The check mode maps onto the tool's own
// comparison flags so a retry never unconditionally re-transfers everything.
func (rc *Rclone) Copy(ctx context.Context, src, dst string, check CheckMode) (int64, error) {
	args := []string{"copyto", "-v", "--stats-one-line", "--log-format", ""}

	switch check {
	case CheckSizeOnly:
		args = append(args, "--size-only")
	case CheckChecksum:
		args = append(args, "--checksum")
	case CheckModTime:
		// Tool default comparison.
	}

	args = append(args, rc.flags...)
	args = append(args, src, dst)

	if _, err := rc.runner.Run(ctx, args...); err != nil {
		return 0, fmt.Errorf("backend: copy %s -> %s: %w", src, dst, err)
	}

	after, err := rc.Stat(ctx, dst)
	if err != nil || after == nil {
		// The copy itself succeeded; byte accounting is best-effort.
		return 0, nil
	}

	return after.Size, nil
}

// Move implements Transferer.
func (rc *Rclone) Move(ctx context.Context, src, dst string) error {
	args := []string{"moveto", "-v", "--stats-one-line", "--log-format", "", "--no-check-dest", "--no-traverse"}
	args = append(args, rc.flags...)
	args = append(args, src, dst)

	if _, err := rc.runner.Run(ctx, args...); err != nil {
		return fmt.Errorf("backend: move %s -> %s: %w", src, dst, err)
	}

	return nil
}

// MoveBatch implements Transferer. On versions with batched move support the
// whole group is one `move --files-from` call; older versions fall back to
// per-file moves.
func (rc *Rclone) MoveBatch(ctx context.Context, srcDir, dstDir string, rels []string) error {
	if len(rels) == 0 {
		return nil
	}

	if !gateOpen(capBatchedMoveFiles, rc.version) {
		for _, rel := range rels {
			if err := rc.Move(ctx, Join(srcDir, rel), Join(dstDir, rel)); err != nil {
				return err
			}
		}

		return nil
	}

	listFile, err := rc.writeFilesFrom(rels)
	if err != nil {
		return err
	}
	defer os.Remove(listFile)

	args := []string{
		"move", "-v", "--stats-one-line", "--log-format", "",
		"--no-check-dest", "--ignore-times", "--no-traverse",
		"--files-from", listFile,
	}
	args = append(args, rc.flags...)
	args = append(args, srcDir, dstDir)

	if _, err := rc.runner.Run(ctx, args...); err != nil {
		return fmt.Errorf("backend: batched move %s -> %s (%d files): %w", srcDir, dstDir, len(rels), err)
	}

	return nil
}

// Delete implements Transferer.
func (rc *Rclone) Delete(ctx context.Context, path string) error {
	args := append([]string{"deletefile"}, rc.flags...)
	args = append(args, path)

	if _, err := rc.runner.Run(ctx, args...); err != nil {
		return fmt.Errorf("backend: delete %s: %w", path, err)
	}

	return nil
}

// Hash implements Transferer.
func (rc *Rclone) Hash(ctx context.Context, path, algo string) (string, error) {
	args := append([]string{"lsjson", "--stat", "--hash", "--no-mimetype"}, rc.flags...)
	args = append(args, path)

	out, err := rc.runner.Run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("backend: hash %s: %w", path, err)
	}

	var item lsjsonItem
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		return "", fmt.Errorf("backend: parse hash of %s: %w", path, err)
	}

	digest := NormalizeHashes(item.Hashes)[NormalizeHashName(algo)]
	if digest == "" {
		return "", fmt.Errorf("backend: no %s hash reported for %s", algo, path)
	}

	return digest, nil
}

// Rmdirs implements Transferer. Failures here are acceptable: a directory
// holding anything simply stays, and under-deletion is the safe direction.
func (rc *Rclone) Rmdirs(ctx context.Context, dir string) error {
	args := []string{"rmdirs", "--retries", "1"}
	args = append(args, rc.flags...)
	args = append(args, dir)

	if _, err := rc.runner.Run(ctx, args...); err != nil {
		return fmt.Errorf("backend: rmdirs %s: %w", dir, err)
	}

	return nil
}

// featureReport is the relevant subset of `backend features` output.
type featureReport struct {
	Copy                    bool
	Move                    bool
	CanHaveEmptyDirectories bool
}

// Capabilities implements Transferer. Remote feature flags come from the
// tool's own feature report; version-dependent flags come from the gate table.
func (rc *Rclone) Capabilities(ctx context.Context, root string) (Capabilities, error) {
	feat, err := rc.featuresFor(ctx, root)
	if err != nil {
		return Capabilities{}, err
	}

	return Capabilities{
		ServerSideCopy:   feat.Copy,
		ServerSideMove:   feat.Move,
		OverlappingMoves: gateOpen(capOverlappingMoves, rc.version),
		EmptyDirs:        feat.CanHaveEmptyDirectories,
	}, nil
}

func (rc *Rclone) featuresFor(ctx context.Context, root string) (featureReport, error) {
	rc.featMu.Lock()
	cached, ok := rc.features[root]
	rc.featMu.Unlock()

	if ok {
		return cached, nil
	}

	args := append([]string{"backend", "features"}, rc.flags...)
	args = append(args, root)

	out, err := rc.runner.Run(ctx, args...)
	if err != nil {
		return featureReport{}, fmt.Errorf("backend: features of %s: %w", root, err)
	}

	var parsed struct {
		Features featureReport `json:"Features"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return featureReport{}, fmt.Errorf("backend: parse features of %s: %w", root, err)
	}

	rc.featMu.Lock()
	rc.features[root] = parsed.Features
	rc.featMu.Unlock()

	return parsed.Features, nil
}

func (rc *Rclone) writeFilesFrom(rels []string) (string, error) {
	f, err := os.CreateTemp(rc.tempDir, "duplex-files-from-*.txt")
	if err != nil {
		return "", fmt.Errorf("backend: create files-from list: %w", err)
	}

	if _, err := f.WriteString(strings.Join(rels, "\n") + "\n"); err != nil {
		f.Close()
		os.Remove(f.Name())

		return "", fmt.Errorf("backend: write files-from list: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("backend: close files-from list: %w", err)
	}

	return f.Name(), nil
}

// lsjsonItem is one entry of `lsjson` output.
type lsjsonItem struct {
	Path    string            `json:"Path"`
	Size    int64             `json:"Size"`
	IsDir   bool              `json:"IsDir"`
	ModTime string            `json:"ModTime"`
	Hashes  map[string]string `json:"Hashes"`
}

func (it *lsjsonItem) record() snapshot.FileRecord {
	rec := snapshot.FileRecord{
		Path:   filepath.ToSlash(it.Path),
		IsDir:  it.IsDir,
		Size:   it.Size,
		Hashes: NormalizeHashes(it.Hashes),
	}

	if it.ModTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, it.ModTime); err == nil {
			rec.ModTime = &t
		}
		// Unparseable mtimes degrade to absent; comparison falls back
		// accordingly rather than failing the listing.
	}

	return rec
}

// isNotFound reports whether err is the tool's "not found" exit status.
func isNotFound(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return code == exitDirNotFound || code == exitFileNotFound
	}

	return false
}

// processRunner launches the tool as a subprocess. Stdout is collected for
// parsing while stderr is streamed line by line into the log; both pipes are
// read concurrently so neither can fill and stall the child.
type processRunner struct {
	exe    string
	env    map[string]string
	logger *slog.Logger
}

func (pr *processRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, pr.exe, args...)

	cmd.Env = os.Environ()
	for k, v := range pr.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// Never let the tool stop to prompt inside a sync run.
	cmd.Env = append(cmd.Env, "RCLONE_ASK_PASSWORD=false")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("backend: stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("backend: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("backend: start %s: %w", pr.exe, err)
	}

	var (
		outBuf bytes.Buffer
		wg     sync.WaitGroup
	)

	wg.Add(2)

	go func() {
		defer wg.Done()

		_, _ = io.Copy(&outBuf, stdout)
	}()

	go func() {
		defer wg.Done()

		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				pr.logger.Debug("rclone", "line", line)
			}
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return outBuf.String(), err
	}

	return outBuf.String(), nil
}
