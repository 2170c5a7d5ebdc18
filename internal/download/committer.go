// Package download streams release assets to disk, verifies them against
// their expected digest and commits them with an atomic rename.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/3leaps/relmirror/internal/host"
	"github.com/3leaps/relmirror/internal/model"
	"github.com/3leaps/relmirror/internal/retry"
	"github.com/3leaps/relmirror/internal/verify"
)

const filePerm = 0o644

// Outcome is what Commit did with one asset.
type Outcome int

const (
	Skipped Outcome = iota
	Downloaded
	Planned
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Downloaded:
		return "downloaded"
	case Planned:
		return "planned"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Task describes one asset to materialise at Dest.
type Task struct {
	Repo     string
	Tag      string
	Asset    model.Asset
	Dest     string
	Expected model.ExpectedDigest
	ModTime  time.Time // release updated_at; zero leaves the download time
}

type Result struct {
	Outcome Outcome
	Path    string
	SHA256  string // empty when the file was skipped without hashing or planned
	Bytes   int64
}

// FilesystemError wraps permission, space and rename failures. It is never
// retried.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

type Committer struct {
	dryRun   bool
	retry    retry.Policy
	progress io.Writer
	log      *zap.SugaredLogger
}

type Option func(*Committer)

// WithDryRun makes Commit report Planned instead of downloading.
func WithDryRun(dryRun bool) Option {
	return func(c *Committer) { c.dryRun = dryRun }
}

func WithRetry(p retry.Policy) Option {
	return func(c *Committer) { c.retry = p }
}

// WithProgress draws a byte progress bar to w for each download; nil disables it.
func WithProgress(w io.Writer) Option {
	return func(c *Committer) { c.progress = w }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Committer) {
		if log != nil {
			c.log = log
		}
	}
}

func New(opts ...Option) *Committer {
	c := &Committer{retry: retry.Default(), log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Committer) DryRun() bool {
	return c.dryRun
}

// Commit makes Dest hold the verified asset content. An existing file is
// kept when it matches the expected digest (or no digest is known) and is
// reported as a mismatch otherwise; it is never overwritten.
func (c *Committer) Commit(ctx context.Context, p host.Provider, task Task) (Result, error) {
	log := c.log.With("repo", task.Repo, "tag", task.Tag, "asset", task.Asset.Name)

	info, err := os.Stat(task.Dest)
	switch {
	case err == nil:
		if !info.Mode().IsRegular() {
			return Result{}, &FilesystemError{Op: "stat", Path: task.Dest, Err: errors.New("not a regular file")}
		}
		return c.checkExisting(task, info, log)
	case !errors.Is(err, fs.ErrNotExist):
		return Result{}, &FilesystemError{Op: "stat", Path: task.Dest, Err: err}
	}

	if c.dryRun {
		log.Debugw("would download", "expected", task.Expected.String(), "source", task.Expected.Source)
		return Result{Outcome: Planned, Path: task.Dest}, nil
	}
	return c.download(ctx, p, task, log)
}

func (c *Committer) checkExisting(task Task, info fs.FileInfo, log *zap.SugaredLogger) (Result, error) {
	if !task.Expected.Known() {
		log.Debugw("present, no digest to check")
		return Result{Outcome: Skipped, Path: task.Dest, Bytes: info.Size()}, nil
	}
	actual, err := verify.HashFile(task.Dest)
	if err != nil {
		return Result{}, &FilesystemError{Op: "read", Path: task.Dest, Err: err}
	}
	if !task.Expected.Digest.Matches(actual) {
		return Result{}, c.mismatch(task, actual)
	}
	log.Debugw("present and verified", "sha256", actual)
	return Result{Outcome: Skipped, Path: task.Dest, SHA256: actual, Bytes: info.Size()}, nil
}

func (c *Committer) download(ctx context.Context, p host.Provider, task Task, log *zap.SugaredLogger) (res Result, err error) {
	dir := filepath.Dir(task.Dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(task.Dest)+".part-*")
	if err != nil {
		return Result{}, &FilesystemError{Op: "create", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	var sum string
	var written int64
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var ferr error
		sum, written, ferr = c.fetch(ctx, p, task, tmp)
		return ferr
	})
	if err != nil {
		return Result{}, host.Terminal(task.Asset.DownloadURL, err)
	}

	if err := tmp.Close(); err != nil {
		return Result{}, &FilesystemError{Op: "close", Path: tmpPath, Err: err}
	}
	if task.Expected.Known() && !task.Expected.Digest.Matches(sum) {
		return Result{}, c.mismatch(task, sum)
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return Result{}, &FilesystemError{Op: "chmod", Path: tmpPath, Err: err}
	}
	if !task.ModTime.IsZero() {
		if err := os.Chtimes(tmpPath, task.ModTime, task.ModTime); err != nil {
			return Result{}, &FilesystemError{Op: "chtimes", Path: tmpPath, Err: err}
		}
	}
	if err := os.Rename(tmpPath, task.Dest); err != nil {
		return Result{}, &FilesystemError{Op: "rename", Path: task.Dest, Err: err}
	}
	committed = true

	if task.Expected.Known() {
		log.Infow("downloaded and verified", "size", verify.FormatSize(written), "source", task.Expected.Source)
	} else {
		log.Infow("downloaded, no digest available", "size", verify.FormatSize(written), "sha256", sum)
	}
	return Result{Outcome: Downloaded, Path: task.Dest, SHA256: sum, Bytes: written}, nil
}

// fetch is one download attempt into tmp, which is rewound first so a retry
// never appends to a partial body.
func (c *Committer) fetch(ctx context.Context, p host.Provider, task Task, tmp *os.File) (string, int64, error) {
	if err := tmp.Truncate(0); err != nil {
		return "", 0, &FilesystemError{Op: "truncate", Path: tmp.Name(), Err: err}
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", 0, &FilesystemError{Op: "seek", Path: tmp.Name(), Err: err}
	}

	body, size, err := p.OpenAsset(ctx, task.Asset)
	if err != nil {
		return "", 0, err
	}
	defer body.Close()
	if size <= 0 {
		size = task.Asset.Size
	}

	fw := &fileWriter{f: tmp}
	hw := verify.NewHashingWriter(fw)
	var dst io.Writer = hw
	bar := c.newBar(task.Asset.Name, size)
	if bar != nil {
		dst = io.MultiWriter(hw, bar)
	}

	_, err = io.Copy(dst, body)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		if fw.err != nil {
			return "", 0, &FilesystemError{Op: "write", Path: tmp.Name(), Err: fw.err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", 0, ctxErr
		}
		return "", 0, &host.ConnError{URL: task.Asset.DownloadURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return hw.Sum(), hw.Written(), nil
}

func (c *Committer) newBar(name string, size int64) *progressbar.ProgressBar {
	if c.progress == nil || size <= 0 {
		return nil
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(c.progress),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

func (c *Committer) mismatch(task Task, actual string) error {
	return &verify.ChecksumMismatchError{
		Path:     task.Dest,
		Repo:     task.Repo,
		Tag:      task.Tag,
		Asset:    task.Asset.Name,
		Expected: task.Expected.Digest.Hex,
		Actual:   actual,
		Source:   task.Expected.Source,
	}
}

// fileWriter remembers the first write error so it can be told apart from
// a failing response body.
type fileWriter struct {
	f   *os.File
	err error
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}
