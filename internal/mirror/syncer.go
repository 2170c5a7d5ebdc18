// Package mirror drives the per-repository sync: list releases, work out
// which tags are missing, fetch sidecars, resolve digests, commit assets and
// move the latest link.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/3leaps/relmirror/internal/config"
	"github.com/3leaps/relmirror/internal/download"
	"github.com/3leaps/relmirror/internal/host"
	"github.com/3leaps/relmirror/internal/model"
	"github.com/3leaps/relmirror/internal/verify"
)

type Options struct {
	BaseDir        string
	DryRun         bool
	ConflictPolicy verify.ConflictPolicy
}

type Syncer struct {
	opts      Options
	providers ProviderSource
	committer *download.Committer
	log       *zap.SugaredLogger
}

// New builds a Syncer. The committer inherits the dry-run flag and logger;
// extra options (retry policy, progress output) are passed through.
func New(opts Options, providers ProviderSource, log *zap.SugaredLogger, commitOpts ...download.Option) *Syncer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = verify.LastWins
	}
	commitOpts = append(commitOpts, download.WithDryRun(opts.DryRun), download.WithLogger(log))
	return &Syncer{
		opts:      opts,
		providers: providers,
		committer: download.New(commitOpts...),
		log:       log,
	}
}

// repoRun is the state of one SyncRepo call.
type repoRun struct {
	target   config.Target
	provider host.Provider
	verifier *verify.Verifier
	dir      string
	result   *RepoResult
	log      *zap.SugaredLogger
}

func (r *repoRun) enter(s State) {
	r.result.State = s
	r.log.Debugw("state", "state", s)
}

// fail attaches tag and asset context unless err already carries it.
func (r *repoRun) fail(tag, asset string, err error) error {
	var re *RepoError
	if errors.As(err, &re) {
		return err
	}
	return &RepoError{Repo: r.result.Repo, Tag: tag, Asset: asset, Err: err}
}

// SyncAll syncs each target in order. A failing repository does not stop
// the others; all failures are returned together.
func (s *Syncer) SyncAll(ctx context.Context, targets []config.Target) (*Report, error) {
	report := &Report{DryRun: s.opts.DryRun}
	var errs *multierror.Error
	for _, target := range targets {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		res, err := s.SyncRepo(ctx, target)
		report.Repos = append(report.Repos, res)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if counter, ok := s.providers.(interface{ Requests() int64 }); ok {
		report.APIRequests = counter.Requests()
	}
	return report, errs.ErrorOrNil()
}

// SyncRepo mirrors one repository. The result is always non-nil and ends in
// StateDone or StateFailed.
func (s *Syncer) SyncRepo(ctx context.Context, target config.Target) (*RepoResult, error) {
	run := &repoRun{
		target: target,
		dir:    target.Repo.LocalPath(s.opts.BaseDir),
		log:    s.log.With("repo", target.Repo.String()),
	}
	run.result = &RepoResult{Repo: target.Repo.String(), Path: run.dir}

	if err := s.syncRepo(ctx, run); err != nil {
		var re *RepoError
		if !errors.As(err, &re) {
			err = &RepoError{Repo: run.result.Repo, Err: err}
		}
		run.result.State = StateFailed
		run.result.Error = err.Error()
		run.log.Errorw("sync failed", "err", err)
		return run.result, err
	}
	run.enter(StateDone)
	return run.result, nil
}

func (s *Syncer) syncRepo(ctx context.Context, run *repoRun) error {
	run.enter(StateListing)
	provider, err := s.providers.For(run.target.Repo)
	if err != nil {
		return err
	}
	run.provider = provider
	if run.verifier, err = verify.NewVerifier(run.target.Keys); err != nil {
		return err
	}

	run.log.Infow("listing releases")
	releases, err := host.ListAll(ctx, provider, run.target.Repo)
	if err != nil {
		return err
	}
	run.result.Releases = len(releases)

	run.enter(StatePlanning)
	plan := PlanTags(run.dir, releases)
	run.result.Complete = len(plan.Complete)
	for _, tag := range plan.Unsafe {
		run.result.warn("skipped release with unusable tag %q", tag)
	}
	run.log.Infow("planned", "releases", len(releases), "pending", len(plan.Missing),
		"complete", len(plan.Complete), "drafts", len(plan.Drafts))

	for _, rel := range plan.Complete {
		if err := s.recheckTag(run, rel); err != nil {
			return err
		}
	}

	for _, rel := range plan.Missing {
		if err := s.syncTag(ctx, run, rel); err != nil {
			return err
		}
	}

	run.enter(StateLatest)
	tag, err := UpdateLatest(run.dir, releases, s.opts.DryRun, run.log)
	if err != nil {
		return err
	}
	run.result.Latest = tag
	return nil
}

func (s *Syncer) syncTag(ctx context.Context, run *repoRun, rel model.Release) error {
	log := run.log.With("tag", rel.Tag)
	run.result.tag(rel.Tag, rel.Prerelease)
	tagErr := func(asset string, err error) error { return run.fail(rel.Tag, asset, err) }
	// Symlinks already in the tree must not lead writes outside the repo dir.
	tagDir, err := securejoin.SecureJoin(run.dir, rel.Tag)
	if err != nil {
		return tagErr("", &download.FilesystemError{Op: "resolve", Path: TagDir(run.dir, rel.Tag), Err: err})
	}

	if !s.opts.DryRun {
		if err := os.MkdirAll(tagDir, 0o755); err != nil {
			return tagErr("", &download.FilesystemError{Op: "mkdir", Path: tagDir, Err: err})
		}
	}

	run.enter(StateSidecars)
	resolver := verify.NewResolver(s.opts.ConflictPolicy)
	done := make(map[string]bool)
	for _, sc := range verify.OrderSidecars(rel.Assets) {
		if !model.SafeFilename(sc.Name) {
			continue
		}
		done[sc.Name] = true

		sig, format := run.verifier.FindSignature(sc.Name, rel.Assets)
		var sigRes download.Result
		if sig != nil {
			done[sig.Name] = true
			if sigRes, err = s.commit(ctx, run, rel, tagDir, *sig, providerDigest(*sig)); err != nil {
				return tagErr(sig.Name, err)
			}
		}
		// Sidecars are only ever checked against the provider's own digest.
		scRes, err := s.commit(ctx, run, rel, tagDir, sc, providerDigest(sc))
		if err != nil {
			return tagErr(sc.Name, err)
		}

		data, ok, err := readIfPresent(filepath.Join(tagDir, sc.Name))
		if err != nil {
			return tagErr(sc.Name, err)
		}
		if !ok {
			log.Debugw("sidecar not on disk yet, digests it covers stay unknown", "sidecar", sc.Name)
			continue
		}
		if sig != nil {
			if err := s.checkSignature(run, tagDir, sc.Name, *sig, format, data); err != nil {
				// An unverified sidecar must not make the tag look complete.
				discardDownloaded(log, scRes, sigRes)
				return tagErr(sc.Name, err)
			}
		}

		n, err := resolver.Add(sc.Name, data)
		if err != nil {
			return tagErr(sc.Name, err)
		}
		log.Debugw("parsed sidecar", "sidecar", sc.Name, "entries", n)
	}
	run.enter(StateResolving)
	for _, c := range resolver.Conflicts() {
		log.Warnw("sidecars disagree", "file", c.Filename, "kept", c.Kept.Source, "dropped", c.Dropped.Source)
		run.result.warn("%s %s: %s and %s disagree, using %s", rel.Tag, c.Filename, c.Kept.Source, c.Dropped.Source, c.Kept.Source)
	}

	run.enter(StateDownloading)
	for _, asset := range rel.Assets {
		if done[asset.Name] {
			continue
		}
		if !model.SafeFilename(asset.Name) {
			run.result.warn("%s: skipped asset with unusable name %q", rel.Tag, asset.Name)
			continue
		}
		if _, err := s.commit(ctx, run, rel, tagDir, asset, resolver.Expected(asset)); err != nil {
			return tagErr(asset.Name, err)
		}
	}
	return nil
}

func (s *Syncer) commit(ctx context.Context, run *repoRun, rel model.Release, tagDir string, asset model.Asset, expected model.ExpectedDigest) (download.Result, error) {
	dest, err := securejoin.SecureJoin(tagDir, asset.Name)
	if err != nil {
		return download.Result{}, &download.FilesystemError{Op: "resolve", Path: filepath.Join(tagDir, asset.Name), Err: err}
	}
	res, err := s.committer.Commit(ctx, run.provider, download.Task{
		Repo:     run.result.Repo,
		Tag:      rel.Tag,
		Asset:    asset,
		Dest:     dest,
		Expected: expected,
		ModTime:  rel.UpdatedAt,
	})
	if err != nil {
		return res, err
	}
	run.result.record(rel, asset, expected, res)
	return res, nil
}

// recheckTag hashes the files of a complete tag against the sidecars
// already on disk. Nothing is fetched or written.
func (s *Syncer) recheckTag(run *repoRun, rel model.Release) error {
	log := run.log.With("tag", rel.Tag)
	tagDir, err := securejoin.SecureJoin(run.dir, rel.Tag)
	if err != nil {
		return run.fail(rel.Tag, "", &download.FilesystemError{Op: "resolve", Path: TagDir(run.dir, rel.Tag), Err: err})
	}

	resolver := verify.NewResolver(s.opts.ConflictPolicy)
	done := make(map[string]bool)
	for _, sc := range verify.OrderSidecars(rel.Assets) {
		if !model.SafeFilename(sc.Name) {
			continue
		}
		done[sc.Name] = true
		path := filepath.Join(tagDir, sc.Name)
		if err := run.checkPresent(rel, path, sc, providerDigest(sc)); err != nil {
			return run.fail(rel.Tag, sc.Name, err)
		}
		data, ok, err := readIfPresent(path)
		if err != nil {
			return run.fail(rel.Tag, sc.Name, err)
		}
		if !ok {
			continue
		}
		if sig, format := run.verifier.FindSignature(sc.Name, rel.Assets); sig != nil {
			done[sig.Name] = true
			if err := s.checkSignature(run, tagDir, sc.Name, *sig, format, data); err != nil {
				return run.fail(rel.Tag, sc.Name, err)
			}
		}
		if _, err := resolver.Add(sc.Name, data); err != nil {
			return run.fail(rel.Tag, sc.Name, err)
		}
	}

	checked := 0
	for _, asset := range rel.Assets {
		if done[asset.Name] || !model.SafeFilename(asset.Name) {
			continue
		}
		expected := resolver.Expected(asset)
		if !expected.Known() {
			continue
		}
		if err := run.checkPresent(rel, filepath.Join(tagDir, asset.Name), asset, expected); err != nil {
			return run.fail(rel.Tag, asset.Name, err)
		}
		checked++
	}
	log.Debugw("existing files verified", "files", checked)
	return nil
}

// checkPresent hashes a file already in the mirror. Unknown digests pass.
func (r *repoRun) checkPresent(rel model.Release, path string, asset model.Asset, expected model.ExpectedDigest) error {
	if !expected.Known() {
		return nil
	}
	actual, err := verify.HashFile(path)
	if err != nil {
		return &download.FilesystemError{Op: "read", Path: path, Err: err}
	}
	if !expected.Digest.Matches(actual) {
		r.log.Errorw("checksum mismatch on existing file", "tag", rel.Tag, "asset", asset.Name,
			"expected", expected.Digest.Hex, "actual", actual, "source", expected.Source)
		return &verify.ChecksumMismatchError{
			Path:     path,
			Repo:     r.result.Repo,
			Tag:      rel.Tag,
			Asset:    asset.Name,
			Expected: expected.Digest.Hex,
			Actual:   actual,
			Source:   expected.Source,
		}
	}
	return nil
}

// discardDownloaded removes files that were written by this run.
func discardDownloaded(log *zap.SugaredLogger, results ...download.Result) {
	for _, res := range results {
		if res.Outcome != download.Downloaded {
			continue
		}
		if err := os.Remove(res.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warnw("remove unverified file", "path", res.Path, "err", err)
		}
	}
}

func (s *Syncer) checkSignature(run *repoRun, tagDir, sidecar string, sig model.Asset, format string, data []byte) error {
	sigData, ok, err := readIfPresent(filepath.Join(tagDir, sig.Name))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := run.verifier.Verify(format, data, sigData); err != nil {
		return &verify.SignatureError{Sidecar: sidecar, Signature: sig.Name, Format: format, Err: err}
	}
	run.log.Infow("sidecar signature verified", "sidecar", sidecar, "format", format)
	return nil
}

func providerDigest(a model.Asset) model.ExpectedDigest {
	if a.Digest != nil {
		return model.ExpectedDigest{Digest: a.Digest, Source: model.SourceAPI}
	}
	return model.Unknown()
}

func readIfPresent(path string) ([]byte, bool, error) {
	ok, err := fileExists(path)
	if err != nil || !ok {
		if err != nil {
			err = &download.FilesystemError{Op: "stat", Path: path, Err: err}
		}
		return nil, false, err
	}
	// #nosec G304 -- path is inside the mirror tree
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, &download.FilesystemError{Op: "read", Path: path, Err: fmt.Errorf("read sidecar: %w", err)}
	}
	return data, true, nil
}
