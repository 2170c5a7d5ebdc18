package mirror

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gosuri/uitable"
	"go.uber.org/zap"

	"github.com/3leaps/relmirror/internal/model"
	"github.com/3leaps/relmirror/internal/verify"
)

// Finding is one problem the offline audit found.
type Finding struct {
	Repo   string `json:"repo" yaml:"repo"`
	Path   string `json:"path" yaml:"path"`
	Kind   string `json:"kind" yaml:"kind"`
	Detail string `json:"detail" yaml:"detail"`
}

const (
	FindingMismatch   = "mismatch"
	FindingStale      = "stale-temp-file"
	FindingLatest     = "latest"
	FindingConflict   = "sidecar-conflict"
	FindingUnreadable = "unreadable"
)

// AuditReport summarises a walk over an existing mirror tree.
type AuditReport struct {
	Repos    int       `json:"repos" yaml:"repos"`
	Tags     int       `json:"tags" yaml:"tags"`
	Verified int       `json:"verified" yaml:"verified"`
	Unknown  int       `json:"unknown" yaml:"unknown"`
	Findings []Finding `json:"findings,omitempty" yaml:"findings,omitempty"`
}

// Failed reports whether any file failed its digest check.
func (r *AuditReport) Failed() bool {
	for _, f := range r.Findings {
		if f.Kind == FindingMismatch || f.Kind == FindingUnreadable {
			return true
		}
	}
	return false
}

func (r *AuditReport) add(repo, path, kind, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Repo: repo, Path: path, Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

// Render writes the audit in the same formats as the sync report.
func (r *AuditReport) Render(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
	case FormatJSON, FormatYAML:
		return renderStructured(w, format, r)
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
	if len(r.Findings) > 0 {
		table := uitable.New()
		table.AddRow("KIND", "PATH", "DETAIL")
		for _, f := range r.Findings {
			table.AddRow(f.Kind, f.Path, f.Detail)
		}
		fmt.Fprintf(w, "%s\n\n", table)
	}
	_, err := fmt.Fprintf(w, "repos: %d, tags: %d, verified: %d, no digest: %d, findings: %d\n",
		r.Repos, r.Tags, r.Verified, r.Unknown, len(r.Findings))
	return err
}

// Auditor re-hashes an existing mirror without touching the network.
type Auditor struct {
	BaseDir string
	Policy  verify.ConflictPolicy
	Log     *zap.SugaredLogger
}

// Audit checks the given repositories, or every owner/repo directory under
// base_dir when targets is empty.
func (a *Auditor) Audit(targets []model.RepoTarget) (*AuditReport, error) {
	if a.Log == nil {
		a.Log = zap.NewNop().Sugar()
	}
	if len(targets) == 0 {
		found, err := DiscoverRepos(a.BaseDir)
		if err != nil {
			return nil, err
		}
		targets = found
	}

	report := &AuditReport{}
	for _, target := range targets {
		dir := target.LocalPath(a.BaseDir)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			a.Log.Debugw("repository not mirrored yet", "repo", target.String(), "path", dir)
			continue
		}
		report.Repos++
		if err := a.auditRepo(report, target.String(), dir); err != nil {
			return report, err
		}
	}
	return report, nil
}

// DiscoverRepos lists <platform>/<owner>/<repo> directories. GitLab
// subgroup repositories are only audited when named explicitly.
func DiscoverRepos(baseDir string) ([]model.RepoTarget, error) {
	var out []model.RepoTarget
	for _, platform := range []model.Platform{model.PlatformGitHub, model.PlatformGitLab} {
		root := filepath.Join(baseDir, platform.ReleasesDir())
		owners, err := os.ReadDir(root)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", root, err)
		}
		for _, owner := range owners {
			if !owner.IsDir() {
				continue
			}
			repos, err := os.ReadDir(filepath.Join(root, owner.Name()))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", filepath.Join(root, owner.Name()), err)
			}
			for _, repo := range repos {
				if repo.IsDir() {
					out = append(out, model.RepoTarget{Platform: platform, Owner: owner.Name(), Name: repo.Name()})
				}
			}
		}
	}
	return out, nil
}

func (a *Auditor) auditRepo(report *AuditReport, repo, dir string) error {
	tagFiles := make(map[string][]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".latest.tmp-") {
			report.add(repo, path, FindingStale, "leftover latest link")
			return nil
		}
		tagDir := filepath.Dir(path)
		if d.IsDir() || !d.Type().IsRegular() || tagDir == dir {
			return nil
		}
		tagFiles[tagDir] = append(tagFiles[tagDir], d.Name())
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}

	tagDirs := make([]string, 0, len(tagFiles))
	for tagDir := range tagFiles {
		tagDirs = append(tagDirs, tagDir)
	}
	sort.Strings(tagDirs)
	for _, tagDir := range tagDirs {
		report.Tags++
		a.auditTag(report, repo, tagDir, tagFiles[tagDir])
	}
	a.auditLatest(report, repo, dir)
	return nil
}

func (a *Auditor) auditTag(report *AuditReport, repo, tagDir string, names []string) {
	assets := make([]model.Asset, 0, len(names))
	for _, name := range names {
		assets = append(assets, model.Asset{Name: name})
	}

	resolver := verify.NewResolver(a.Policy)
	for _, sc := range verify.OrderSidecars(assets) {
		path := filepath.Join(tagDir, sc.Name)
		// #nosec G304 -- path is inside the mirror tree
		data, err := os.ReadFile(path)
		if err != nil {
			report.add(repo, path, FindingUnreadable, "%v", err)
			continue
		}
		if _, err := resolver.Add(sc.Name, data); err != nil {
			report.add(repo, path, FindingConflict, "%v", err)
		}
	}
	for _, c := range resolver.Conflicts() {
		report.add(repo, filepath.Join(tagDir, c.Filename), FindingConflict,
			"%s and %s disagree", c.Kept.Source, c.Dropped.Source)
	}

	for _, asset := range assets {
		path := filepath.Join(tagDir, asset.Name)
		if strings.HasPrefix(asset.Name, ".") && strings.Contains(asset.Name, ".part-") {
			report.add(repo, path, FindingStale, "interrupted download")
			continue
		}
		if verify.IsSidecar(asset.Name) {
			continue
		}
		expected := resolver.Expected(asset)
		if !expected.Known() {
			report.Unknown++
			continue
		}
		actual, err := verify.HashFile(path)
		if err != nil {
			report.add(repo, path, FindingUnreadable, "%v", err)
			continue
		}
		if !expected.Digest.Matches(actual) {
			report.add(repo, path, FindingMismatch, "expected %s (%s), got %s", expected.Digest.Hex, expected.Source, actual)
			a.Log.Errorw("checksum mismatch", "path", path, "expected", expected.Digest.Hex, "actual", actual)
			continue
		}
		report.Verified++
	}
}

func (a *Auditor) auditLatest(report *AuditReport, repo, dir string) {
	link := filepath.Join(dir, LatestLink)
	info, err := os.Lstat(link)
	if err != nil {
		return
	}
	if info.Mode()&os.ModeSymlink == 0 {
		report.add(repo, link, FindingLatest, "not a symlink")
		return
	}
	target, err := os.Readlink(link)
	if err != nil {
		report.add(repo, link, FindingLatest, "%v", err)
		return
	}
	if st, err := os.Stat(link); err != nil || !st.IsDir() {
		report.add(repo, link, FindingLatest, "dangling link to %s", target)
		return
	}
	if v, err := semver.NewVersion(filepath.ToSlash(target)); err == nil && v.Prerelease() != "" {
		report.add(repo, link, FindingLatest, "points at prerelease %s", target)
	}
}
