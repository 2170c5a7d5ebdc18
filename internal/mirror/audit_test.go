package mirror

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/relmirror/internal/model"
)

func TestAuditCleanMirror(t *testing.T) {
	t.Parallel()

	hub := newFakeHub(t, map[string][]fakeRelease{"acme/tool": {standardRelease("v1.0.0", day0)}})
	base := t.TempDir()
	_, err := newTestSyncer(t, hub, base, false).SyncRepo(context.Background(), ghTarget("acme/tool"))
	require.NoError(t, err)

	a := &Auditor{BaseDir: base, Log: zaptest.NewLogger(t).Sugar()}
	report, err := a.Audit(nil)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, 1, report.Repos)
	assert.Equal(t, 1, report.Tags)
	assert.Equal(t, 2, report.Verified)
	assert.Empty(t, report.Findings)
}

func TestAuditReportsProblems(t *testing.T) {
	t.Parallel()

	hub := newFakeHub(t, map[string][]fakeRelease{"acme/tool": {standardRelease("v1.0.0", day0)}})
	base := t.TempDir()
	_, err := newTestSyncer(t, hub, base, false).SyncRepo(context.Background(), ghTarget("acme/tool"))
	require.NoError(t, err)

	repoDir := filepath.Join(base, "GitHubReleases", "acme", "tool")
	tagDir := filepath.Join(repoDir, "v1.0.0")
	require.NoError(t, os.WriteFile(filepath.Join(tagDir, "tool-linux.tar.gz"), []byte("bit rot"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tagDir, ".tool-darwin.tar.gz.part-123"), []byte("half"), 0o600))
	require.NoError(t, os.Remove(filepath.Join(repoDir, LatestLink)))
	require.NoError(t, os.Symlink("v9.9.9", filepath.Join(repoDir, LatestLink)))

	a := &Auditor{BaseDir: base}
	report, err := a.Audit([]model.RepoTarget{{Platform: model.PlatformGitHub, Owner: "acme", Name: "tool"}})
	require.NoError(t, err)
	assert.True(t, report.Failed())
	assert.Equal(t, 1, report.Verified)

	kinds := map[string]int{}
	for _, f := range report.Findings {
		kinds[f.Kind]++
	}
	assert.Equal(t, map[string]int{FindingMismatch: 1, FindingStale: 1, FindingLatest: 1}, kinds)

	var out bytes.Buffer
	require.NoError(t, report.Render(&out, FormatText))
	assert.Contains(t, out.String(), "dangling link to v9.9.9")
	assert.Contains(t, out.String(), "findings: 3")
}

func TestAuditFlagsPrereleaseLatest(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	repoDir := filepath.Join(base, "GitHubReleases", "acme", "tool")
	writeFile(t, filepath.Join(repoDir, "v2.0.0-rc.1", "tool.tar.gz"), []byte("rc"))
	require.NoError(t, os.Symlink("v2.0.0-rc.1", filepath.Join(repoDir, LatestLink)))

	report, err := (&Auditor{BaseDir: base}).Audit(nil)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, 1, report.Unknown)
	require.Len(t, report.Findings, 1)
	assert.Contains(t, report.Findings[0].Detail, "prerelease")
}

func TestDiscoverRepos(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "GitHubReleases", "acme", "tool"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "GitLabReleases", "group", "proj"), 0o755))
	writeFile(t, filepath.Join(base, LockFileName), nil)

	got, err := DiscoverRepos(base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "acme/tool", got[0].FullName())
	assert.Equal(t, model.PlatformGitLab, got[1].Platform)
}
