package mirror

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/relmirror/internal/model"
)

func writeFile(t *testing.T, path string, body []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPlanTags(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	complete := model.Release{Tag: "v1.0.0", Assets: []model.Asset{{Name: "a.tar.gz"}, {Name: "../skip"}}}
	partial := model.Release{Tag: "v1.1.0", Assets: []model.Asset{{Name: "a.tar.gz"}, {Name: "b.tar.gz"}}}
	empty := model.Release{Tag: "v0.9.0"}
	writeFile(t, filepath.Join(repoDir, "v1.0.0", "a.tar.gz"), []byte("a"))
	writeFile(t, filepath.Join(repoDir, "v1.1.0", "a.tar.gz"), []byte("a"))

	releases := []model.Release{
		{Tag: "v2.0.0", Draft: true},
		partial,
		complete,
		empty,
		{Tag: "../../etc"},
		{Tag: "latest"},
	}

	plan := PlanTags(repoDir, releases)
	if len(plan.Missing) != 2 || plan.Missing[0].Tag != "v1.1.0" || plan.Missing[1].Tag != "v0.9.0" {
		t.Fatalf("missing = %+v", plan.Missing)
	}
	if len(plan.Complete) != 1 || plan.Complete[0].Tag != "v1.0.0" {
		t.Fatalf("complete = %v", plan.Complete)
	}
	if len(plan.Drafts) != 1 || len(plan.Unsafe) != 2 {
		t.Fatalf("drafts = %v unsafe = %v", plan.Drafts, plan.Unsafe)
	}
}

func TestTagCompleteRequiresRegularFiles(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	rel := model.Release{Tag: "v1", Assets: []model.Asset{{Name: "a"}}}
	if TagComplete(repoDir, rel) {
		t.Fatal("absent tag dir reported complete")
	}
	if err := os.MkdirAll(filepath.Join(repoDir, "v1", "a"), 0o755); err != nil {
		t.Fatal(err)
	}
	if TagComplete(repoDir, rel) {
		t.Fatal("directory counted as asset file")
	}
}

func TestLatestCandidateTieBreaks(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	same := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, tag := range []string{"v1.9.0", "v1.10.0", "v2.0.0-beta.1"} {
		if err := os.MkdirAll(filepath.Join(repoDir, tag), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	releases := []model.Release{
		{Tag: "v1.9.0", UpdatedAt: same},
		{Tag: "v1.10.0", UpdatedAt: same},
		{Tag: "v2.0.0-beta.1", UpdatedAt: same.Add(time.Hour), Prerelease: true},
		{Tag: "v3.0.0", UpdatedAt: same.Add(2 * time.Hour)}, // not on disk
	}
	tag, ok := LatestCandidate(repoDir, releases)
	if !ok || tag != "v1.10.0" {
		t.Fatalf("LatestCandidate = %q, %v", tag, ok)
	}
}

func TestUpdateLatestLeavesNonSymlinkAlone(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repoDir, "v1"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(repoDir, LatestLink), []byte("pinned by hand"))

	tag, err := UpdateLatest(repoDir, []model.Release{{Tag: "v1"}}, false, nil)
	if err != nil || tag != "" {
		t.Fatalf("UpdateLatest = %q, %v", tag, err)
	}
	got, err := os.ReadFile(filepath.Join(repoDir, LatestLink))
	if err != nil || string(got) != "pinned by hand" {
		t.Fatalf("latest file changed: %q %v", got, err)
	}
}

func TestUpdateLatestReplacesStaleLink(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	for _, tag := range []string{"v1", "v2"} {
		if err := os.MkdirAll(filepath.Join(repoDir, tag), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink("v1", filepath.Join(repoDir, LatestLink)); err != nil {
		t.Fatal(err)
	}
	releases := []model.Release{{Tag: "v2", UpdatedAt: time.Unix(200, 0)}, {Tag: "v1", UpdatedAt: time.Unix(100, 0)}}

	tag, err := UpdateLatest(repoDir, releases, true, nil)
	if err != nil || tag != "v2" {
		t.Fatalf("dry-run UpdateLatest = %q, %v", tag, err)
	}
	if cur, _ := os.Readlink(filepath.Join(repoDir, LatestLink)); cur != "v1" {
		t.Fatalf("dry run moved latest to %q", cur)
	}

	if _, err := UpdateLatest(repoDir, releases, false, nil); err != nil {
		t.Fatal(err)
	}
	if cur, _ := os.Readlink(filepath.Join(repoDir, LatestLink)); cur != "v2" {
		t.Fatalf("latest = %q, want v2", cur)
	}
}

func TestUpdateLatestRemovesLinkWithoutCandidate(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repoDir, "v1"), 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(repoDir, LatestLink)
	if err := os.Symlink("v1", link); err != nil {
		t.Fatal(err)
	}
	// v1 was re-flagged as a prerelease upstream.
	releases := []model.Release{{Tag: "v1", Prerelease: true}}

	if _, err := UpdateLatest(repoDir, releases, true, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(link); err != nil {
		t.Fatalf("dry run removed latest: %v", err)
	}

	tag, err := UpdateLatest(repoDir, releases, false, nil)
	if err != nil || tag != "" {
		t.Fatalf("UpdateLatest = %q, %v", tag, err)
	}
	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Fatalf("stale latest still present: %v", err)
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "mirror")
	first, err := AcquireLock(base)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := AcquireLock(base); !errors.Is(err, ErrLocked) {
		t.Fatalf("second lock: got %v, want ErrLocked", err)
	}
	if err := first.Release(); err != nil {
		t.Fatal(err)
	}
	again, err := AcquireLock(base)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	_ = again.Release()
}

func TestReportRenderStructured(t *testing.T) {
	t.Parallel()

	report := &Report{
		DryRun:      true,
		APIRequests: 4,
		Repos: []*RepoResult{{
			Repo:    "github:acme/tool",
			State:   StateDone,
			Planned: 1,
			Tags:    []TagResult{{Tag: "v1", Assets: []AssetAction{{Name: "a", Action: "planned", Expected: "unknown", Source: "unknown"}}}},
		}},
	}

	var js bytes.Buffer
	if err := report.Render(&js, FormatJSON); err != nil {
		t.Fatal(err)
	}
	var decoded Report
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if decoded.APIRequests != 4 || decoded.Repos[0].Tags[0].Assets[0].Name != "a" {
		t.Fatalf("decoded = %+v", decoded)
	}

	var ys bytes.Buffer
	if err := report.Render(&ys, "YAML"); err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	if err := yaml.Unmarshal(ys.Bytes(), &generic); err != nil {
		t.Fatalf("yaml output: %v", err)
	}
	if generic["api_requests"] != 4 {
		t.Fatalf("yaml api_requests = %v", generic["api_requests"])
	}

	if err := report.Render(&bytes.Buffer{}, "xml"); err == nil {
		t.Fatal("unknown format accepted")
	}
}
