package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/3leaps/relmirror/internal/verify"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	for _, args := range [][]string{{"version"}, {"--version"}} {
		code, out, _ := runCLI(t, args...)
		if code != 0 || out != "relmirror dev\n" {
			t.Fatalf("%v: code=%d out=%q", args, code, out)
		}
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no source", nil, "either --config or --repo"},
		{"repo without base dir", []string{"--repo", "acme/tool"}, "--base-dir is required"},
		{"bad output", []string{"--repo", "acme/tool", "--base-dir", "x", "--output", "xml"}, "unknown output format"},
		{"bad policy", []string{"--repo", "acme/tool", "--base-dir", "x", "--conflict-policy", "newest"}, "conflict"},
		{"bad repo", []string{"--repo", "not-a-repo", "--base-dir", "x"}, "invalid repository"},
		{"missing config", []string{"-c", "/nonexistent/relmirror.toml"}, "read config"},
		{"unknown flag", []string{"--tag", "v1"}, "unknown flag"},
		{"stray argument", []string{"sync", "extra"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			if code != 1 {
				t.Fatalf("exit code %d, want 1", code)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Fatalf("stderr %q does not mention %q", stderr, tt.want)
			}
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relmirror.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSettingsFlagsOverrideConfig(t *testing.T) {
	t.Setenv("RELMIRROR_GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("RELMIRROR_GITLAB_TOKEN", "from-env")

	path := writeConfig(t, `
base_dir = "/srv/mirror"
proxy = "proxy.internal:3128"
github_token = "file-token"
gitlab_token = "file-gitlab"
conflict_policy = "first-wins"
urls = ["acme/tool", "https://gitlab.com/group/sub/proj"]

[[repos]]
url = "acme/signed"
minisign_key = "RWQf6LRCGA9i53mlYecO4IzT51TGPpvWucNSCh1CBM0QTaLn73Y7GFO3"
`)

	st, err := loadSettings(&commonOptions{configPath: path}, &syncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if st.BaseDir != "/srv/mirror" || st.Proxy != "proxy.internal:3128" {
		t.Fatalf("settings = %+v", st)
	}
	if st.GitHubToken != "file-token" || st.GitLabToken != "from-env" {
		t.Fatalf("tokens: github=%q gitlab=%q", st.GitHubToken, st.GitLabToken)
	}
	if st.Policy != verify.FirstWins || len(st.Targets) != 3 {
		t.Fatalf("policy=%q targets=%d", st.Policy, len(st.Targets))
	}

	st, err = loadSettings(&commonOptions{
		configPath:     path,
		baseDir:        "/tmp/other",
		repos:          []string{"gh:acme/signed", "acme/signed"},
		conflictPolicy: "error",
	}, &syncOptions{token: "flag-token", proxy: "10.0.0.1:8080"})
	if err != nil {
		t.Fatal(err)
	}
	if st.BaseDir != "/tmp/other" || st.Proxy != "10.0.0.1:8080" || st.GitHubToken != "flag-token" {
		t.Fatalf("overrides not applied: %+v", st)
	}
	if st.Policy != verify.FailConflict {
		t.Fatalf("policy = %q", st.Policy)
	}
	if len(st.Targets) != 1 || st.Targets[0].Keys.Minisign == "" {
		t.Fatalf("--repo should select the configured repo with its key: %+v", st.Targets)
	}
}

func TestLoadSettingsVerifyNeedsOnlyBaseDir(t *testing.T) {
	st, err := loadSettings(&commonOptions{baseDir: "/srv/mirror"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Targets) != 0 {
		t.Fatalf("targets = %v", st.Targets)
	}
}

func TestLoadSettingsKeepsValidTargetsNextToBadOnes(t *testing.T) {
	path := writeConfig(t, `
base_dir = "/srv/mirror"
urls = ["acme/tool", "not a repo"]
`)
	st, err := loadSettings(&commonOptions{configPath: path}, &syncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Targets) != 1 || st.Targets[0].Repo.FullName() != "acme/tool" {
		t.Fatalf("targets = %+v", st.Targets)
	}
	if st.TargetErrs == nil || !strings.Contains(st.TargetErrs.Error(), "not a repo") {
		t.Fatalf("target errors = %v", st.TargetErrs)
	}
}
