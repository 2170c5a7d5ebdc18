package mirror

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gosuri/uitable"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/relmirror/internal/download"
	"github.com/3leaps/relmirror/internal/model"
)

// State is a step of one repository's sync.
type State string

const (
	StateListing     State = "listing-releases"
	StatePlanning    State = "planning-tags"
	StateSidecars    State = "fetching-sidecars"
	StateResolving   State = "resolving-digests"
	StateDownloading State = "downloading-assets"
	StateLatest      State = "updating-latest"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

type AssetAction struct {
	Name     string `json:"name" yaml:"name"`
	Action   string `json:"action" yaml:"action"`
	Size     int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Expected string `json:"expected" yaml:"expected"`
	Source   string `json:"source" yaml:"source"`
}

type TagResult struct {
	Tag        string        `json:"tag" yaml:"tag"`
	Prerelease bool          `json:"prerelease,omitempty" yaml:"prerelease,omitempty"`
	Assets     []AssetAction `json:"assets" yaml:"assets"`
}

// RepoResult is what one SyncRepo call did (or would do, in dry-run).
type RepoResult struct {
	Repo       string      `json:"repo" yaml:"repo"`
	Path       string      `json:"path" yaml:"path"`
	State      State       `json:"state" yaml:"state"`
	Releases   int         `json:"releases" yaml:"releases"`
	Complete   int         `json:"complete_tags" yaml:"complete_tags"`
	Tags       []TagResult `json:"tags,omitempty" yaml:"tags,omitempty"`
	Downloaded int         `json:"downloaded" yaml:"downloaded"`
	Skipped    int         `json:"skipped" yaml:"skipped"`
	Planned    int         `json:"planned" yaml:"planned"`
	Latest     string      `json:"latest,omitempty" yaml:"latest,omitempty"`
	Warnings   []string    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r *RepoResult) tag(name string, prerelease bool) *TagResult {
	if n := len(r.Tags); n > 0 && r.Tags[n-1].Tag == name {
		return &r.Tags[n-1]
	}
	r.Tags = append(r.Tags, TagResult{Tag: name, Prerelease: prerelease})
	return &r.Tags[len(r.Tags)-1]
}

func (r *RepoResult) record(rel model.Release, asset model.Asset, expected model.ExpectedDigest, res download.Result) {
	t := r.tag(rel.Tag, rel.Prerelease)
	t.Assets = append(t.Assets, AssetAction{
		Name:     asset.Name,
		Action:   res.Outcome.String(),
		Size:     asset.Size,
		Expected: expected.String(),
		Source:   expected.Source,
	})
	switch res.Outcome {
	case download.Downloaded:
		r.Downloaded++
	case download.Skipped:
		r.Skipped++
	case download.Planned:
		r.Planned++
	}
}

func (r *RepoResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Report aggregates a whole run.
type Report struct {
	DryRun      bool          `json:"dry_run" yaml:"dry_run"`
	Repos       []*RepoResult `json:"repos" yaml:"repos"`
	APIRequests int64         `json:"api_requests" yaml:"api_requests"`
}

func (r *Report) Failed() bool {
	for _, repo := range r.Repos {
		if repo.State == StateFailed {
			return true
		}
	}
	return false
}

func (r *Report) totals() (downloaded, skipped, planned, failed int) {
	for _, repo := range r.Repos {
		downloaded += repo.Downloaded
		skipped += repo.Skipped
		planned += repo.Planned
		if repo.State == StateFailed {
			failed++
		}
	}
	return
}

// Render writes the report as text, json or yaml.
func (r *Report) Render(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		return r.renderText(w)
	case FormatJSON, FormatYAML:
		return renderStructured(w, format, r)
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func renderStructured(w io.Writer, format string, v any) error {
	if strings.EqualFold(format, FormatJSON) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Report) renderText(w io.Writer) error {
	table := uitable.New()
	table.AddRow("REPO", "STATE", "RELEASES", "PENDING TAGS", "DOWNLOADED", "SKIPPED", "PLANNED", "LATEST")
	for _, repo := range r.Repos {
		latest := repo.Latest
		if latest == "" {
			latest = "-"
		}
		table.AddRow(repo.Repo, repo.State, repo.Releases, len(repo.Tags), repo.Downloaded, repo.Skipped, repo.Planned, latest)
	}
	fmt.Fprintln(w, table)

	if r.DryRun {
		for _, repo := range r.Repos {
			for _, tag := range repo.Tags {
				fmt.Fprintf(w, "\n%s %s\n", repo.Repo, tag.Tag)
				if len(tag.Assets) == 0 {
					continue
				}
				assets := uitable.New()
				for _, a := range tag.Assets {
					assets.AddRow(" ", a.Action, a.Name, a.Source, shortDigest(a.Expected))
				}
				fmt.Fprintln(w, assets)
			}
		}
	}

	for _, repo := range r.Repos {
		for _, warning := range repo.Warnings {
			fmt.Fprintf(w, "warning: %s: %s\n", repo.Repo, warning)
		}
		if repo.Error != "" {
			fmt.Fprintf(w, "error: %s\n", repo.Error)
		}
	}

	downloaded, skipped, planned, failed := r.totals()
	_, err := fmt.Fprintf(w, "\napi requests: %d, downloaded: %d, skipped: %d, planned: %d, failed repos: %d\n",
		r.APIRequests, downloaded, skipped, planned, failed)
	return err
}

func shortDigest(hexValue string) string {
	if len(hexValue) > 16 {
		return hexValue[:16] + "..."
	}
	return hexValue
}
