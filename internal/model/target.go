package model

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Platform identifies the upstream API flavour of a repository.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGitLab Platform = "gitlab"
)

const DefaultGitLabBaseURL = "https://gitlab.com"

// ReleasesDir is the top-level mirror directory for the platform.
func (p Platform) ReleasesDir() string {
	switch p {
	case PlatformGitLab:
		return "GitLabReleases"
	default:
		return "GitHubReleases"
	}
}

// RepoTarget uniquely identifies one upstream repository.
type RepoTarget struct {
	Platform Platform
	BaseURL  string // GitLab instance root; empty for GitHub
	Owner    string // may contain "/" for GitLab subgroups
	Name     string
}

func (t RepoTarget) FullName() string {
	return t.Owner + "/" + t.Name
}

func (t RepoTarget) String() string {
	if t.Platform == PlatformGitLab && t.BaseURL != "" && t.BaseURL != DefaultGitLabBaseURL {
		return fmt.Sprintf("%s:%s (%s)", t.Platform, t.FullName(), t.BaseURL)
	}
	return fmt.Sprintf("%s:%s", t.Platform, t.FullName())
}

// LocalPath is base_dir/<PlatformReleases>/<owner>/<repo>.
func (t RepoTarget) LocalPath(baseDir string) string {
	return filepath.Join(baseDir, t.Platform.ReleasesDir(), filepath.FromSlash(t.Owner), t.Name)
}

// ParseRepoTarget accepts a full GitHub/GitLab URL, a self-hosted GitLab URL,
// a bare owner/repo (GitHub), or a gh:/gl: prefixed owner/repo.
func ParseRepoTarget(raw string) (RepoTarget, error) {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case s == "":
		return RepoTarget{}, fmt.Errorf("invalid repository url: empty")
	case strings.HasPrefix(s, "gh:"):
		return parseRepoPath(s[3:], PlatformGitHub, "")
	case strings.HasPrefix(s, "gl:"):
		return parseRepoPath(s[3:], PlatformGitLab, DefaultGitLabBaseURL)
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		u, err := url.Parse(s)
		if err != nil {
			return RepoTarget{}, fmt.Errorf("invalid repository url %q: %w", raw, err)
		}
		if u.Host == "" {
			return RepoTarget{}, fmt.Errorf("invalid repository url %q: missing host", raw)
		}
		host := strings.ToLower(u.Host)
		repoPath := strings.TrimPrefix(u.Path, "/")
		if host == "github.com" || host == "www.github.com" {
			return parseRepoPath(repoPath, PlatformGitHub, "")
		}
		// Any other host is treated as a (possibly self-hosted) GitLab instance.
		return parseRepoPath(repoPath, PlatformGitLab, u.Scheme+"://"+u.Host)
	case strings.Contains(s, "/") && !strings.Contains(s, ":"):
		return parseRepoPath(s, PlatformGitHub, "")
	}
	return RepoTarget{}, fmt.Errorf("invalid repository url: %s", raw)
}

func parseRepoPath(p string, platform Platform, baseURL string) (RepoTarget, error) {
	p = strings.TrimSuffix(strings.Trim(p, "/"), ".git")
	if strings.Contains(p, "/-/") {
		// GitLab UI paths such as group/repo/-/releases
		p = p[:strings.Index(p, "/-/")]
	}
	parts := strings.Split(p, "/")
	if len(parts) < 2 {
		return RepoTarget{}, fmt.Errorf("invalid repository path: %s", p)
	}
	if platform == PlatformGitHub {
		// github.com/owner/repo/releases/... still names owner/repo
		parts = parts[:2]
	}
	for _, part := range parts {
		if !safeSegment(part) {
			return RepoTarget{}, fmt.Errorf("invalid repository path: %s", p)
		}
	}
	return RepoTarget{
		Platform: platform,
		BaseURL:  baseURL,
		Owner:    strings.Join(parts[:len(parts)-1], "/"),
		Name:     parts[len(parts)-1],
	}, nil
}

// SafeFilename reports whether name can be used verbatim as a single path
// element inside a tag directory.
func SafeFilename(name string) bool {
	return safeSegment(name) && !strings.ContainsAny(name, `/\`)
}

// SafeTag reports whether a tag can be used as a (possibly nested) directory
// name below the repository directory without escaping it or colliding with
// the latest link.
func SafeTag(tag string) bool {
	if tag == "" || tag == "latest" || strings.ContainsAny(tag, "\\\x00") {
		return false
	}
	if path.Clean(tag) != tag || path.IsAbs(tag) {
		return false
	}
	for _, seg := range strings.Split(tag, "/") {
		if !safeSegment(seg) || strings.HasPrefix(seg, ".") {
			return false
		}
	}
	return true
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsRune(s, 0)
}
