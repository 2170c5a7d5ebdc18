package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/relmirror/internal/host"
	"github.com/3leaps/relmirror/internal/model"
)

const (
	DefaultAPIBase = "https://api.github.com"
	perPage        = 100
)

var linkNextRe = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="next"`)

func TokenFromEnv() string {
	if tok := strings.TrimSpace(os.Getenv("RELMIRROR_GITHUB_TOKEN")); tok != "" {
		return tok
	}
	return strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
}

// APIBaseFromEnv honours RELMIRROR_GITHUB_API (used by tests and GHES).
func APIBaseFromEnv() string {
	base := strings.TrimSpace(os.Getenv("RELMIRROR_GITHUB_API"))
	if base == "" {
		return DefaultAPIBase
	}
	return strings.TrimRight(base, "/")
}

func UserAgent(version string) string {
	return fmt.Sprintf("relmirror/%s", version)
}

// Client lists releases through the GitHub REST API.
type Client struct {
	transport *host.Transport
	apiBase   string
	token     string
	perPage   int
}

type Option func(*Client)

func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithPerPage(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.perPage = n
		}
	}
}

func New(t *host.Transport, opts ...Option) *Client {
	c := &Client{transport: t, apiBase: DefaultAPIBase, perPage: perPage}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ host.Provider = (*Client)(nil)

type releasePayload struct {
	TagName     string         `json:"tag_name"`
	Name        string         `json:"name"`
	Draft       bool           `json:"draft"`
	Prerelease  bool           `json:"prerelease"`
	CreatedAt   *time.Time     `json:"created_at"`
	PublishedAt *time.Time     `json:"published_at"`
	Assets      []assetPayload `json:"assets"`
}

type assetPayload struct {
	Name               string    `json:"name"`
	BrowserDownloadURL string    `json:"browser_download_url"`
	Size               int64     `json:"size"`
	Digest             string    `json:"digest"` // "sha256:<hex>" on recent releases only
	UpdatedAt          time.Time `json:"updated_at"`
}

func (c *Client) ListReleases(ctx context.Context, target model.RepoTarget, cursor string) ([]model.Release, string, error) {
	pageURL := cursor
	if pageURL == "" {
		pageURL = fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d&page=1",
			c.apiBase, url.PathEscape(target.Owner), url.PathEscape(target.Name), c.perPage)
	}

	var payload []releasePayload
	hdr, err := c.transport.GetJSON(ctx, pageURL, c.headers("application/vnd.github+json"), &payload)
	if err != nil {
		return nil, "", fmt.Errorf("list releases for %s: %w", target.FullName(), err)
	}

	releases := make([]model.Release, 0, len(payload))
	for _, p := range payload {
		rel, err := p.toModel()
		if err != nil {
			return nil, "", &host.ProviderError{URL: pageURL, Parse: true, Err: err}
		}
		releases = append(releases, rel)
	}

	return releases, c.nextPage(pageURL, hdr, len(payload)), nil
}

func (c *Client) OpenAsset(ctx context.Context, asset model.Asset) (io.ReadCloser, int64, error) {
	hdr := http.Header{}
	hdr.Set("Accept", "application/octet-stream")
	if c.token != "" && c.isGitHubURL(asset.DownloadURL) {
		hdr.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.transport.Do(ctx, asset.DownloadURL, hdr)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *Client) RateLimit(h string) (int, time.Time, bool) {
	return c.transport.RateLimit(h)
}

func (c *Client) headers(accept string) http.Header {
	hdr := http.Header{}
	hdr.Set("Accept", accept)
	hdr.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		hdr.Set("Authorization", "Bearer "+c.token)
	}
	return hdr
}

// nextPage prefers the Link header and falls back to "a full page means
// there may be another one".
func (c *Client) nextPage(current string, hdr http.Header, n int) string {
	if m := linkNextRe.FindStringSubmatch(hdr.Get("Link")); m != nil {
		return m[1]
	}
	if hdr.Get("Link") != "" || n < c.perPage {
		return ""
	}
	u, err := url.Parse(current)
	if err != nil {
		return ""
	}
	q := u.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	q.Set("page", strconv.Itoa(page+1))
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) isGitHubURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	apiURL, _ := url.Parse(c.apiBase)
	h := strings.ToLower(u.Hostname())
	return h == "github.com" || strings.HasSuffix(h, ".github.com") || (apiURL != nil && h == strings.ToLower(apiURL.Hostname()))
}

func (p releasePayload) toModel() (model.Release, error) {
	if p.TagName == "" {
		return model.Release{}, fmt.Errorf("release without tag_name")
	}
	rel := model.Release{
		Tag:        p.TagName,
		Name:       p.Name,
		Draft:      p.Draft,
		Prerelease: p.Prerelease,
	}
	switch {
	case p.PublishedAt != nil:
		rel.UpdatedAt = *p.PublishedAt
	case p.CreatedAt != nil:
		rel.UpdatedAt = *p.CreatedAt
	}
	if rel.Name == "" {
		rel.Name = p.TagName
	}
	for _, a := range p.Assets {
		asset := model.Asset{
			Name:        a.Name,
			DownloadURL: a.BrowserDownloadURL,
			Size:        a.Size,
			UpdatedAt:   a.UpdatedAt,
		}
		if a.Digest != "" {
			// Unsupported algorithms leave the asset to sidecar resolution.
			if d, err := model.ParseDigest(a.Digest); err == nil {
				asset.Digest = d
			}
		}
		rel.Assets = append(rel.Assets, asset)
	}
	return rel, nil
}
