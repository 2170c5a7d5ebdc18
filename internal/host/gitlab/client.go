// Package gitlab lists releases through the GitLab v4 API, either on
// gitlab.com or on a self-hosted instance.
package gitlab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/relmirror/internal/host"
	"github.com/3leaps/relmirror/internal/model"
)

const perPage = 100

func TokenFromEnv() string {
	if tok := strings.TrimSpace(os.Getenv("RELMIRROR_GITLAB_TOKEN")); tok != "" {
		return tok
	}
	return strings.TrimSpace(os.Getenv("GITLAB_TOKEN"))
}

// Client talks to one GitLab instance.
type Client struct {
	transport *host.Transport
	baseURL   string
	token     string
	perPage   int
}

type Option func(*Client)

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

func New(t *host.Transport, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = model.DefaultGitLabBaseURL
	}
	c := &Client{transport: t, baseURL: strings.TrimRight(baseURL, "/"), perPage: perPage}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ host.Provider = (*Client)(nil)

type releasePayload struct {
	TagName         string     `json:"tag_name"`
	Name            string     `json:"name"`
	UpcomingRelease bool       `json:"upcoming_release"`
	ReleasedAt      *time.Time `json:"released_at"`
	CreatedAt       *time.Time `json:"created_at"`
	Assets          struct {
		Links []linkPayload `json:"links"`
	} `json:"assets"`
}

type linkPayload struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	DirectAssetURL string `json:"direct_asset_url"`
}

func (c *Client) ListReleases(ctx context.Context, target model.RepoTarget, cursor string) ([]model.Release, string, error) {
	pageURL := cursor
	if pageURL == "" {
		pageURL = c.releasesURL(target, 1)
	}

	var payload []releasePayload
	hdr, err := c.transport.GetJSON(ctx, pageURL, c.headers(), &payload)
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
	return releases, c.nextPage(target, pageURL, hdr, len(payload)), nil
}

func (c *Client) OpenAsset(ctx context.Context, asset model.Asset) (io.ReadCloser, int64, error) {
	hdr := http.Header{}
	if c.token != "" && c.sameHost(asset.DownloadURL) {
		hdr.Set("PRIVATE-TOKEN", c.token)
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

// releasesURL encodes the namespaced project path as a single segment, so
// subgroups become group%2Fsub%2Frepo.
func (c *Client) releasesURL(target model.RepoTarget, page int) string {
	project := url.PathEscape(target.Owner + "/" + target.Name)
	return fmt.Sprintf("%s/api/v4/projects/%s/releases?per_page=%d&page=%d", c.baseURL, project, c.perPage, page)
}

func (c *Client) headers() http.Header {
	hdr := http.Header{}
	hdr.Set("Accept", "application/json")
	if c.token != "" {
		hdr.Set("PRIVATE-TOKEN", c.token)
	}
	return hdr
}

// nextPage uses X-Next-Page when the server sends it (empty on the last
// page); otherwise a full page means there may be more.
func (c *Client) nextPage(target model.RepoTarget, current string, hdr http.Header, n int) string {
	if _, ok := hdr["X-Next-Page"]; ok {
		next, err := strconv.Atoi(strings.TrimSpace(hdr.Get("X-Next-Page")))
		if err != nil || next < 1 {
			return ""
		}
		return c.releasesURL(target, next)
	}
	if n < c.perPage {
		return ""
	}
	u, err := url.Parse(current)
	if err != nil {
		return ""
	}
	page, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	return c.releasesURL(target, page+1)
}

func (c *Client) sameHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, base.Host)
}

func (p releasePayload) toModel() (model.Release, error) {
	if p.TagName == "" {
		return model.Release{}, fmt.Errorf("release without tag_name")
	}
	var published time.Time
	switch {
	case p.ReleasedAt != nil:
		published = *p.ReleasedAt
	case p.CreatedAt != nil:
		published = *p.CreatedAt
	default:
		return model.Release{}, fmt.Errorf("release %s missing released_at and created_at", p.TagName)
	}

	rel := model.Release{
		Tag:        p.TagName,
		Name:       p.Name,
		Prerelease: p.UpcomingRelease,
		UpdatedAt:  published,
	}
	if rel.Name == "" {
		rel.Name = p.TagName
	}
	// Release links carry neither size nor digest.
	for _, l := range p.Assets.Links {
		dl := l.DirectAssetURL
		if dl == "" {
			dl = l.URL
		}
		rel.Assets = append(rel.Assets, model.Asset{
			Name:        l.Name,
			DownloadURL: dl,
			UpdatedAt:   published,
		})
	}
	return rel, nil
}
