// Package host defines the provider-neutral release API and the transport
// shared by the GitHub and GitLab implementations.
package host

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/3leaps/relmirror/internal/model"
)

// Provider is one upstream release API.
type Provider interface {
	// ListReleases returns one page of releases. An empty cursor requests the
	// first page; an empty next cursor means the listing is drained.
	ListReleases(ctx context.Context, target model.RepoTarget, cursor string) (releases []model.Release, next string, err error)
	// OpenAsset starts streaming an asset. size is -1 when unknown. It makes a
	// single attempt; callers wrap it in their own retry loop.
	OpenAsset(ctx context.Context, asset model.Asset) (body io.ReadCloser, size int64, err error)
	// RateLimit reports the tracked quota for an API host.
	RateLimit(host string) (remaining int, resetAt time.Time, known bool)
}

// maxPages guards against a provider that keeps returning a next cursor.
const maxPages = 10000

// ListAll drains every page. A release on a later page is as authoritative
// as one on the first.
func ListAll(ctx context.Context, p Provider, target model.RepoTarget) ([]model.Release, error) {
	var all []model.Release
	seen := make(map[string]struct{})
	cursor := ""
	for page := 0; page < maxPages; page++ {
		releases, next, err := p.ListReleases(ctx, target, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, releases...)
		if next == "" {
			return all, nil
		}
		if _, dup := seen[next]; dup {
			return nil, fmt.Errorf("list releases for %s: pagination cursor %q repeated", target, next)
		}
		seen[next] = struct{}{}
		cursor = next
	}
	return nil, fmt.Errorf("list releases for %s: more than %d pages", target, maxPages)
}
