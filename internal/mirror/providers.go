package mirror

import (
	"fmt"
	"sync"

	"github.com/3leaps/relmirror/internal/host"
	"github.com/3leaps/relmirror/internal/host/github"
	"github.com/3leaps/relmirror/internal/host/gitlab"
	"github.com/3leaps/relmirror/internal/model"
)

// ProviderSource hands out the provider client for a repository.
type ProviderSource interface {
	For(target model.RepoTarget) (host.Provider, error)
}

type ProviderConfig struct {
	GitHubAPI   string
	GitHubToken string
	GitLabToken string
}

// Providers builds one client per platform and GitLab instance, all sharing
// a single transport (and so one rate limiter).
type Providers struct {
	transport *host.Transport
	cfg       ProviderConfig

	mu    sync.Mutex
	cache map[string]host.Provider
}

func NewProviders(t *host.Transport, cfg ProviderConfig) *Providers {
	if cfg.GitHubAPI == "" {
		cfg.GitHubAPI = github.DefaultAPIBase
	}
	return &Providers{transport: t, cfg: cfg, cache: make(map[string]host.Provider)}
}

func (p *Providers) For(target model.RepoTarget) (host.Provider, error) {
	key := string(target.Platform) + "|" + target.BaseURL

	p.mu.Lock()
	defer p.mu.Unlock()
	if prov, ok := p.cache[key]; ok {
		return prov, nil
	}

	var prov host.Provider
	switch target.Platform {
	case model.PlatformGitHub:
		prov = github.New(p.transport, github.WithAPIBase(p.cfg.GitHubAPI), github.WithToken(p.cfg.GitHubToken))
	case model.PlatformGitLab:
		prov = gitlab.New(p.transport, target.BaseURL, gitlab.WithToken(p.cfg.GitLabToken))
	default:
		return nil, fmt.Errorf("unsupported platform %q", target.Platform)
	}
	p.cache[key] = prov
	return prov, nil
}

// Requests reports how many HTTP requests the shared transport has sent.
func (p *Providers) Requests() int64 {
	return p.transport.Requests()
}
