package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/3leaps/relmirror/internal/config"
	"github.com/3leaps/relmirror/internal/host/github"
	"github.com/3leaps/relmirror/internal/host/gitlab"
	"github.com/3leaps/relmirror/internal/mirror"
	"github.com/3leaps/relmirror/internal/model"
	"github.com/3leaps/relmirror/internal/verify"
)

// settings is the config file with command-line overrides applied.
type settings struct {
	BaseDir     string
	Proxy       string
	GitHubToken string
	GitLabToken string
	Policy      verify.ConflictPolicy
	Targets     []config.Target
	// TargetErrs holds repository entries that could not be parsed. The
	// valid targets are still processed; these fail the run at the end.
	TargetErrs error
}

var errNoSource = errors.New("either --config or --repo is required")

// loadSettings merges the config file (if any) with flags. Flags win over
// environment variables, which win over the file. so is nil for commands
// that never talk to the network.
func loadSettings(o *commonOptions, so *syncOptions) (*settings, error) {
	if err := checkFormat(o.output); err != nil {
		return nil, err
	}

	cfg := &config.Config{}
	if o.configPath != "" {
		path, err := config.ExpandHome(o.configPath)
		if err != nil {
			return nil, err
		}
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	} else if so != nil && len(o.repos) == 0 {
		return nil, errNoSource
	}

	if o.baseDir != "" {
		dir, err := config.ExpandHome(o.baseDir)
		if err != nil {
			return nil, err
		}
		cfg.BaseDir = dir
	}
	if cfg.BaseDir == "" {
		return nil, errors.New("--base-dir is required when no config file is given")
	}

	policyName := cfg.ConflictPolicy
	if o.conflictPolicy != "" {
		policyName = o.conflictPolicy
	}
	policy, err := verify.ParseConflictPolicy(policyName)
	if err != nil {
		return nil, err
	}

	s := &settings{
		BaseDir:     cfg.BaseDir,
		Proxy:       cfg.Proxy,
		GitHubToken: firstNonEmpty(github.TokenFromEnv(), cfg.GitHubToken),
		GitLabToken: firstNonEmpty(gitlab.TokenFromEnv(), cfg.GitLabToken),
		Policy:      policy,
	}
	if so != nil {
		s.Proxy = firstNonEmpty(so.proxy, s.Proxy)
		s.GitHubToken = firstNonEmpty(so.token, s.GitHubToken)
		s.GitLabToken = firstNonEmpty(so.gitlabToken, s.GitLabToken)
	}

	s.Targets, s.TargetErrs = selectTargets(cfg, o.repos)
	return s, nil
}

// selectTargets returns the configured repositories, or only the --repo
// ones when given. A --repo that is also configured keeps its keys.
// Unparsable entries are returned as an error next to the valid targets.
func selectTargets(cfg *config.Config, repos []string) ([]config.Target, error) {
	configured, err := cfg.Targets()
	if len(repos) == 0 {
		if err != nil {
			return configured, fmt.Errorf("config: %w", err)
		}
		return configured, nil
	}

	keys := make(map[string]verify.Keys, len(configured))
	for _, t := range configured {
		keys[t.Repo.String()] = t.Keys
	}
	var (
		out  []config.Target
		seen = make(map[string]bool)
		errs *multierror.Error
	)
	for _, raw := range repos {
		repo, err := model.ParseRepoTarget(raw)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if seen[repo.String()] {
			continue
		}
		seen[repo.String()] = true
		out = append(out, config.Target{Repo: repo, Keys: keys[repo.String()]})
	}
	return out, errs.ErrorOrNil()
}

func repoTargets(targets []config.Target) []model.RepoTarget {
	out := make([]model.RepoTarget, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Repo)
	}
	return out
}

func checkFormat(format string) error {
	switch strings.ToLower(format) {
	case "", mirror.FormatText, mirror.FormatJSON, mirror.FormatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
