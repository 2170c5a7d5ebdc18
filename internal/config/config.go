// Package config loads the mirror configuration from TOML or YAML files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/3leaps/relmirror/internal/model"
	"github.com/3leaps/relmirror/internal/verify"
)

// Repo is a per-repository entry with optional signing keys for its sidecars.
type Repo struct {
	URL         string `json:"url"`
	MinisignKey string `json:"minisign_key,omitempty"`
	PGPKey      string `json:"pgp_key,omitempty"`
}

type Config struct {
	BaseDir        string   `json:"base_dir"`
	Proxy          string   `json:"proxy,omitempty"`
	URLs           []string `json:"urls,omitempty"`
	GitHubToken    string   `json:"github_token,omitempty"`
	GitLabToken    string   `json:"gitlab_token,omitempty"`
	ConflictPolicy string   `json:"conflict_policy,omitempty"`
	Repos          []Repo   `json:"repos,omitempty"`
}

// Target is one repository to mirror together with its sidecar keys.
type Target struct {
	Repo model.RepoTarget
	Keys verify.Keys
}

// Load reads a .toml, .yaml or .yml file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config path supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext, validates it against the
// embedded schema and expands ~ in paths.
func Parse(data []byte, ext string) (*Config, error) {
	jsonData, err := toJSON(data, strings.ToLower(ext))
	if err != nil {
		return nil, err
	}
	if err := validateJSON(jsonData); err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func toJSON(data []byte, ext string) ([]byte, error) {
	switch ext {
	case ".toml":
		var doc map[string]any
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		return json.Marshal(doc)
	case ".yaml", ".yml":
		out, err := sigsyaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if bytes.Equal(bytes.TrimSpace(out), []byte("null")) {
			return []byte("{}"), nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .toml, .yaml or .yml)", ext)
	}
}

func (c *Config) normalize() error {
	dir, err := ExpandHome(c.BaseDir)
	if err != nil {
		return err
	}
	c.BaseDir = dir
	for i := range c.Repos {
		if c.Repos[i].MinisignKey, err = expandKeyPath(c.Repos[i].MinisignKey); err != nil {
			return err
		}
		if c.Repos[i].PGPKey, err = expandKeyPath(c.Repos[i].PGPKey); err != nil {
			return err
		}
	}
	if _, err := verify.ParseConflictPolicy(c.ConflictPolicy); err != nil {
		return err
	}
	return nil
}

// Targets returns urls followed by repos, in configuration order. A repos
// entry that repeats a url only attaches its keys.
func (c *Config) Targets() ([]Target, error) {
	var (
		out   []Target
		index = make(map[string]int)
		errs  *multierror.Error
	)
	add := func(raw string, keys verify.Keys) {
		repo, err := model.ParseRepoTarget(raw)
		if err != nil {
			errs = multierror.Append(errs, err)
			return
		}
		key := repo.String()
		if i, ok := index[key]; ok {
			if keys.Minisign != "" {
				out[i].Keys.Minisign = keys.Minisign
			}
			if keys.PGP != "" {
				out[i].Keys.PGP = keys.PGP
			}
			return
		}
		index[key] = len(out)
		out = append(out, Target{Repo: repo, Keys: keys})
	}
	for _, u := range c.URLs {
		add(u, verify.Keys{})
	}
	for _, r := range c.Repos {
		add(r.URL, verify.Keys{Minisign: r.MinisignKey, PGP: r.PGPKey})
	}
	return out, errs.ErrorOrNil()
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// expandKeyPath leaves inline keys alone and expands ~ in paths.
func expandKeyPath(value string) (string, error) {
	if strings.HasPrefix(value, "~") {
		return ExpandHome(value)
	}
	return value, nil
}
