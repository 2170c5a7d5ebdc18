package verify

import (
	"fmt"
	"strings"

	"github.com/3leaps/relmirror/internal/model"
)

// ConflictPolicy decides which digest wins when two sidecars disagree on
// one filename.
type ConflictPolicy string

const (
	LastWins     ConflictPolicy = "last-wins"
	FirstWins    ConflictPolicy = "first-wins"
	FailConflict ConflictPolicy = "error"
)

func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return LastWins, nil
	case LastWins, FirstWins, FailConflict:
		return p, nil
	default:
		return "", fmt.Errorf("invalid conflict policy %q (want last-wins, first-wins or error)", s)
	}
}

// Conflict records two sidecar entries that disagree.
type Conflict struct {
	Filename string
	Kept     model.ChecksumEntry
	Dropped  model.ChecksumEntry
}

// Resolver maps asset filenames to expected digests for one release.
type Resolver struct {
	policy    ConflictPolicy
	entries   map[string]model.ChecksumEntry
	conflicts []Conflict
}

func NewResolver(policy ConflictPolicy) *Resolver {
	if policy == "" {
		policy = LastWins
	}
	return &Resolver{policy: policy, entries: make(map[string]model.ChecksumEntry)}
}

// Add parses one sidecar and merges its entries. Sidecars must be added in
// OrderSidecars order. It fails only under the error policy.
func (r *Resolver) Add(name string, data []byte) (int, error) {
	entries := ParseSidecar(name, data)
	for _, e := range entries {
		if err := r.merge(e); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

func (r *Resolver) merge(e model.ChecksumEntry) error {
	prev, ok := r.entries[e.Filename]
	if !ok || strings.EqualFold(prev.Hex, e.Hex) {
		if !ok {
			r.entries[e.Filename] = e
		}
		return nil
	}
	switch r.policy {
	case FailConflict:
		return &ConflictError{Filename: e.Filename, First: prev, Second: e}
	case FirstWins:
		r.conflicts = append(r.conflicts, Conflict{Filename: e.Filename, Kept: prev, Dropped: e})
	default:
		r.conflicts = append(r.conflicts, Conflict{Filename: e.Filename, Kept: e, Dropped: prev})
		r.entries[e.Filename] = e
	}
	return nil
}

// Expected resolves an asset's digest: the provider's own digest first,
// then a sidecar entry with the same filename, else unknown.
func (r *Resolver) Expected(asset model.Asset) model.ExpectedDigest {
	if asset.Digest != nil {
		return model.ExpectedDigest{Digest: asset.Digest, Source: model.SourceAPI}
	}
	if e, ok := r.entries[asset.Name]; ok {
		return model.ExpectedDigest{
			Digest: &model.Digest{Algorithm: e.Algorithm, Hex: e.Hex},
			Source: e.Source,
		}
	}
	return model.Unknown()
}

func (r *Resolver) Conflicts() []Conflict {
	return r.conflicts
}

func (r *Resolver) Len() int {
	return len(r.entries)
}
