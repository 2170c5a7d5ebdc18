package latest

import (
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Candidate is one release eligible for the latest pointer.
type Candidate struct {
	Tag        string
	UpdatedAt  time.Time
	Prerelease bool
}

// Select returns the newest stable candidate.
func Select(candidates []Candidate) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if c.Prerelease {
			continue
		}
		if !found || Newer(c, best) {
			best = c
			found = true
		}
	}
	return best, found
}

// Newer reports whether a sorts after b.
func Newer(a, b Candidate) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if cmp, ok := CompareTags(a.Tag, b.Tag); ok && cmp != 0 {
		return cmp > 0
	}
	return a.Tag > b.Tag
}

// CompareTags compares two tags as semantic versions. ok is false when
// either tag is not a version.
func CompareTags(a, b string) (int, bool) {
	av, err := semver.NewVersion(strings.TrimSpace(a))
	if err != nil {
		return 0, false
	}
	bv, err := semver.NewVersion(strings.TrimSpace(b))
	if err != nil {
		return 0, false
	}
	return av.Compare(bv), true
}
