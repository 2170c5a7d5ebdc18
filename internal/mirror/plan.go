package mirror

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/3leaps/relmirror/internal/model"
)

// TagDir is where a release's assets live below the repository directory.
func TagDir(repoDir, tag string) string {
	return filepath.Join(repoDir, filepath.FromSlash(tag))
}

// TagComplete reports whether the tag directory exists and holds every
// asset the release lists. Assets with unusable names are not counted.
func TagComplete(repoDir string, rel model.Release) bool {
	dir := TagDir(repoDir, rel.Tag)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return false
	}
	for _, a := range rel.Assets {
		if !model.SafeFilename(a.Name) {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, a.Name))
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// Plan is the outcome of PlanTags.
type Plan struct {
	Missing  []model.Release
	Complete []model.Release
	Drafts   []string
	Unsafe   []string
}

// PlanTags picks the releases that need work, in listing order. Drafts and
// tags that cannot be used as directory names are set aside.
func PlanTags(repoDir string, releases []model.Release) Plan {
	var p Plan
	for _, rel := range releases {
		switch {
		case rel.Draft:
			p.Drafts = append(p.Drafts, rel.Tag)
		case !model.SafeTag(rel.Tag):
			p.Unsafe = append(p.Unsafe, rel.Tag)
		case TagComplete(repoDir, rel):
			p.Complete = append(p.Complete, rel)
		default:
			p.Missing = append(p.Missing, rel)
		}
	}
	return p
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
