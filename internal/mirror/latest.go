package mirror

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/relmirror/internal/download"
	"github.com/3leaps/relmirror/internal/model"
	"github.com/3leaps/relmirror/pkg/latest"
)

const LatestLink = "latest"

// LatestCandidate returns the tag the latest link should name: the newest
// stable, non-draft release that is complete on disk.
func LatestCandidate(repoDir string, releases []model.Release) (string, bool) {
	var candidates []latest.Candidate
	for _, rel := range releases {
		if rel.Draft || rel.Prerelease || !model.SafeTag(rel.Tag) || !TagComplete(repoDir, rel) {
			continue
		}
		candidates = append(candidates, latest.Candidate{Tag: rel.Tag, UpdatedAt: rel.UpdatedAt})
	}
	best, ok := latest.Select(candidates)
	return best.Tag, ok
}

// UpdateLatest points repoDir/latest at the newest complete stable tag by
// renaming a freshly made symlink over it. It returns the tag the link
// names (or would name in dry-run). Without a candidate an existing link is
// removed. A regular file or directory called latest is left alone.
func UpdateLatest(repoDir string, releases []model.Release, dryRun bool, log *zap.SugaredLogger) (string, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	link := filepath.Join(repoDir, LatestLink)
	tag, ok := LatestCandidate(repoDir, releases)
	if !ok {
		log.Debugw("no complete stable release for latest")
		return "", removeStaleLatest(link, dryRun, log)
	}

	target := filepath.FromSlash(tag)
	info, err := os.Lstat(link)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink == 0:
		log.Warnw("latest exists but is not a symlink, leaving it", "path", link)
		return "", nil
	case err == nil:
		if cur, rerr := os.Readlink(link); rerr == nil && cur == target {
			return tag, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", &download.FilesystemError{Op: "lstat", Path: link, Err: err}
	}

	if dryRun {
		log.Infow("would update latest", "tag", tag)
		return tag, nil
	}

	tmp := filepath.Join(repoDir, ".latest.tmp-"+uuid.NewString())
	if err := os.Symlink(target, tmp); err != nil {
		return "", &download.FilesystemError{Op: "symlink", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return "", &download.FilesystemError{Op: "rename", Path: link, Err: err}
	}
	log.Infow("updated latest", "tag", tag)
	return tag, nil
}

func removeStaleLatest(link string, dryRun bool, log *zap.SugaredLogger) error {
	info, err := os.Lstat(link)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return &download.FilesystemError{Op: "lstat", Path: link, Err: err}
	case info.Mode()&os.ModeSymlink == 0:
		return nil
	}
	if dryRun {
		log.Infow("would remove latest, no release qualifies")
		return nil
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &download.FilesystemError{Op: "remove", Path: link, Err: err}
	}
	log.Infow("removed latest, no release qualifies")
	return nil
}
