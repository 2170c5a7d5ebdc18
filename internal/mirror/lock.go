package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const LockFileName = ".relmirror.lock"

var ErrLocked = errors.New("another relmirror run holds the lock")

// Lock is an exclusive advisory lock on a mirror tree.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes base_dir/.relmirror.lock without blocking.
func AcquireLock(baseDir string) (*Lock, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	path := filepath.Join(baseDir, LockFileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
