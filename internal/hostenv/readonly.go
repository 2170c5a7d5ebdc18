// Package hostenv inspects the host before the mirror writes to it.
package hostenv

import (
	"errors"
	"fmt"
	"path/filepath"
)

var ErrReadOnly = errors.New("destination is on a read-only mount")

// CheckWritable fails when dir (or the mount it would be created on) is
// mounted read-only. Detection is best effort; unknown means writable.
func CheckWritable(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}
	if IsReadOnlyMount(abs) {
		return fmt.Errorf("%s: %w", abs, ErrReadOnly)
	}
	return nil
}
