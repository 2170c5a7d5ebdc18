//go:build !linux

package hostenv

// IsReadOnlyMount has no portable implementation outside Linux.
func IsReadOnlyMount(string) bool {
	return false
}
