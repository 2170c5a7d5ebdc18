//go:build linux

package hostenv

import "os"

func IsReadOnlyMount(path string) bool {
	if path == "" {
		return false
	}

	if data, err := os.ReadFile("/proc/self/mountinfo"); err == nil { // #nosec G304 -- fixed procfs path
		if mounts := parseMountinfo(string(data)); len(mounts) > 0 {
			return detectReadOnly(path, mounts)
		}
	}

	data, err := os.ReadFile("/proc/mounts") // #nosec G304 -- fixed procfs path
	if err != nil {
		return false
	}
	return detectReadOnly(path, parseProcMounts(string(data)))
}
