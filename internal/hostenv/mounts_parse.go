package hostenv

import (
	"path/filepath"
	"strings"
)

type mountEntry struct {
	mountPoint string
	options    map[string]struct{}
}

func parseMountinfo(content string) []mountEntry {
	var out []mountEntry
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		sep := -1
		for i, f := range fields {
			if f == "-" {
				sep = i
				break
			}
		}
		if sep < 0 {
			continue
		}
		// id parent major:minor root mountpoint options [optional...] - fstype source superopts
		entry := mountEntry{
			mountPoint: unescapeMountPath(fields[4]),
			options:    parseMountOptions(fields[5]),
		}
		if sep+3 < len(fields) {
			for k := range parseMountOptions(fields[sep+3]) {
				entry.options[k] = struct{}{}
			}
		}
		out = append(out, entry)
	}
	return out
}

func parseProcMounts(content string) []mountEntry {
	var out []mountEntry
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		out = append(out, mountEntry{
			mountPoint: unescapeMountPath(fields[1]),
			options:    parseMountOptions(fields[3]),
		})
	}
	return out
}

func parseMountOptions(opt string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, part := range strings.Split(opt, ",") {
		if part = strings.TrimSpace(part); part != "" {
			m[part] = struct{}{}
		}
	}
	return m
}

// unescapeMountPath undoes procfs octal escaping of whitespace and backslash.
func unescapeMountPath(value string) string {
	return strings.NewReplacer(
		"\\040", " ",
		"\\011", "\t",
		"\\012", "\n",
		"\\134", "\\",
	).Replace(value)
}

// mountFor returns the mount holding path: the longest mount point that is a
// path prefix of it.
func mountFor(path string, mounts []mountEntry) (mountEntry, bool) {
	dest := filepath.ToSlash(filepath.Clean(path))
	if dest == "." || dest == "" {
		return mountEntry{}, false
	}

	var best mountEntry
	bestLen := -1
	for _, m := range mounts {
		mp := filepath.ToSlash(filepath.Clean(m.mountPoint))
		if mp == "." || mp == "" || !pathHasPrefix(dest, mp) {
			continue
		}
		if len(mp) > bestLen {
			best, bestLen = m, len(mp)
		}
	}
	return best, bestLen >= 0
}

func detectReadOnly(path string, mounts []mountEntry) bool {
	m, ok := mountFor(path, mounts)
	if !ok {
		return false
	}
	_, ro := m.options["ro"]
	return ro
}

func pathHasPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
