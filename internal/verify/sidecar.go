package verify

import (
	"regexp"
	"strings"

	"github.com/3leaps/relmirror/internal/model"
)

const (
	KindMulti   = "multi"
	KindPerFile = "per-file"
)

var (
	multiSuffixes   = []string{"checksums.txt", "checksum.txt", "sha256sums.txt", "sha256sum.txt", "sha256sums", "sha256sum"}
	perFileSuffixes = []string{".sha256sum", ".sha256"}

	// <hex> <ws> <name>, with an optional binary-mode "*" before the name.
	gnuLineRe = regexp.MustCompile(`^([0-9a-fA-F]{64})\s+(.+)$`)
	// SHA256 (name) = <hex>, as written by BSD sha256 and shasum --tag.
	bsdLineRe = regexp.MustCompile(`^SHA256 \((.+)\) ?= ?([0-9a-fA-F]{64})$`)
)

// IsSidecar reports whether a release asset is a checksum file.
func IsSidecar(name string) bool {
	return SidecarKind(name) != ""
}

// SidecarKind classifies a checksum file as multi-entry or per-file, or
// returns "" for regular assets.
func SidecarKind(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range perFileSuffixes {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			return KindPerFile
		}
	}
	for _, suffix := range multiSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return KindMulti
		}
	}
	return ""
}

// OrderSidecars returns the release's sidecars in parse order: multi-entry
// files first, then per-file sidecars, each group in listing order.
func OrderSidecars(assets []model.Asset) []model.Asset {
	var multi, perFile []model.Asset
	for _, a := range assets {
		switch SidecarKind(a.Name) {
		case KindMulti:
			multi = append(multi, a)
		case KindPerFile:
			perFile = append(perFile, a)
		}
	}
	return append(multi, perFile...)
}

// ParseSidecar extracts the checksum entries of one sidecar file. Lines that
// do not look like checksum lines are ignored.
func ParseSidecar(name string, data []byte) []model.ChecksumEntry {
	if SidecarKind(name) == KindPerFile {
		return parsePerFile(name, data)
	}

	var entries []model.ChecksumEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var digest, filename string
		if m := gnuLineRe.FindStringSubmatch(line); m != nil {
			digest, filename = m[1], m[2]
		} else if m := bsdLineRe.FindStringSubmatch(line); m != nil {
			digest, filename = m[2], m[1]
		} else {
			continue
		}
		filename = cleanEntryName(filename)
		if filename == "" {
			continue
		}
		entries = append(entries, model.ChecksumEntry{
			Filename:  filename,
			Hex:       strings.ToLower(digest),
			Algorithm: model.AlgoSHA256,
			Source:    name,
		})
	}
	return entries
}

// parsePerFile takes the leading hex token of the first non-comment line;
// anything after it (usually the filename again) is ignored.
func parsePerFile(name string, data []byte) []model.ChecksumEntry {
	target := perFileTarget(name)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		token := strings.Fields(line)[0]
		if !model.IsSHA256Hex(token) {
			return nil
		}
		return []model.ChecksumEntry{{
			Filename:  target,
			Hex:       strings.ToLower(token),
			Algorithm: model.AlgoSHA256,
			Source:    name,
		}}
	}
	return nil
}

func perFileTarget(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range perFileSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}

// cleanEntryName drops the binary-mode marker and leading "./" so the entry
// matches the release asset name.
func cleanEntryName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "*")
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	return name
}
