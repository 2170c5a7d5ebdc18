package verify

import "strings"

const (
	FormatPGP      = "pgp"
	FormatMinisign = "minisign"
)

// SignatureFormatFromExtension maps a detached signature filename to the
// verifier that handles it, or "" when the extension is unknown.
func SignatureFormatFromExtension(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".minisig"):
		return FormatMinisign
	case strings.HasSuffix(lower, ".asc"), strings.HasSuffix(lower, ".sig"), strings.HasSuffix(lower, ".gpg"):
		return FormatPGP
	default:
		return ""
	}
}
