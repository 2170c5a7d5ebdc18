package model

import (
	"fmt"
	"strings"
	"time"
)

// Release is the provider-neutral view of one upstream release.
type Release struct {
	Tag        string
	Name       string
	Draft      bool
	Prerelease bool
	UpdatedAt  time.Time
	Assets     []Asset
}

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name        string
	DownloadURL string
	Size        int64     // 0 when the provider does not report it
	Digest      *Digest   // set only when the provider API supplies one
	UpdatedAt   time.Time // provider timestamp for the asset itself, informational
}

const AlgoSHA256 = "sha256"

// Digest is an algorithm-qualified hex digest.
type Digest struct {
	Algorithm string
	Hex       string
}

// ParseDigest accepts "sha256:<hex>" or a bare 64-character sha256 hex string.
func ParseDigest(value string) (*Digest, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("empty digest")
	}
	algo := AlgoSHA256
	if idx := strings.IndexByte(v, ':'); idx >= 0 {
		algo = strings.ToLower(v[:idx])
		v = v[idx+1:]
	}
	if algo != AlgoSHA256 {
		return nil, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	if !IsSHA256Hex(v) {
		return nil, fmt.Errorf("malformed %s digest %q", algo, v)
	}
	return &Digest{Algorithm: algo, Hex: strings.ToLower(v)}, nil
}

func (d Digest) String() string {
	return d.Algorithm + ":" + d.Hex
}

// Matches reports whether hexValue is the same digest, ignoring case.
func (d Digest) Matches(hexValue string) bool {
	return strings.EqualFold(d.Hex, strings.TrimSpace(hexValue))
}

// IsSHA256Hex reports whether value is exactly 64 hexadecimal characters.
func IsSHA256Hex(value string) bool {
	if len(value) != 64 {
		return false
	}
	for _, ch := range value {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}

// ChecksumEntry is one digest parsed from a sidecar checksum file.
type ChecksumEntry struct {
	Filename  string
	Hex       string
	Algorithm string
	Source    string // sidecar filename the entry came from
}

const (
	SourceAPI     = "api"
	SourceUnknown = "unknown"
)

// ExpectedDigest is the digest an asset must hash to, or unknown when no
// source could supply one.
type ExpectedDigest struct {
	Digest *Digest
	Source string
}

func (e ExpectedDigest) Known() bool {
	return e.Digest != nil
}

func (e ExpectedDigest) String() string {
	if e.Digest == nil {
		return SourceUnknown
	}
	return e.Digest.Hex
}

// Unknown is the expected digest of assets nothing vouches for.
func Unknown() ExpectedDigest {
	return ExpectedDigest{Source: SourceUnknown}
}
