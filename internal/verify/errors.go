package verify

import (
	"fmt"

	"github.com/3leaps/relmirror/internal/model"
)

// ChecksumMismatchError means local or freshly downloaded content does not
// hash to the expected digest. The file is never promoted or overwritten.
type ChecksumMismatchError struct {
	Path     string
	Repo     string
	Tag      string
	Asset    string
	Expected string
	Actual   string
	Source   string // where the expected digest came from
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s (repo %s, tag %s): expected %s (from %s), got %s [%s]",
		e.Asset, e.Repo, e.Tag, e.Expected, e.Source, e.Actual, e.Path)
}

// ConflictError is returned under the error conflict policy.
type ConflictError struct {
	Filename string
	First    model.ChecksumEntry
	Second   model.ChecksumEntry
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting checksums for %s: %s says %s, %s says %s",
		e.Filename, e.First.Source, e.First.Hex, e.Second.Source, e.Second.Hex)
}

// SignatureError is a sidecar whose signature does not verify.
type SignatureError struct {
	Sidecar   string
	Signature string
	Format    string
	Err       error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s signature %s does not verify %s: %v", e.Format, e.Signature, e.Sidecar, e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }
