package mirror

import (
	"fmt"
	"strings"
)

// RepoError attaches repository, tag and asset context to a failure.
type RepoError struct {
	Repo  string
	Tag   string
	Asset string
	Err   error
}

func (e *RepoError) Error() string {
	where := []string{e.Repo}
	if e.Tag != "" {
		where = append(where, "tag "+e.Tag)
	}
	if e.Asset != "" {
		where = append(where, "asset "+e.Asset)
	}
	return fmt.Sprintf("%s: %v", strings.Join(where, ", "), e.Err)
}

func (e *RepoError) Unwrap() error { return e.Err }
