package host

import (
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/relmirror/internal/retry"
)

// ProviderError is an API-shape or auth failure; it is never retried.
type ProviderError struct {
	URL        string
	StatusCode int
	Body       string
	Parse      bool // response body could not be decoded
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Parse:
		return fmt.Sprintf("provider error: malformed response from %s: %v", e.URL, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider error: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("provider error: %s: %v", e.URL, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NetworkError is a transient failure that survived every retry attempt.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError reports an HTTP 429 (or GitHub's 403 with no quota left).
// The retry policy waits for ResetAt; callers never see it.
type RateLimitError struct {
	Host       string
	StatusCode int
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (status %d), resets at %s", e.Host, e.StatusCode, e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) RateLimitReset() time.Time { return e.ResetAt }

// ServerError is an HTTP 5xx; retryable.
type ServerError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *ServerError) Temporary() bool { return true }

// ConnError is a connection-level failure (dial, reset, truncated stream).
type ConnError struct {
	URL string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection error for %s: %v", e.URL, e.Err)
}

func (e *ConnError) Unwrap() error   { return e.Err }
func (e *ConnError) Temporary() bool { return true }

// Terminal converts a retry-exhausted error into a NetworkError and passes
// every other error through.
func Terminal(url string, err error) error {
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		return &NetworkError{URL: url, Attempts: ex.Attempts, Err: ex.Err}
	}
	return err
}
