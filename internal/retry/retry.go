// Package retry runs a network operation with a bounded number of attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/3leaps/relmirror/internal/ratelimit"
)

// DefaultAttempts is the total number of attempts, including the first.
const DefaultAttempts = 3

// Policy retries transient failures. Rate-limit rejections wait for the
// reset time and are retried without consuming an attempt.
type Policy struct {
	Attempts      int
	Backoff       func(attempt int) time.Duration
	Sleep         func(ctx context.Context, d time.Duration) error
	RateLimitWait func(ctx context.Context, resetAt time.Time) error
	OnRetry       func(attempt int, err error, delay time.Duration)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type temporary interface {
	Temporary() bool
}

type rateLimited interface {
	RateLimitReset() time.Time
}

// Default is 3 attempts with 1s, 2s exponential backoff plus jitter.
func Default() Policy {
	return Policy{Attempts: DefaultAttempts}
}

// IsRetryable reports whether err is a connection error, timeout, or a
// server-side (5xx) failure.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// Do calls op until it succeeds, fails permanently, or runs out of attempts.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	failed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}

		var rl rateLimited
		if errors.As(err, &rl) {
			if werr := p.rateLimitWait(ctx, rl.RateLimitReset()); werr != nil {
				return werr
			}
			continue
		}
		if !IsRetryable(err) {
			return err
		}

		failed++
		if failed >= attempts {
			return &ExhaustedError{Attempts: failed, Err: err}
		}
		delay := p.backoff(failed)
		if p.OnRetry != nil {
			p.OnRetry(failed, err, delay)
		}
		if serr := p.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func (p Policy) backoff(attempt int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(attempt)
	}
	base := time.Duration(1<<(attempt-1)) * time.Second
	// #nosec G404 -- jitter only
	return base + time.Duration(rand.Int63n(int64(time.Second)))
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return ratelimit.Sleep(ctx, d)
}

func (p Policy) rateLimitWait(ctx context.Context, resetAt time.Time) error {
	if p.RateLimitWait != nil {
		return p.RateLimitWait(ctx, resetAt)
	}
	return ratelimit.Sleep(ctx, time.Until(resetAt))
}
