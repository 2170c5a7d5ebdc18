// Package ratelimit tracks the remaining API quota per provider host and
// blocks callers until the quota resets when it runs low.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Threshold is the remaining-request count below which Wait sleeps until reset.
const Threshold = 10

// resetSlack is added to the reset time so the first request after waking
// lands in the new window.
const resetSlack = time.Second

var (
	remainingHeaders = []string{"X-RateLimit-Remaining", "RateLimit-Remaining"}
	resetHeaders     = []string{"X-RateLimit-Reset", "RateLimit-Reset"}
)

// State is the last observed quota for one host.
type State struct {
	Remaining int
	ResetAt   time.Time
	Known     bool
}

// Limiter is process-local; nothing is persisted between runs.
type Limiter struct {
	mu    sync.Mutex
	hosts map[string]State
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *zap.SugaredLogger
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Limiter) { l.log = log }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		hosts: make(map[string]State),
		now:   time.Now,
		sleep: Sleep,
		log:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Observe refreshes the host's state from GitHub (X-RateLimit-*) or GitLab
// (RateLimit-*) response headers. Responses without them leave state as is.
func (l *Limiter) Observe(host string, h http.Header) {
	remaining, ok := headerInt(h, remainingHeaders)
	if !ok {
		return
	}
	var resetAt time.Time
	if reset, ok := headerInt(h, resetHeaders); ok {
		resetAt = time.Unix(int64(reset), 0)
	}
	l.Update(host, remaining, resetAt)
}

func (l *Limiter) Update(host string, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosts[host] = State{Remaining: remaining, ResetAt: resetAt, Known: true}
	l.log.Debugw("rate limit", "host", host, "remaining", remaining, "reset", resetAt)
}

func (l *Limiter) Snapshot(host string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hosts[host]
}

// Wait blocks until a request to host may be issued. When the tracked
// remaining count is below Threshold it sleeps past the reset time and then
// proceeds optimistically; the next response refreshes the real value.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	l.mu.Lock()
	st := l.hosts[host]
	if !st.Known || st.Remaining >= Threshold {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if !st.ResetAt.IsZero() {
		if wait := st.ResetAt.Sub(l.now()) + resetSlack; wait > 0 {
			l.log.Warnw("rate limit low, waiting for reset", "host", host, "remaining", st.Remaining, "wait", wait.Round(time.Second))
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	l.forget(host, st)
	return nil
}

// forget drops a low count once its reset has passed so the next Wait does
// not sleep again before a fresh response arrives. A state refreshed in the
// meantime is kept.
func (l *Limiter) forget(host string, st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur := l.hosts[host]; cur.Known && cur.Remaining == st.Remaining && cur.ResetAt.Equal(st.ResetAt) {
		l.hosts[host] = State{ResetAt: st.ResetAt}
	}
}

// SleepUntil blocks until resetAt (plus slack) on the limiter's clock. It is
// used when a request was rejected with 429.
func (l *Limiter) SleepUntil(ctx context.Context, resetAt time.Time) error {
	wait := resetAt.Sub(l.now()) + resetSlack
	if wait <= 0 {
		return nil
	}
	l.log.Warnw("rate limited, waiting for reset", "wait", wait.Round(time.Second))
	return l.sleep(ctx, wait)
}

// Sleep is a context-aware time.Sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func headerInt(h http.Header, names []string) (int, bool) {
	for _, name := range names {
		raw := strings.TrimSpace(h.Get(name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		return int(v), true
	}
	return 0, false
}
