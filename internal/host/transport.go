package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/relmirror/internal/ratelimit"
	"github.com/3leaps/relmirror/internal/retry"
)

const (
	maxErrorBody = 64 << 10
	// rateLimitFallback is used when a 429 carries no usable reset hint.
	rateLimitFallback = 60 * time.Second
)

// Transport issues every provider request: it waits on the rate limiter,
// records the response's quota headers and classifies failures for the
// retry policy.
type Transport struct {
	Client    *http.Client
	Limiter   *ratelimit.Limiter
	Retry     retry.Policy
	UserAgent string
	Log       *zap.SugaredLogger
	now       func() time.Time
	requests  atomic.Int64
}

func NewTransport(client *http.Client, limiter *ratelimit.Limiter, userAgent string, log *zap.SugaredLogger) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	policy := retry.Default()
	policy.RateLimitWait = limiter.SleepUntil
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warnw("retrying request", "attempt", attempt, "of", policy.Attempts, "delay", delay.Round(100*time.Millisecond), "err", err)
	}
	return &Transport{
		Client:    client,
		Limiter:   limiter,
		Retry:     policy,
		UserAgent: userAgent,
		Log:       log,
		now:       time.Now,
	}
}

// Do performs a single GET attempt. On a 2xx response the caller owns the
// body. Every other outcome is returned as a classified error with the body
// already closed.
func (t *Transport) Do(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ProviderError{URL: rawURL, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if t.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	hostKey := req.URL.Host
	if err := t.Limiter.Wait(ctx, hostKey); err != nil {
		return nil, err
	}

	t.Log.Debugw("GET", "url", rawURL)
	t.requests.Add(1)
	resp, err := t.Client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnError{URL: rawURL, Err: err}
	}
	t.Limiter.Observe(hostKey, resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	snippet := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{Host: hostKey, StatusCode: resp.StatusCode, ResetAt: t.resetAt(hostKey, resp.Header)}
	case resp.StatusCode == http.StatusForbidden && quotaExhausted(resp.Header):
		return nil, &RateLimitError{Host: hostKey, StatusCode: resp.StatusCode, ResetAt: t.resetAt(hostKey, resp.Header)}
	case resp.StatusCode >= 500:
		return nil, &ServerError{URL: rawURL, StatusCode: resp.StatusCode, Body: snippet}
	default:
		return nil, &ProviderError{URL: rawURL, StatusCode: resp.StatusCode, Body: snippet}
	}
}

// GetJSON fetches rawURL under the retry policy and decodes the body into v.
// It returns the headers of the successful response.
func (t *Transport) GetJSON(ctx context.Context, rawURL string, header http.Header, v any) (http.Header, error) {
	var respHeader http.Header
	err := t.Retry.Do(ctx, func(ctx context.Context) error {
		resp, err := t.Do(ctx, rawURL, header)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &ConnError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
		}
		if err := json.Unmarshal(data, v); err != nil {
			return &ProviderError{URL: rawURL, Parse: true, Err: err}
		}
		respHeader = resp.Header
		return nil
	})
	if err != nil {
		return nil, Terminal(rawURL, err)
	}
	return respHeader, nil
}

// Requests is the number of HTTP requests sent so far, downloads included.
func (t *Transport) Requests() int64 {
	return t.requests.Load()
}

// RateLimit exposes the limiter's view of a host.
func (t *Transport) RateLimit(host string) (int, time.Time, bool) {
	st := t.Limiter.Snapshot(host)
	return st.Remaining, st.ResetAt, st.Known
}

func (t *Transport) resetAt(host string, h http.Header) time.Time {
	if ra := strings.TrimSpace(h.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return t.now().Add(time.Duration(secs) * time.Second)
		}
		if when, err := http.ParseTime(ra); err == nil {
			return when
		}
	}
	if st := t.Limiter.Snapshot(host); !st.ResetAt.IsZero() && st.ResetAt.After(t.now()) {
		return st.ResetAt
	}
	return t.now().Add(rateLimitFallback)
}

func quotaExhausted(h http.Header) bool {
	for _, name := range []string{"X-RateLimit-Remaining", "RateLimit-Remaining"} {
		if strings.TrimSpace(h.Get(name)) == "0" {
			return true
		}
	}
	return false
}
