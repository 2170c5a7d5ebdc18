package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) Temporary() bool { return e.code >= 500 }

type limitedErr struct{ reset time.Time }

func (e limitedErr) Error() string             { return "rate limited" }
func (e limitedErr) RateLimitReset() time.Time { return e.reset }

func noSleep(context.Context, time.Duration) error { return nil }

func scripted(codes ...int) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		code := codes[calls]
		calls++
		switch {
		case code == 200:
			return nil
		case code == 429:
			return limitedErr{reset: time.Now()}
		default:
			return statusErr{code: code}
		}
	}, &calls
}

func TestDoAttemptBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		codes     []int
		wantErr   bool
		wantCalls int
	}{
		{name: "success first try", codes: []int{200}, wantCalls: 1},
		{name: "two failures then success", codes: []int{500, 502, 200}, wantCalls: 3},
		{name: "three failures exhaust budget", codes: []int{500, 500, 500, 200}, wantErr: true, wantCalls: 3},
		{name: "client error not retried", codes: []int{404, 200}, wantErr: true, wantCalls: 1},
		{name: "rate limit does not consume attempts", codes: []int{429, 500, 429, 500, 429, 200}, wantCalls: 6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			op, calls := scripted(tc.codes...)
			waits := 0
			p := Policy{
				Attempts: 3,
				Sleep:    noSleep,
				RateLimitWait: func(context.Context, time.Time) error {
					waits++
					return nil
				},
			}
			err := p.Do(context.Background(), op)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Do error: got %v, wantErr %v", err, tc.wantErr)
			}
			if *calls != tc.wantCalls {
				t.Fatalf("calls: got %d want %d", *calls, tc.wantCalls)
			}
		})
	}
}

func TestDoExhaustedWrapsLastError(t *testing.T) {
	t.Parallel()

	op, _ := scripted(500, 503, 504)
	err := Policy{Sleep: noSleep}.Do(context.Background(), op)

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %T %v", err, err)
	}
	if ex.Attempts != 3 {
		t.Fatalf("attempts: got %d want 3", ex.Attempts)
	}
	var se statusErr
	if !errors.As(err, &se) || se.code != 504 {
		t.Fatalf("expected last error 504, got %v", ex.Err)
	}
}

func TestDoBackoffIsReported(t *testing.T) {
	t.Parallel()

	op, _ := scripted(500, 500, 200)
	var delays []time.Duration
	p := Policy{
		Sleep:   noSleep,
		Backoff: func(attempt int) time.Duration { return time.Duration(attempt) * time.Millisecond },
		OnRetry: func(_ int, _ error, d time.Duration) { delays = append(delays, d) },
	}
	if err := p.Do(context.Background(), op); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Fatalf("delays: got %v", delays)
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Policy{Sleep: noSleep}.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancellation before the first call, got err=%v called=%v", err, called)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	if IsRetryable(nil) || IsRetryable(statusErr{code: 403}) || IsRetryable(context.Canceled) {
		t.Fatalf("non-retryable error classified as retryable")
	}
	if !IsRetryable(fmt.Errorf("wrapped: %w", statusErr{code: 503})) {
		t.Fatalf("wrapped 503 should be retryable")
	}
}
