package crawler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) *ExponentialRetryPolicy {
	return NewExponentialRetryPolicy(RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	})
}

type timeoutError struct{ timeout bool }

func (e timeoutError) Error() string   { return "net failure" }
func (e timeoutError) Timeout() bool   { return e.timeout }
func (e timeoutError) Temporary() bool { return e.timeout }

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxAttempts: 3})
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil", err: nil, attempt: 1, want: false},
		{name: "generic", err: errors.New("boom"), attempt: 1, want: true},
		{name: "ceiling", err: errors.New("boom"), attempt: 3, want: false},
		{name: "canceled", err: fmt.Errorf("wrap: %w", context.Canceled), attempt: 1, want: false},
		{name: "deadline", err: context.DeadlineExceeded, attempt: 1, want: false},
		{name: "permanent", err: permanentError{errors.New("bad json")}, attempt: 1, want: false},
		{name: "missing file", err: fmt.Errorf("list: %w", fs.ErrNotExist), attempt: 1, want: false},
		{name: "status 503", err: &StatusError{URL: "u", StatusCode: 503}, attempt: 1, want: true},
		{name: "status 429", err: &StatusError{URL: "u", StatusCode: 429}, attempt: 1, want: true},
		{name: "status 404", err: &StatusError{URL: "u", StatusCode: 404}, attempt: 1, want: false},
		{name: "dial", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, attempt: 1, want: true},
		{name: "net timeout", err: timeoutError{timeout: true}, attempt: 1, want: true},
		{name: "net no timeout", err: timeoutError{timeout: false}, attempt: 1, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: 80 * time.Millisecond})
	for attempt := range 6 {
		ceiling := min(10*time.Millisecond<<attempt, 80*time.Millisecond)
		for range 20 {
			d := p.Backoff(attempt)
			require.GreaterOrEqual(t, d, ceiling/2)
			require.LessOrEqual(t, d, ceiling)
		}
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := fastRetry(5).Do(context.Background(), nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{URL: "u", StatusCode: 502}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, 3, calls)
}

func TestDoStopsAtCeiling(t *testing.T) {
	t.Parallel()

	attempts, err := fastRetry(4).Do(context.Background(), nil, func(context.Context) error {
		return errors.New("still down")
	})
	require.EqualError(t, err, "still down")
	require.Equal(t, 4, attempts)
}

func TestDoHonorsCancellationWhileWaiting(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	attempts, err := p.Do(ctx, nil, func(context.Context) error {
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorContains(t, err, "retry canceled")
	require.Equal(t, 1, attempts)
}

func TestDoReturnsStoppedWhileWaiting(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour})
	stop := make(chan struct{})
	calls := 0
	attempts, err := p.Do(context.Background(), stop, func(context.Context) error {
		calls++
		close(stop)
		return &StatusError{URL: "u", StatusCode: 503}
	})
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestDoSkipsNextAttemptAfterStop(t *testing.T) {
	t.Parallel()

	var flag stopFlag
	calls := 0
	attempts, err := fastRetry(5).Do(context.Background(), flag.done(), func(context.Context) error {
		calls++
		if calls == 2 {
			flag.stop()
		}
		return &StatusError{URL: "u", StatusCode: 502}
	})
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, 2, attempts)
	require.Equal(t, 2, calls)
	require.True(t, flag.stopped())
}
