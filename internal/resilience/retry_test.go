package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transientErr struct{ msg string }

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Transient() bool { return true }

type fatalErr struct{ msg string }

func (e *fatalErr) Error() string   { return e.msg }
func (e *fatalErr) Transient() bool { return false }

// fastRetry keeps test sleeps negligible without changing attempt counts.
func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDelaySequence(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1000 * time.Millisecond,
		Multiplier:   2.0,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1000 * time.Millisecond,
		1000 * time.Millisecond,
	}
	var prev time.Duration
	for attempt, expected := range want {
		d := cfg.baseDelay(attempt)
		assert.Equal(t, expected, d, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, prev, "delays never shrink")
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		prev = d
	}
}

func TestDelayJitterBounded(t *testing.T) {
	cfg := DefaultRetryConfig()
	base := cfg.baseDelay(2)
	lo := time.Duration(float64(base) * (1 - cfg.JitterFactor))
	hi := time.Duration(float64(base) * (1 + cfg.JitterFactor))

	for i := 0; i < 100; i++ {
		d := cfg.Delay(2)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestRetryStopsAtBudget(t *testing.T) {
	boom := &transientErr{msg: "link down"}
	calls := 0

	r := NewRetrier(fastRetry(3))
	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 4, calls, "one initial attempt plus three retries, never a fifth")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
}

func TestRetryFatalErrorNotRetried(t *testing.T) {
	calls := 0
	r := NewRetrier(fastRetry(3))
	boom := &fatalErr{msg: "bad credentials"}

	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, boom, err)
}

func TestRetryRecovers(t *testing.T) {
	calls := 0
	r := NewRetrier(fastRetry(3))

	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &transientErr{msg: "not yet"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := NewRetrier(fastRetry(3))

	err := r.Do(ctx, "op", func(context.Context) error {
		calls++
		cancel()
		return &transientErr{msg: "link down"}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no attempt after the caller gave up")
}

func TestRetryCustomClassifier(t *testing.T) {
	calls := 0
	boom := errors.New("odd failure")
	r := NewRetrier(fastRetry(2), WithClassifier(func(err error) bool {
		return errors.Is(err, boom)
	}))

	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 3, calls)
	var exhausted *ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestDoValue(t *testing.T) {
	calls := 0
	r := NewRetrier(fastRetry(3))

	got, err := DoValue(context.Background(), r, "op", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &transientErr{msg: "hiccup"}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked transient", &transientErr{msg: "x"}, true},
		{"marked fatal", &fatalErr{msg: "x"}, false},
		{"wrapped transient", fmt.Errorf("call: %w", &transientErr{msg: "x"}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancellation", context.Canceled, false},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"dns error", &net.DNSError{Err: "no such host", IsNotFound: true}, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"plain error", errors.New("invalid rule pattern"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
