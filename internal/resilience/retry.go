package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig shapes the backoff between attempts. MaxRetries counts the
// attempts after the first, so MaxRetries 3 allows four calls total.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// DefaultRetryConfig retries three times over roughly seven seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// baseDelay is the exponential delay after the given 0-based failed
// attempt, capped at MaxDelay, before jitter.
func (c RetryConfig) baseDelay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if max := float64(c.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// Delay returns the wait after the given failed attempt, with a symmetric
// random jitter of up to ±JitterFactor applied so replicas that failed
// together do not retry together.
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := c.baseDelay(attempt)
	if c.JitterFactor > 0 {
		jitter := float64(d) * c.JitterFactor * (rand.Float64() - 0.5) * 2
		d += time.Duration(jitter)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Retrier re-runs fallible operations whose errors classify as transient.
type Retrier struct {
	config    RetryConfig
	retryable func(error) bool
}

type RetrierOption func(*Retrier)

// WithClassifier overrides how errors are split into retryable and fatal.
func WithClassifier(fn func(error) bool) RetrierOption {
	return func(r *Retrier) {
		if fn != nil {
			r.retryable = fn
		}
	}
}

func NewRetrier(config RetryConfig, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		config:    config,
		retryable: IsTransient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget runs out. Fatal errors propagate untouched; an exhausted
// budget comes back as an ExhaustedError wrapping the last failure.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Debug("operation recovered", "op", op, "attempt", attempt+1)
			}
			return nil
		}
		if !r.retryable(err) {
			return err
		}
		if attempt >= r.config.MaxRetries {
			return &ExhaustedError{Op: op, Attempts: attempt + 1, Err: err}
		}

		delay := r.config.Delay(attempt)
		slog.Debug("operation failed, backing off",
			"op", op, "attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, r *Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		var ferr error
		result, ferr = fn(ctx)
		return ferr
	})
	return result, err
}
