// Package resilience keeps remote operations alive through flaky networks:
// bounded exponential retry, an offline queue drained in order on
// reconnect, and a semaphore-bounded connection pool with idle and
// lifetime eviction.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Transient marks an error as worth another attempt. Errors that do not
// implement it are classified by IsTransient's built-in rules.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err looks like a passing failure (network,
// timeout, connection loss) rather than something retrying cannot fix.
// Cancellation is never transient; the caller asked to stop.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var tr Transient
	if errors.As(err, &tr) {
		return tr.Transient()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return false
}

// ExhaustedError reports that every allowed attempt of an operation failed.
// It unwraps to the last attempt's error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// ErrQueueFull means the offline queue hit its capacity; the operation was
// not recorded and the caller must surface the loss.
var ErrQueueFull = errors.New("offline queue full")

// ErrAcquireTimeout means no pooled connection freed up within the acquire
// timeout.
var ErrAcquireTimeout = errors.New("connection acquire timed out")

// ErrPoolClosed means the pool has been shut down.
var ErrPoolClosed = errors.New("connection pool closed")
