package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the monitor's view of remote reachability.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusOnline       Status = "online"
	StatusOffline      Status = "offline"
	StatusReconnecting Status = "reconnecting"
)

// Prober performs a lightweight reachability check against the remote side.
type Prober func(ctx context.Context) error

// MonitorConfig tunes probing and the offline queue.
type MonitorConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	QueueCapacity int
	QueueFile     string
	Retry         RetryConfig
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ProbeInterval: 30 * time.Second,
		ProbeTimeout:  10 * time.Second,
		QueueCapacity: DefaultQueueCapacity,
		Retry:         DefaultRetryConfig(),
	}
}

type MonitorOption func(*MonitorConfig)

func WithProbeInterval(d time.Duration) MonitorOption {
	return func(c *MonitorConfig) {
		if d > 0 {
			c.ProbeInterval = d
		}
	}
}

func WithProbeTimeout(d time.Duration) MonitorOption {
	return func(c *MonitorConfig) {
		if d > 0 {
			c.ProbeTimeout = d
		}
	}
}

func WithQueueCapacity(n int) MonitorOption {
	return func(c *MonitorConfig) {
		if n > 0 {
			c.QueueCapacity = n
		}
	}
}

// WithQueueFile persists the offline queue so queued operations survive a
// restart.
func WithQueueFile(path string) MonitorOption {
	return func(c *MonitorConfig) {
		c.QueueFile = path
	}
}

func WithRetry(rc RetryConfig) MonitorOption {
	return func(c *MonitorConfig) {
		c.Retry = rc
	}
}

// Monitor tracks whether the remote side is reachable and holds back
// operations while it is not. Queued operations drain strictly in
// submission order once connectivity returns, and the monitor reports
// online only after the backlog is gone.
type Monitor[T any] struct {
	cfg     MonitorConfig
	probe   Prober
	exec    func(context.Context, T) error
	retrier *Retrier
	queue   *OfflineQueue[T]

	mu     sync.Mutex
	status Status

	transitions chan Status
}

// NewMonitor wires a reachability probe to an executor for deferred
// operations.
func NewMonitor[T any](probe Prober, exec func(context.Context, T) error, opts ...MonitorOption) (*Monitor[T], error) {
	cfg := DefaultMonitorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	q, err := NewOfflineQueue[T](cfg.QueueCapacity, cfg.QueueFile)
	if err != nil {
		return nil, err
	}

	return &Monitor[T]{
		cfg:         cfg,
		probe:       probe,
		exec:        exec,
		retrier:     NewRetrier(cfg.Retry),
		queue:       q,
		status:      StatusUnknown,
		transitions: make(chan Status, 16),
	}, nil
}

// Status returns the current connectivity state.
func (m *Monitor[T]) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Online reports whether operations run immediately right now.
func (m *Monitor[T]) Online() bool {
	return m.Status() == StatusOnline
}

// Pending reports how many operations wait in the offline queue.
func (m *Monitor[T]) Pending() int {
	return m.queue.Len()
}

// Transitions delivers status changes. Slow readers miss intermediate
// states rather than blocking the monitor.
func (m *Monitor[T]) Transitions() <-chan Status {
	return m.transitions
}

func (m *Monitor[T]) setStatus(s Status) {
	m.mu.Lock()
	changed := m.status != s
	m.status = s
	m.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("connectivity changed", "status", s)
	select {
	case m.transitions <- s:
	default:
	}
}

// Submit runs the operation now when online, or records it for the next
// reconnect. The first return reports whether it ran. A transient failure
// flips the monitor offline and queues the operation instead of failing it.
func (m *Monitor[T]) Submit(ctx context.Context, item T) (bool, error) {
	if m.Status() != StatusOnline {
		return false, m.queue.Push(item)
	}

	err := m.retrier.Do(ctx, "submit", func(ctx context.Context) error {
		return m.exec(ctx, item)
	})
	if err == nil {
		return true, nil
	}
	if IsTransient(err) {
		m.MarkOffline()
		return false, m.queue.Push(item)
	}
	return true, err
}

// MarkOffline records that the remote side stopped responding, e.g. when a
// transport callback sees a dropped connection.
func (m *Monitor[T]) MarkOffline() {
	m.setStatus(StatusOffline)
}

// Start probes reachability until ctx ends. While offline it keeps
// probing, and on the first successful probe drains the backlog before
// reporting online.
func (m *Monitor[T]) Start(ctx context.Context) {
	m.probeOnce(ctx)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor[T]) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.probe(probeCtx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Debug("reachability probe failed", "error", err)
		m.setStatus(StatusOffline)
		return
	}

	if m.Status() == StatusOnline && m.queue.Len() == 0 {
		return
	}
	m.reconnect(ctx)
}

// reconnect drains the offline queue in submission order and marks the
// monitor online once the backlog is gone. A transient failure mid-drain
// puts the unfinished remainder back, in order, and returns to offline.
func (m *Monitor[T]) reconnect(ctx context.Context) {
	m.setStatus(StatusReconnecting)

	backlog := m.queue.Drain()
	for i, item := range backlog {
		err := m.retrier.Do(ctx, "drain", func(ctx context.Context) error {
			return m.exec(ctx, item)
		})
		if err == nil {
			continue
		}
		if IsTransient(err) || ctx.Err() != nil {
			if qerr := m.queue.PushAll(backlog[i:]); qerr != nil {
				slog.Error("offline queue overflow while requeueing", "dropped", len(backlog)-i, "error", qerr)
			}
			m.setStatus(StatusOffline)
			return
		}
		// A fatal error cannot block the operations behind it.
		slog.Error("queued operation failed permanently", "error", err)
	}

	m.setStatus(StatusOnline)
}
