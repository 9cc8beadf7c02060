package resilience

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineQueueFIFO(t *testing.T) {
	q, err := NewOfflineQueue[string](10, "")
	require.NoError(t, err)

	require.NoError(t, q.Push("A"))
	require.NoError(t, q.Push("B"))
	require.NoError(t, q.Push("C"))
	assert.Equal(t, 3, q.Len())

	assert.Equal(t, []string{"A", "B", "C"}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestOfflineQueueCapacity(t *testing.T) {
	q, err := NewOfflineQueue[string](2, "")
	require.NoError(t, err)

	require.NoError(t, q.Push("A"))
	require.NoError(t, q.Push("B"))
	assert.ErrorIs(t, q.Push("C"), ErrQueueFull)
	assert.Equal(t, []string{"A", "B"}, q.Drain())
}

func TestOfflineQueuePersistence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "queue.json")

	q, err := NewOfflineQueue[string](10, file)
	require.NoError(t, err)
	require.NoError(t, q.Push("A"))
	require.NoError(t, q.Push("B"))

	// A restarted process sees the same backlog in the same order.
	reloaded, err := NewOfflineQueue[string](10, file)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Len())
	assert.Equal(t, []string{"A", "B"}, reloaded.Drain())

	// Draining persisted the now-empty state.
	again, err := NewOfflineQueue[string](10, file)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Len())
}

// recorder collects executed operations in order.
type recorder struct {
	mu   sync.Mutex
	ops  []string
	fail map[string]error
}

func newRecorder() *recorder {
	return &recorder{fail: make(map[string]error)}
}

func (r *recorder) exec(_ context.Context, op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[op]; ok {
		return err
	}
	r.ops = append(r.ops, op)
	return nil
}

func (r *recorder) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recorder) failWith(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, op)
	} else {
		r.fail[op] = err
	}
}

func newTestMonitor(t *testing.T, probe Prober, rec *recorder) *Monitor[string] {
	t.Helper()
	m, err := NewMonitor[string](probe, rec.exec,
		WithProbeInterval(5*time.Millisecond),
		WithProbeTimeout(50*time.Millisecond),
		WithRetry(fastRetry(1)),
	)
	require.NoError(t, err)
	return m
}

func TestMonitorDrainsInOrder(t *testing.T) {
	rec := newRecorder()
	m := newTestMonitor(t, func(context.Context) error { return nil }, rec)
	m.MarkOffline()

	for _, op := range []string{"A", "B", "C"} {
		ran, err := m.Submit(context.Background(), op)
		require.NoError(t, err)
		assert.False(t, ran, "offline submissions queue instead of running")
	}
	assert.Equal(t, 3, m.Pending())

	m.reconnect(context.Background())

	assert.Equal(t, []string{"A", "B", "C"}, rec.executed())
	assert.Equal(t, StatusOnline, m.Status())
	assert.Equal(t, 0, m.Pending())
}

func TestMonitorSubmitOnlineExecutes(t *testing.T) {
	rec := newRecorder()
	m := newTestMonitor(t, func(context.Context) error { return nil }, rec)
	m.setStatus(StatusOnline)

	ran, err := m.Submit(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"A"}, rec.executed())
	assert.Equal(t, 0, m.Pending())
}

func TestMonitorTransientFailureQueues(t *testing.T) {
	rec := newRecorder()
	rec.failWith("A", &transientErr{msg: "link down"})
	m := newTestMonitor(t, func(context.Context) error { return nil }, rec)
	m.setStatus(StatusOnline)

	ran, err := m.Submit(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, StatusOffline, m.Status())
	assert.Equal(t, 1, m.Pending())

	// Once the link is back the queued operation goes through.
	rec.failWith("A", nil)
	m.reconnect(context.Background())
	assert.Equal(t, []string{"A"}, rec.executed())
	assert.Equal(t, StatusOnline, m.Status())
}

func TestMonitorFatalFailureSurfaces(t *testing.T) {
	rec := newRecorder()
	boom := &fatalErr{msg: "rejected"}
	rec.failWith("A", boom)
	m := newTestMonitor(t, func(context.Context) error { return nil }, rec)
	m.setStatus(StatusOnline)

	ran, err := m.Submit(context.Background(), "A")
	assert.True(t, ran)
	assert.Same(t, boom, err)
	assert.Equal(t, StatusOnline, m.Status(), "fatal errors are not connectivity loss")
	assert.Equal(t, 0, m.Pending())
}

func TestMonitorDrainStopsOnTransientFailure(t *testing.T) {
	rec := newRecorder()
	m := newTestMonitor(t, func(context.Context) error { return nil }, rec)
	m.MarkOffline()

	for _, op := range []string{"A", "B", "C"} {
		_, err := m.Submit(context.Background(), op)
		require.NoError(t, err)
	}

	// B cannot run yet: the drain must keep C behind it.
	rec.failWith("B", &transientErr{msg: "still down"})
	m.reconnect(context.Background())

	assert.Equal(t, []string{"A"}, rec.executed())
	assert.Equal(t, StatusOffline, m.Status())
	assert.Equal(t, 2, m.Pending())

	rec.failWith("B", nil)
	m.reconnect(context.Background())
	assert.Equal(t, []string{"A", "B", "C"}, rec.executed())
	assert.Equal(t, StatusOnline, m.Status())
}

func TestMonitorDrainSkipsFatalOperations(t *testing.T) {
	rec := newRecorder()
	rec.failWith("B", &fatalErr{msg: "rejected"})
	m := newTestMonitor(t, func(context.Context) error { return nil }, rec)
	m.MarkOffline()

	for _, op := range []string{"A", "B", "C"} {
		_, err := m.Submit(context.Background(), op)
		require.NoError(t, err)
	}

	m.reconnect(context.Background())

	assert.Equal(t, []string{"A", "C"}, rec.executed(), "one rejected operation cannot dam the queue")
	assert.Equal(t, StatusOnline, m.Status())
	assert.Equal(t, 0, m.Pending())
}

func TestMonitorProbeLoop(t *testing.T) {
	var mu sync.Mutex
	reachable := false
	probe := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if !reachable {
			return errors.New("unreachable")
		}
		return nil
	}

	rec := newRecorder()
	m := newTestMonitor(t, probe, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	require.Eventually(t, func() bool { return m.Status() == StatusOffline },
		2*time.Second, 5*time.Millisecond)

	_, err := m.Submit(context.Background(), "A")
	require.NoError(t, err)

	mu.Lock()
	reachable = true
	mu.Unlock()

	require.Eventually(t, func() bool { return m.Status() == StatusOnline },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A"}, rec.executed())
}

func TestMonitorTransitions(t *testing.T) {
	rec := newRecorder()
	m := newTestMonitor(t, func(context.Context) error { return nil }, rec)

	m.MarkOffline()
	m.reconnect(context.Background())

	var seen []Status
	for len(m.Transitions()) > 0 {
		seen = append(seen, <-m.Transitions())
	}
	assert.Equal(t, []Status{StatusOffline, StatusReconnecting, StatusOnline}, seen)
}
