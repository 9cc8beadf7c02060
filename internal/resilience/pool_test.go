package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ id int }

type dialer struct {
	mu     sync.Mutex
	dials  int
	closed []int
}

func (d *dialer) dial(context.Context) (*fakeConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return &fakeConn{id: d.dials}, nil
}

func (d *dialer) close(c *fakeConn) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = append(d.closed, c.id)
	return nil
}

func (d *dialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *dialer) closedIDs() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.closed...)
}

func quietPool(cfg PoolConfig) PoolConfig {
	// Keep the background reaper out of the way; tests drive reap directly.
	cfg.ProbeInterval = time.Hour
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Minute
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = time.Hour
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 100 * time.Millisecond
	}
	return cfg
}

func TestPoolRecyclesConnections(t *testing.T) {
	d := &dialer{}
	p := NewPool(quietPool(PoolConfig{}), d.dial, d.close, nil)
	t.Cleanup(p.Close)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := lease.Conn
	assert.Equal(t, PoolStats{Open: 1, Idle: 0, InUse: 1}, p.Stats())

	lease.Release(nil)
	assert.Equal(t, PoolStats{Open: 1, Idle: 1, InUse: 0}, p.Stats())

	lease, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, lease.Conn, "a healthy idle connection is reused")
	assert.Equal(t, 1, d.dialCount())
	lease.Release(nil)
}

func TestPoolReleaseWithErrorDiscards(t *testing.T) {
	d := &dialer{}
	p := NewPool(quietPool(PoolConfig{}), d.dial, d.close, nil)
	t.Cleanup(p.Close)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release(errors.New("broken pipe"))

	assert.Equal(t, PoolStats{}, p.Stats())
	assert.Equal(t, []int{1}, d.closedIDs())

	lease, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, d.dialCount(), "a discarded connection is not reused")
	lease.Release(nil)
}

func TestPoolDoubleReleaseIsSafe(t *testing.T) {
	d := &dialer{}
	p := NewPool(quietPool(PoolConfig{}), d.dial, d.close, nil)
	t.Cleanup(p.Close)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release(nil)
	lease.Release(nil)

	assert.Equal(t, PoolStats{Open: 1, Idle: 1, InUse: 0}, p.Stats())
}

func TestPoolAcquireTimesOutFast(t *testing.T) {
	d := &dialer{}
	p := NewPool(quietPool(PoolConfig{MaxConns: 1, AcquireTimeout: 50 * time.Millisecond}), d.dial, d.close, nil)
	t.Cleanup(p.Close)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release(nil)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Less(t, time.Since(start), time.Second, "acquisition fails fast instead of queueing")
}

func TestPoolIdleExpiryOnAcquire(t *testing.T) {
	d := &dialer{}
	p := NewPool(quietPool(PoolConfig{IdleTimeout: 20 * time.Millisecond}), d.dial, d.close, nil)
	t.Cleanup(p.Close)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release(nil)

	time.Sleep(30 * time.Millisecond)

	lease, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, d.dialCount(), "an aged-out idle connection is replaced")
	assert.Equal(t, []int{1}, d.closedIDs())
	lease.Release(nil)
}

func TestPoolReapEvictsAndTopsUp(t *testing.T) {
	d := &dialer{}
	p := NewPool(quietPool(PoolConfig{MinIdle: 2, IdleTimeout: 10 * time.Millisecond}), d.dial, d.close, nil)
	t.Cleanup(p.Close)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release(nil)

	time.Sleep(20 * time.Millisecond)
	p.reap(context.Background())

	stats := p.Stats()
	assert.Equal(t, 2, stats.Idle, "reap restores the idle floor")
	assert.Equal(t, []int{1}, d.closedIDs(), "the aged connection was evicted")
}

func TestPoolReapEvictsUnhealthy(t *testing.T) {
	d := &dialer{}
	probe := func(_ context.Context, c *fakeConn) error {
		if c.id == 1 {
			return errors.New("stale session")
		}
		return nil
	}
	p := NewPool(quietPool(PoolConfig{}), d.dial, d.close, probe)
	t.Cleanup(p.Close)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release(nil)

	p.reap(context.Background())

	assert.Equal(t, PoolStats{}, p.Stats())
	assert.Equal(t, []int{1}, d.closedIDs())
}

func TestPoolClose(t *testing.T) {
	d := &dialer{}
	p := NewPool(quietPool(PoolConfig{}), d.dial, d.close, nil)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release(nil)

	p.Close()
	assert.Equal(t, []int{1}, d.closedIDs())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	p.Close()
}
