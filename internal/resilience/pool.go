package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns       int
	MinIdle        int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	DialTimeout    time.Duration
	AcquireTimeout time.Duration
	ProbeInterval  time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:       10,
		MinIdle:        2,
		IdleTimeout:    5 * time.Minute,
		MaxLifetime:    30 * time.Minute,
		DialTimeout:    10 * time.Second,
		AcquireTimeout: 5 * time.Second,
		ProbeInterval:  60 * time.Second,
	}
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Open  int
	Idle  int
	InUse int
}

type pooledConn[C any] struct {
	conn      C
	createdAt time.Time
	lastUsed  time.Time
}

// Lease is one checked-out connection. Release it exactly once; releasing
// with a non-nil error discards the connection instead of recycling it.
type Lease[C any] struct {
	Conn C

	pool    *Pool[C]
	pc      *pooledConn[C]
	release sync.Once
}

func (l *Lease[C]) Release(err error) {
	l.release.Do(func() {
		l.pool.put(l.pc, err == nil)
	})
}

// Pool bounds concurrent remote sessions with a counting semaphore and
// recycles idle connections until they age out.
type Pool[C any] struct {
	cfg   PoolConfig
	dial  func(context.Context) (C, error)
	close func(C) error
	probe func(context.Context, C) error

	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []*pooledConn[C]
	open   int
	closed bool

	stopReaper context.CancelFunc
	reaperDone chan struct{}
}

// NewPool builds a pool over dial. closeFn tears a connection down and may
// be nil; probe health-checks an idle connection and may be nil.
func NewPool[C any](cfg PoolConfig, dial func(context.Context) (C, error), closeFn func(C) error, probe func(context.Context, C) error) *Pool[C] {
	def := DefaultPoolConfig()
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = def.MaxLifetime
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.MinIdle > cfg.MaxConns {
		cfg.MinIdle = cfg.MaxConns
	}

	p := &Pool[C]{
		cfg:        cfg,
		dial:       dial,
		close:      closeFn,
		probe:      probe,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConns)),
		reaperDone: make(chan struct{}),
	}

	reaperCtx, cancel := context.WithCancel(context.Background())
	p.stopReaper = cancel
	go p.reaperLoop(reaperCtx)

	return p
}

// Acquire checks out a connection, dialing a fresh one when no healthy
// idle connection exists. It blocks at the MaxConns bound for at most
// AcquireTimeout and then fails fast with ErrAcquireTimeout.
func (p *Pool[C]) Acquire(ctx context.Context) (*Lease[C], error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	semCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	err := p.sem.Acquire(semCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrAcquireTimeout
	}

	for {
		pc := p.popIdle()
		if pc == nil {
			break
		}
		if p.expired(pc, time.Now()) {
			p.discard(pc)
			continue
		}
		return &Lease[C]{Conn: pc.conn, pool: p, pc: pc}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	conn, err := p.dial(dialCtx)
	cancel()
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	now := time.Now()
	pc := &pooledConn[C]{conn: conn, createdAt: now, lastUsed: now}
	p.mu.Lock()
	p.open++
	p.mu.Unlock()
	return &Lease[C]{Conn: conn, pool: p, pc: pc}, nil
}

// Stats reports open, idle and in-use connection counts.
func (p *Pool[C]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Open:  p.open,
		Idle:  len(p.idle),
		InUse: p.open - len(p.idle),
	}
}

// Close tears down every idle connection and fails all future acquires.
// In-flight leases may still be released afterwards; their connections are
// closed on release.
func (p *Pool[C]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.mu.Unlock()

	p.stopReaper()
	<-p.reaperDone

	for _, pc := range idle {
		p.closeConn(pc)
	}
}

func (p *Pool[C]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool[C]) popIdle() *pooledConn[C] {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	// Most recently used first keeps the working set warm and lets the
	// rest age out.
	pc := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return pc
}

// put returns a released connection to the idle set, or closes it when it
// came back unhealthy, aged out, or the pool is closed.
func (p *Pool[C]) put(pc *pooledConn[C], healthy bool) {
	defer p.sem.Release(1)

	now := time.Now()
	if !healthy || p.expired(pc, now) || p.isClosed() {
		p.discard(pc)
		return
	}

	pc.lastUsed = now
	p.mu.Lock()
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

func (p *Pool[C]) expired(pc *pooledConn[C], now time.Time) bool {
	return now.Sub(pc.createdAt) >= p.cfg.MaxLifetime ||
		now.Sub(pc.lastUsed) >= p.cfg.IdleTimeout
}

// discard closes a connection that is off the idle list.
func (p *Pool[C]) discard(pc *pooledConn[C]) {
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
	p.closeConn(pc)
}

func (p *Pool[C]) closeConn(pc *pooledConn[C]) {
	if p.close == nil {
		return
	}
	if err := p.close(pc.conn); err != nil {
		slog.Debug("closing pooled connection", "error", err)
	}
}

func (p *Pool[C]) reaperLoop(ctx context.Context) {
	defer close(p.reaperDone)

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reap(ctx)
		}
	}
}

// reap evicts idle connections that aged out or fail the health probe,
// then dials back up to MinIdle.
func (p *Pool[C]) reap(ctx context.Context) {
	now := time.Now()

	p.mu.Lock()
	var keep, evict []*pooledConn[C]
	for _, pc := range p.idle {
		if p.expired(pc, now) {
			evict = append(evict, pc)
		} else {
			keep = append(keep, pc)
		}
	}
	p.idle = keep
	p.open -= len(evict)
	p.mu.Unlock()

	for _, pc := range evict {
		p.closeConn(pc)
	}

	if p.probe != nil {
		p.probeIdle(ctx)
	}
	p.topUp(ctx)
}

func (p *Pool[C]) probeIdle(ctx context.Context) {
	p.mu.Lock()
	idle := append([]*pooledConn[C](nil), p.idle...)
	p.mu.Unlock()

	for _, pc := range idle {
		probeCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
		err := p.probe(probeCtx, pc.conn)
		cancel()
		if err == nil {
			continue
		}

		slog.Debug("evicting unhealthy pooled connection", "error", err)
		p.mu.Lock()
		for i, cand := range p.idle {
			if cand == pc {
				p.idle = append(p.idle[:i], p.idle[i+1:]...)
				p.open--
				break
			}
		}
		p.mu.Unlock()
		p.closeConn(pc)
	}
}

func (p *Pool[C]) topUp(ctx context.Context) {
	for {
		p.mu.Lock()
		need := !p.closed && p.open < p.cfg.MinIdle
		p.mu.Unlock()
		if !need {
			return
		}

		dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
		conn, err := p.dial(dialCtx)
		cancel()
		if err != nil {
			slog.Debug("idle top-up dial failed", "error", err)
			return
		}

		now := time.Now()
		p.mu.Lock()
		p.open++
		p.idle = append(p.idle, &pooledConn[C]{conn: conn, createdAt: now, lastUsed: now})
		p.mu.Unlock()
	}
}
