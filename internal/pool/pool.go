// Package pool implements a bounded pool of backend connections for the
// external Executor. It wraps jackc/puddle/v2 with the policies the
// connection pool component needs beyond generic resource pooling: periodic
// health checks of idle handles, age-based recycling on release, and
// exponential-backoff fail-fast behavior while the backend is unreachable.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
)

// ErrServiceUnavailable is returned by Acquire while the pool is in backoff
// following repeated dial failures.
var ErrServiceUnavailable = errors.New("pool: backend unavailable, reconnecting")

// Conn is the minimal capability a pooled backend connection must expose.
// The external executor's DriverConn extends it; the embedded executor does
// not use the pool.
type Conn interface {
	// Ping performs a cheap liveness check against the backend.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// Handle is a pool entry: one native connection plus the bookkeeping the
// pool needs to recycle and health-check it.
type Handle struct {
	ID        uint64
	Conn      Conn
	createdAt time.Time
	queries   atomic.Int64
	inTx      atomic.Bool
}

// Age reports how long this handle has been open.
func (h *Handle) Age() time.Duration { return time.Since(h.createdAt) }

// MarkQuery records that a query ran against this handle.
func (h *Handle) MarkQuery() { h.queries.Add(1) }

// QueryCount returns the number of queries run against this handle.
func (h *Handle) QueryCount() int64 { return h.queries.Load() }

// SetInTransaction flags whether this handle is currently pinned inside a
// transaction or COPY.
func (h *Handle) SetInTransaction(v bool) { h.inTx.Store(v) }

// InTransaction reports whether SetInTransaction(true) was called without a
// matching SetInTransaction(false).
func (h *Handle) InTransaction() bool { return h.inTx.Load() }

// Backoff describes the reconnect policy applied when Dial fails.
type Backoff struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the connection pool component's contract: base 1s,
// factor 2, cap 1024s, 10 attempts.
var DefaultBackoff = Backoff{
	Base:        1 * time.Second,
	Factor:      2,
	Cap:         1024 * time.Second,
	MaxAttempts: 10,
}

func (b Backoff) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d > b.Cap {
			return b.Cap
		}
	}
	return d
}

// Config configures a Pool.
type Config struct {
	// Dial creates a new backend connection.
	Dial func(ctx context.Context) (Conn, error)
	// Size is the base pool size. Size+MaxOverflow must be <= 200.
	Size int32
	// MaxOverflow is the number of connections allowed beyond Size.
	MaxOverflow int32
	// AcquireTimeout bounds how long Acquire waits for a handle.
	AcquireTimeout time.Duration
	// RecycleInterval closes a handle instead of returning it to the pool
	// once it has been open this long.
	RecycleInterval time.Duration
	// HealthCheckInterval is how often idle handles are pinged. Zero
	// disables background health checking.
	HealthCheckInterval time.Duration
	// Backoff governs reconnect behavior after Dial failures.
	Backoff Backoff
	Logger  *slog.Logger
}

// Pool is a bounded pool of Handle values backed by puddle.
type Pool struct {
	cfg    Config
	inner  *puddle.Pool[*Handle]
	logger *slog.Logger

	mu           sync.Mutex
	failures     int
	nextAttempt  time.Time
	reconnecting bool

	nextID atomic.Uint64

	handleResources resourceTable

	closeHealth chan struct{}
	healthDone  chan struct{}
}

// New builds a Pool. The absolute ceiling size+overflow <= 200 is the
// caller's responsibility to enforce via Config.
func New(cfg Config) (*Pool, error) {
	if cfg.Dial == nil {
		return nil, errors.New("pool: Dial is required")
	}
	if cfg.Size <= 0 {
		cfg.Size = 50
	}
	if cfg.MaxOverflow < 0 {
		cfg.MaxOverflow = 0
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.RecycleInterval <= 0 {
		cfg.RecycleInterval = time.Hour
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{cfg: cfg, logger: logger}

	inner, err := puddle.NewPool(&puddle.Config[*Handle]{
		Constructor: p.constructor,
		Destructor:  p.destructor,
		MaxSize:     cfg.Size + cfg.MaxOverflow,
	})
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	p.inner = inner

	if cfg.HealthCheckInterval > 0 {
		p.closeHealth = make(chan struct{})
		p.healthDone = make(chan struct{})
		go p.healthLoop()
	}

	return p, nil
}

func (p *Pool) constructor(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.reconnecting && time.Now().Before(p.nextAttempt) {
		p.mu.Unlock()
		return nil, ErrServiceUnavailable
	}
	p.mu.Unlock()

	conn, err := p.cfg.Dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.failures++
		if p.failures >= p.cfg.Backoff.MaxAttempts {
			p.reconnecting = true
			p.nextAttempt = time.Now().Add(p.cfg.Backoff.Cap)
		} else {
			p.reconnecting = true
			p.nextAttempt = time.Now().Add(p.cfg.Backoff.delay(p.failures))
		}
		p.mu.Unlock()
		p.logger.Warn("pool dial failed", slog.Int("failures", p.failures), slog.String("err", err.Error()))
		return nil, err
	}

	p.mu.Lock()
	p.failures = 0
	p.reconnecting = false
	p.mu.Unlock()

	h := &Handle{ID: p.nextID.Add(1), Conn: conn, createdAt: time.Now()}
	return h, nil
}

func (p *Pool) destructor(h *Handle) {
	if err := h.Conn.Close(); err != nil {
		p.logger.Warn("pool handle close failed", slog.Uint64("handle_id", h.ID), slog.String("err", err.Error()))
	}
}

// Acquire obtains a healthy handle, failing with ErrServiceUnavailable if
// the pool is backing off after repeated dial failures, or a deadline
// error if AcquireTimeout elapses first.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	res, err := p.inner.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrServiceUnavailable) {
			return nil, ErrServiceUnavailable
		}
		return nil, fmt.Errorf("pool: acquire: %w", err)
	}

	h := res.Value()
	if h.Age() > p.cfg.RecycleInterval {
		res.Destroy()
		return p.Acquire(ctx)
	}

	p.handleResources.store(h, res)
	return h, nil
}

// resourceTable tracks the puddle Resource backing each handle so Release
// can hand it back without the caller needing to know about puddle.
type resourceTable struct {
	mu  sync.Mutex
	res map[*Handle]*puddle.Resource[*Handle]
}

func (t *resourceTable) store(h *Handle, r *puddle.Resource[*Handle]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.res == nil {
		t.res = make(map[*Handle]*puddle.Resource[*Handle])
	}
	t.res[h] = r
}

func (t *resourceTable) take(h *Handle) *puddle.Resource[*Handle] {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.res[h]
	delete(t.res, h)
	return r
}

// Release returns a handle to the pool. If reuseOk is false, or the handle
// has outlived RecycleInterval, it is destroyed instead.
func (p *Pool) Release(h *Handle, reuseOk bool) {
	res := p.handleResources.take(h)
	if res == nil {
		return
	}

	if !reuseOk || h.Age() > p.cfg.RecycleInterval {
		res.Destroy()
		return
	}

	res.Release()
}

// Stat reports current pool occupancy.
type Stat struct {
	AcquiredResources int32
	IdleResources     int32
	TotalResources    int32
}

// Stat returns current pool occupancy, satisfying the invariant
// AcquiredResources+IdleResources <= TotalResources <= Size+MaxOverflow.
func (p *Pool) Stat() Stat {
	s := p.inner.Stat()
	return Stat{
		AcquiredResources: s.AcquiredResources(),
		IdleResources:     s.IdleResources(),
		TotalResources:    s.TotalResources(),
	}
}

func (p *Pool) healthLoop() {
	defer close(p.healthDone)

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkIdle()
		case <-p.closeHealth:
			return
		}
	}
}

func (p *Pool) checkIdle() {
	idle := p.inner.AcquireAllIdle()
	for _, res := range idle {
		h := res.Value()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := h.Conn.Ping(ctx)
		cancel()

		if err != nil {
			p.logger.Warn("pool health check failed, closing handle",
				slog.Uint64("handle_id", h.ID), slog.String("err", err.Error()))
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

// Close stops the health-check loop and closes every pooled connection.
func (p *Pool) Close() {
	if p.closeHealth != nil {
		close(p.closeHealth)
		<-p.healthDone
	}
	p.inner.Close()
}
