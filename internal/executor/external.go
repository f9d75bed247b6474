package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/intersystems-community/iris-pgwire/internal/pool"
)

// DriverConn is the driver-agnostic capability an external backend
// connection must expose beyond pool.Conn. A concrete IRIS driver package
// outside this repo implements it; External only depends on the interface.
type DriverConn interface {
	pool.Conn
	Prepare(ctx context.Context, sql string) (*StatementHandle, error)
	Execute(ctx context.Context, stmt *StatementHandle, params []Value, rowLimit int) (RowStream, error)
	ExecuteScript(ctx context.Context, sql string) ([]ResultSet, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	CopyIn(ctx context.Context, table string, columns []string, rows [][]Value) (int64, error)
	CopyOut(ctx context.Context, table string, columns []string) (RowStream, error)
}

// External runs calls against a Backend Handle borrowed from a connection
// Pool. A handle is acquired for the duration of a single statement, or
// pinned for the duration of a transaction/COPY between Begin and
// Commit/Rollback.
type External struct {
	pool *pool.Pool

	mu     sync.Mutex
	pinned *pool.Handle
}

// NewExternal builds an External executor over the given pool.
func NewExternal(p *pool.Pool) *External {
	return &External{pool: p}
}

func (e *External) driverConn(h *pool.Handle) DriverConn {
	return h.Conn.(DriverConn)
}

// acquire returns the pinned handle if one is active, otherwise borrows a
// fresh one for the duration of the call.
func (e *External) acquire(ctx context.Context) (h *pool.Handle, release func(), err error) {
	e.mu.Lock()
	if e.pinned != nil {
		h := e.pinned
		e.mu.Unlock()
		return h, func() {}, nil
	}
	e.mu.Unlock()

	h, err = e.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return h, func() { e.pool.Release(h, true) }, nil
}

// Prepare implements Executor.
func (e *External) Prepare(ctx context.Context, sql string) (*StatementHandle, error) {
	h, release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	h.MarkQuery()
	return e.driverConn(h).Prepare(ctx, sql)
}

// Execute implements Executor.
func (e *External) Execute(ctx context.Context, stmt *StatementHandle, params []Value, rowLimit int) (RowStream, error) {
	h, release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	h.MarkQuery()
	return e.driverConn(h).Execute(ctx, stmt, params, rowLimit)
}

// ExecuteScript implements Executor.
func (e *External) ExecuteScript(ctx context.Context, sql string) ([]ResultSet, error) {
	h, release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	h.MarkQuery()
	return e.driverConn(h).ExecuteScript(ctx, sql)
}

// Begin implements Executor. It pins a handle for the lifetime of the
// transaction: Execute/ExecuteScript calls made before Commit/Rollback
// reuse the same backend connection.
func (e *External) Begin(ctx context.Context) error {
	h, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	if err := e.driverConn(h).Begin(ctx); err != nil {
		e.pool.Release(h, false)
		return err
	}

	h.SetInTransaction(true)
	e.mu.Lock()
	e.pinned = h
	e.mu.Unlock()
	return nil
}

// Commit implements Executor.
func (e *External) Commit(ctx context.Context) error {
	return e.endTx(ctx, DriverConn.Commit)
}

// Rollback implements Executor.
func (e *External) Rollback(ctx context.Context) error {
	return e.endTx(ctx, DriverConn.Rollback)
}

func (e *External) currentPinned() *pool.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pinned
}

func (e *External) endTx(ctx context.Context, end func(DriverConn, context.Context) error) error {
	e.mu.Lock()
	h := e.pinned
	e.mu.Unlock()

	if h == nil {
		return errors.New("executor: no transaction is active")
	}

	err := end(e.driverConn(h), ctx)

	h.SetInTransaction(false)
	e.mu.Lock()
	e.pinned = nil
	e.mu.Unlock()
	e.pool.Release(h, err == nil)

	return err
}

// CopyIn implements Executor.
func (e *External) CopyIn(ctx context.Context, table string, columns []string, rows [][]Value) (int64, error) {
	h, release, err := e.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	h.MarkQuery()
	return e.driverConn(h).CopyIn(ctx, table, columns, rows)
}

// CopyOut implements Executor.
func (e *External) CopyOut(ctx context.Context, table string, columns []string) (RowStream, error) {
	h, release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	h.MarkQuery()
	return e.driverConn(h).CopyOut(ctx, table, columns)
}

// CancelRunning implements Executor. The external driver is responsible for
// interrupting its own in-flight call; External has no cancel hook beyond
// what the caller's context already provides.
func (e *External) CancelRunning() {}

// Close implements Executor.
func (e *External) Close() error {
	e.mu.Lock()
	h := e.pinned
	e.pinned = nil
	e.mu.Unlock()

	if h != nil {
		e.pool.Release(h, false)
	}
	return nil
}
