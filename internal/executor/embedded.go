package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// EmbeddedBackend is the in-process runtime call the embedded Executor
// makes under its concurrency bound. It is supplied by the process embedding the
// IRIS runtime; this package never talks to IRIS directly.
type EmbeddedBackend interface {
	Prepare(ctx context.Context, sql string) (*StatementHandle, error)
	Execute(ctx context.Context, stmt *StatementHandle, params []Value, rowLimit int) (RowStream, error)
	ExecuteScript(ctx context.Context, sql string) ([]ResultSet, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	CopyIn(ctx context.Context, table string, columns []string, rows [][]Value) (int64, error)
	CopyOut(ctx context.Context, table string, columns []string) (RowStream, error)
	Close() error
}

// Embedded runs calls into an EmbeddedBackend under a semaphore that bounds
// concurrent backend calls across all sessions sharing one process. Each
// call runs on the calling goroutine, which blocks until the backend
// returns; no dedicated worker goroutine or OS thread is used.
type Embedded struct {
	backend EmbeddedBackend
	sem     *semaphore.Weighted

	mu        sync.Mutex
	cancelCur context.CancelFunc
}

// NewEmbedded builds an Embedded executor. workers bounds the number of
// concurrent in-flight backend calls across every session using backend.
func NewEmbedded(backend EmbeddedBackend, workers int64) *Embedded {
	if workers <= 0 {
		workers = 1
	}
	return &Embedded{backend: backend, sem: semaphore.NewWeighted(workers)}
}

// run acquires a semaphore slot, tracks a cancel func for CancelRunning, and
// invokes fn on the calling goroutine while holding the slot.
func (e *Embedded) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	callCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelCur = cancel
	e.mu.Unlock()
	defer cancel()

	return fn(callCtx)
}

// Prepare implements Executor.
func (e *Embedded) Prepare(ctx context.Context, sql string) (*StatementHandle, error) {
	var handle *StatementHandle
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		handle, err = e.backend.Prepare(ctx, sql)
		return err
	})
	return handle, err
}

// Execute implements Executor.
func (e *Embedded) Execute(ctx context.Context, stmt *StatementHandle, params []Value, rowLimit int) (RowStream, error) {
	var rows RowStream
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		rows, err = e.backend.Execute(ctx, stmt, params, rowLimit)
		return err
	})
	return rows, err
}

// ExecuteScript implements Executor.
func (e *Embedded) ExecuteScript(ctx context.Context, sql string) ([]ResultSet, error) {
	var results []ResultSet
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		results, err = e.backend.ExecuteScript(ctx, sql)
		return err
	})
	return results, err
}

// Begin implements Executor.
func (e *Embedded) Begin(ctx context.Context) error {
	return e.run(ctx, e.backend.Begin)
}

// Commit implements Executor.
func (e *Embedded) Commit(ctx context.Context) error {
	return e.run(ctx, e.backend.Commit)
}

// Rollback implements Executor.
func (e *Embedded) Rollback(ctx context.Context) error {
	return e.run(ctx, e.backend.Rollback)
}

// CopyIn implements Executor.
func (e *Embedded) CopyIn(ctx context.Context, table string, columns []string, rows [][]Value) (int64, error) {
	var n int64
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		n, err = e.backend.CopyIn(ctx, table, columns, rows)
		return err
	})
	return n, err
}

// CopyOut implements Executor.
func (e *Embedded) CopyOut(ctx context.Context, table string, columns []string) (RowStream, error) {
	var rows RowStream
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		rows, err = e.backend.CopyOut(ctx, table, columns)
		return err
	})
	return rows, err
}

// CancelRunning implements Executor. Best-effort: if no call is in flight
// this is a no-op.
func (e *Embedded) CancelRunning() {
	e.mu.Lock()
	cancel := e.cancelCur
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close implements Executor.
func (e *Embedded) Close() error {
	return e.backend.Close()
}
