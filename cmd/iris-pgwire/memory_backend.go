package main

import (
	"context"
	"sync"

	"github.com/intersystems-community/iris-pgwire/internal/executor"
)

// memoryBackend is a toy EmbeddedBackend for running the server without a
// real IRIS connection, the way the core's own examples run wire.NewServer
// against an in-memory handler instead of a live backend. It answers every
// statement with a single row holding 1; it exists so
// `iris-pgwire serve` has something to talk to out of the box; a production
// deployment supplies its own EmbeddedBackend or external DriverConn wired
// against the real IRIS driver. CopyIn/CopyOut are backed by an in-memory
// table store so a COPY round trip has somewhere real to land without a
// backend connection.
type memoryBackend struct {
	mu     sync.Mutex
	tables map[string][][]executor.Value
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{tables: make(map[string][][]executor.Value)}
}

func (b *memoryBackend) Prepare(ctx context.Context, sql string) (*executor.StatementHandle, error) {
	return &executor.StatementHandle{
		ResultFields: []executor.Field{{Name: "?column?", TypeOID: 23, TypeSize: 4}},
	}, nil
}

func (b *memoryBackend) Execute(ctx context.Context, stmt *executor.StatementHandle, params []executor.Value, rowLimit int) (executor.RowStream, error) {
	return &oneRowStream{row: []executor.Value{{Text: []byte("1")}}}, nil
}

func (b *memoryBackend) ExecuteScript(ctx context.Context, sql string) ([]executor.ResultSet, error) {
	return []executor.ResultSet{{Tag: "SELECT 1", Rows: &oneRowStream{row: []executor.Value{{Text: []byte("1")}}}}}, nil
}

func (b *memoryBackend) Begin(ctx context.Context) error    { return nil }
func (b *memoryBackend) Commit(ctx context.Context) error   { return nil }
func (b *memoryBackend) Rollback(ctx context.Context) error { return nil }
func (b *memoryBackend) Close() error                       { return nil }

// CopyIn appends rows to the named in-memory table, creating it on first use.
func (b *memoryBackend) CopyIn(ctx context.Context, table string, columns []string, rows [][]executor.Value) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tables[table] = append(b.tables[table], rows...)
	return int64(len(rows)), nil
}

// CopyOut streams whatever rows were previously copied into the named table.
func (b *memoryBackend) CopyOut(ctx context.Context, table string, columns []string) (executor.RowStream, error) {
	b.mu.Lock()
	rows := append([][]executor.Value(nil), b.tables[table]...)
	b.mu.Unlock()

	return &sliceRowStream{all: rows}, nil
}

// sliceRowStream streams a fixed, pre-materialized slice of rows.
type sliceRowStream struct {
	all  [][]executor.Value
	next int
}

func (s *sliceRowStream) Next(ctx context.Context) ([]executor.Value, bool, error) {
	if s.next >= len(s.all) {
		return nil, false, nil
	}
	row := s.all[s.next]
	s.next++
	return row, true, nil
}

func (s *sliceRowStream) Close() {}

// oneRowStream yields a single row then ends.
type oneRowStream struct {
	row  []executor.Value
	done bool
}

func (s *oneRowStream) Next(ctx context.Context) ([]executor.Value, bool, error) {
	if s.done {
		return nil, false, nil
	}
	s.done = true
	return s.row, true, nil
}

func (s *oneRowStream) Close() {}
