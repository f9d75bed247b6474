package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	prepareCalls atomic.Int32
	executeDelay time.Duration
	beginErr     error
	closed       atomic.Bool
}

func (b *fakeBackend) Prepare(ctx context.Context, sql string) (*StatementHandle, error) {
	b.prepareCalls.Add(1)
	return &StatementHandle{}, nil
}

func (b *fakeBackend) Execute(ctx context.Context, stmt *StatementHandle, params []Value, rowLimit int) (RowStream, error) {
	if b.executeDelay > 0 {
		select {
		case <-time.After(b.executeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, nil
}

func (b *fakeBackend) ExecuteScript(ctx context.Context, sql string) ([]ResultSet, error) {
	return nil, nil
}

func (b *fakeBackend) Begin(ctx context.Context) error    { return b.beginErr }
func (b *fakeBackend) Commit(ctx context.Context) error   { return nil }
func (b *fakeBackend) Rollback(ctx context.Context) error { return nil }

func (b *fakeBackend) CopyIn(ctx context.Context, table string, columns []string, rows [][]Value) (int64, error) {
	return int64(len(rows)), nil
}

func (b *fakeBackend) CopyOut(ctx context.Context, table string, columns []string) (RowStream, error) {
	return nil, nil
}

func (b *fakeBackend) Close() error {
	b.closed.Store(true)
	return nil
}

func TestEmbeddedPrepareDelegatesToBackend(t *testing.T) {
	backend := &fakeBackend{}
	e := NewEmbedded(backend, 2)

	stmt, err := e.Prepare(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.NotNil(t, stmt)
	assert.Equal(t, int32(1), backend.prepareCalls.Load())
}

func TestEmbeddedBeginPropagatesError(t *testing.T) {
	wantErr := errors.New("backend unavailable")
	e := NewEmbedded(&fakeBackend{beginErr: wantErr}, 1)

	err := e.Begin(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestEmbeddedBoundsConcurrentCalls(t *testing.T) {
	backend := &fakeBackend{executeDelay: 50 * time.Millisecond}
	e := NewEmbedded(backend, 1)

	errs := make(chan error, 2)
	start := time.Now()
	for i := 0; i < 2; i++ {
		go func() {
			_, err := e.Execute(context.Background(), &StatementHandle{}, nil, 0)
			errs <- err
		}()
	}

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestEmbeddedCancelRunningIsBestEffort(t *testing.T) {
	e := NewEmbedded(&fakeBackend{}, 1)
	e.CancelRunning()

	_, err := e.Prepare(context.Background(), "SELECT 1")
	assert.NoError(t, err)
}

func TestEmbeddedCloseDelegatesToBackend(t *testing.T) {
	backend := &fakeBackend{}
	e := NewEmbedded(backend, 1)

	require.NoError(t, e.Close())
	assert.True(t, backend.closed.Load())
}
