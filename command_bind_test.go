package wire

import (
	"bytes"
	"context"
	"testing"

	"github.com/intersystems-community/iris-pgwire/pkg/buffer"
	"github.com/intersystems-community/iris-pgwire/pkg/mock"
	"github.com/intersystems-community/iris-pgwire/pkg/types"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHandleBindSuccess verifies that a Bind against a known statement binds
// a portal and responds with BindComplete.
func TestHandleBindSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := testLogger(t)

	statements := &DefaultStatementCache{}
	stmt := NewStatement(
		func(ctx context.Context, writer DataWriter, parameters []Parameter) error { return nil },
		WithParameters([]oid.Oid{oid.T_int4}),
		WithColumns(Columns{{Name: "col1", Oid: oid.T_int4}}),
	)
	require.NoError(t, statements.Set(ctx, "test_stmt", stmt))

	srv := &Server{
		logger:     logger,
		Statements: statements,
		Portals:    &DefaultPortalCache{},
	}

	inputBuf := &bytes.Buffer{}
	mockWriter := mock.NewWriter(t, inputBuf)
	mockWriter.Start(types.ClientBind)
	mockWriter.AddString("test_portal")
	mockWriter.AddNullTerminate()
	mockWriter.AddString("test_stmt")
	mockWriter.AddNullTerminate()
	mockWriter.AddInt16(0) // Param formats
	mockWriter.AddInt16(0) // Param values
	mockWriter.AddInt16(0) // Result formats
	require.NoError(t, mockWriter.End())

	reader := buffer.NewReader(logger, inputBuf, buffer.DefaultBufferSize)
	msgType, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ClientMessage(types.ClientBind), msgType)

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	err = srv.handleBind(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)
	msgType, _, err = responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerBindComplete, msgType)

	p, err := srv.Portals.Get(ctx, "test_portal")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, stmt, p.statement)
}

// TestHandleBindUnknownStatement verifies that binding against an unknown
// statement name fails instead of registering a portal.
func TestHandleBindUnknownStatement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := testLogger(t)

	srv := &Server{
		logger:     logger,
		Statements: &DefaultStatementCache{},
		Portals:    &DefaultPortalCache{},
	}

	inputBuf := &bytes.Buffer{}
	mockWriter := mock.NewWriter(t, inputBuf)
	mockWriter.Start(types.ClientBind)
	mockWriter.AddString("test_portal")
	mockWriter.AddNullTerminate()
	mockWriter.AddString("unknown_stmt")
	mockWriter.AddNullTerminate()
	mockWriter.AddInt16(0)
	mockWriter.AddInt16(0)
	mockWriter.AddInt16(0)
	require.NoError(t, mockWriter.End())

	reader := buffer.NewReader(logger, inputBuf, buffer.DefaultBufferSize)
	_, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	err = srv.handleBind(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)
	msgType, _, err := responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerErrorResponse, msgType)

	p, err := srv.Portals.Get(ctx, "test_portal")
	require.NoError(t, err)
	assert.Nil(t, p)
}
