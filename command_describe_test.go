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

// TestHandleDescribeStatementSuccess verifies that describing a known
// statement returns its parameter and row descriptions.
func TestHandleDescribeStatementSuccess(t *testing.T) {
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

	srv := &Server{logger: logger, Statements: statements, Portals: &DefaultPortalCache{}}

	inputBuf := &bytes.Buffer{}
	mockWriter := mock.NewWriter(t, inputBuf)
	mockWriter.Start(types.ClientDescribe)
	mockWriter.AddByte(byte(types.DescribeStatement))
	mockWriter.AddString("test_stmt")
	mockWriter.AddNullTerminate()
	require.NoError(t, mockWriter.End())

	reader := buffer.NewReader(logger, inputBuf, buffer.DefaultBufferSize)
	_, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	err = srv.handleDescribe(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)

	msgType, _, err := responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerParameterDescription, msgType)

	msgType, _, err = responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerRowDescription, msgType)
}

// TestHandleDescribePortalSuccess verifies that describing a bound portal
// returns its row description using the portal's result formats.
func TestHandleDescribePortalSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := testLogger(t)

	portals := &DefaultPortalCache{}
	stmt := NewStatement(
		func(ctx context.Context, writer DataWriter, parameters []Parameter) error { return nil },
		WithParameters([]oid.Oid{oid.T_int4}),
		WithColumns(Columns{{Name: "col1", Oid: oid.T_int4}}),
	)

	formats := []FormatCode{BinaryFormat}
	err := portals.Bind(ctx, "test_portal", stmt, nil, formats)
	require.NoError(t, err)

	srv := &Server{logger: logger, Portals: portals}

	inputBuf := &bytes.Buffer{}
	mockWriter := mock.NewWriter(t, inputBuf)
	mockWriter.Start(types.ClientDescribe)
	mockWriter.AddByte(byte(types.DescribePortal))
	mockWriter.AddString("test_portal")
	mockWriter.AddNullTerminate()
	require.NoError(t, mockWriter.End())

	reader := buffer.NewReader(logger, inputBuf, buffer.DefaultBufferSize)
	_, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	err = srv.handleDescribe(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)
	msgType, _, err := responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerRowDescription, msgType)
}

// TestHandleDescribeUnknownStatement verifies that describing an unknown
// statement name returns an error.
func TestHandleDescribeUnknownStatement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := testLogger(t)

	srv := &Server{logger: logger, Statements: &DefaultStatementCache{}, Portals: &DefaultPortalCache{}}

	inputBuf := &bytes.Buffer{}
	mockWriter := mock.NewWriter(t, inputBuf)
	mockWriter.Start(types.ClientDescribe)
	mockWriter.AddByte(byte(types.DescribeStatement))
	mockWriter.AddString("unknown_stmt")
	mockWriter.AddNullTerminate()
	require.NoError(t, mockWriter.End())

	reader := buffer.NewReader(logger, inputBuf, buffer.DefaultBufferSize)
	_, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	err = srv.handleDescribe(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)
	msgType, _, err := responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerErrorResponse, msgType)
}
