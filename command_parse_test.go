package wire

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/intersystems-community/iris-pgwire/pkg/buffer"
	"github.com/intersystems-community/iris-pgwire/pkg/mock"
	"github.com/intersystems-community/iris-pgwire/pkg/types"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHandleParseSuccess verifies that a successful Parse caches the
// statement and responds with ParseComplete.
func TestHandleParseSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := testLogger(t)

	mockParse := func(ctx context.Context, query string) (PreparedStatements, error) {
		stmt := NewStatement(
			func(ctx context.Context, writer DataWriter, parameters []Parameter) error { return nil },
			WithParameters([]oid.Oid{oid.T_text, oid.T_int4}),
			WithColumns(Columns{{Name: "id", Oid: oid.T_int4}, {Name: "name", Oid: oid.T_text}}),
		)
		return PreparedStatements{stmt}, nil
	}

	srv := &Server{logger: logger, parse: mockParse, Statements: &DefaultStatementCache{}}

	inputBuf := &bytes.Buffer{}
	mockWriter := mock.NewWriter(t, inputBuf)
	mockWriter.Start(types.ClientParse)
	mockWriter.AddString("test_stmt")
	mockWriter.AddNullTerminate()
	mockWriter.AddString("SELECT 1")
	mockWriter.AddNullTerminate()
	mockWriter.AddInt16(0)
	require.NoError(t, mockWriter.End())

	reader := buffer.NewReader(logger, inputBuf, buffer.DefaultBufferSize)
	msgType, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ClientMessage(types.ClientParse), msgType)

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	err = srv.handleParse(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)
	msgType, _, err = responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerParseComplete, msgType)

	stmt, err := srv.Statements.Get(ctx, "test_stmt")
	require.NoError(t, err)
	assert.NotNil(t, stmt)
}

// TestHandleParseMultipleCommands verifies that repeated Parse messages each
// cache their own named statement.
func TestHandleParseMultipleCommands(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := testLogger(t)

	mockParse := func(ctx context.Context, query string) (PreparedStatements, error) {
		stmt := NewStatement(func(ctx context.Context, writer DataWriter, parameters []Parameter) error { return nil })
		return PreparedStatements{stmt}, nil
	}

	srv := &Server{logger: logger, parse: mockParse, Statements: &DefaultStatementCache{}}

	queries := []struct {
		name  string
		query string
	}{
		{"stmt1", "SELECT 1"},
		{"stmt2", "SELECT 2"},
		{"stmt3", "SELECT 3"},
	}

	for _, q := range queries {
		inputBuf := &bytes.Buffer{}
		mockWriter := mock.NewWriter(t, inputBuf)
		mockWriter.Start(types.ClientParse)
		mockWriter.AddString(q.name)
		mockWriter.AddNullTerminate()
		mockWriter.AddString(q.query)
		mockWriter.AddNullTerminate()
		mockWriter.AddInt16(0)
		require.NoError(t, mockWriter.End())

		reader := buffer.NewReader(logger, inputBuf, buffer.DefaultBufferSize)
		_, _, err := reader.ReadTypedMsg()
		require.NoError(t, err)

		err = srv.handleParse(ctx, reader, buffer.NewWriter(logger, &bytes.Buffer{}))
		require.NoError(t, err)
	}

	for _, q := range queries {
		stmt, err := srv.Statements.Get(ctx, q.name)
		require.NoError(t, err)
		assert.NotNil(t, stmt)
	}
}

// TestHandleParseError verifies that a Parse failure writes an error response
// without caching a statement.
func TestHandleParseError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := testLogger(t)

	mockParse := func(ctx context.Context, query string) (PreparedStatements, error) {
		if query == "INVALID SQL" {
			return nil, errors.New("syntax error at or near 'INVALID'")
		}
		return PreparedStatements{NewStatement(func(ctx context.Context, w DataWriter, p []Parameter) error { return nil })}, nil
	}

	srv := &Server{logger: logger, parse: mockParse, Statements: &DefaultStatementCache{}}

	inputBuf := &bytes.Buffer{}
	mockWriter := mock.NewWriter(t, inputBuf)
	mockWriter.Start(types.ClientParse)
	mockWriter.AddString("bad_stmt")
	mockWriter.AddNullTerminate()
	mockWriter.AddString("INVALID SQL")
	mockWriter.AddNullTerminate()
	mockWriter.AddInt16(0)
	require.NoError(t, mockWriter.End())

	reader := buffer.NewReader(logger, inputBuf, buffer.DefaultBufferSize)
	_, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	err = srv.handleParse(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)
	msgType, _, err := responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerErrorResponse, msgType)

	stmt, err := srv.Statements.Get(ctx, "bad_stmt")
	require.NoError(t, err)
	assert.Nil(t, stmt)
}
