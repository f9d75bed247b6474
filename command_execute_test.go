package wire

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/intersystems-community/iris-pgwire/pkg/buffer"
	"github.com/intersystems-community/iris-pgwire/pkg/mock"
	"github.com/intersystems-community/iris-pgwire/pkg/types"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleExecute_FullRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctx = setTypeInfo(ctx, pgtype.NewMap())

	logger := testLogger(t)

	mockParse := func(ctx context.Context, query string) (PreparedStatements, error) {
		stmt := NewStatement(
			func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
				if err := writer.Row([]any{"Hello World"}); err != nil {
					return err
				}
				return writer.Complete("SELECT 1")
			},
			WithParameters([]oid.Oid{}),
			WithColumns(Columns{{Name: "greeting", Oid: oid.T_text}}),
		)
		return PreparedStatements{stmt}, nil
	}

	srv := &Server{
		logger:     logger,
		parse:      mockParse,
		Statements: &DefaultStatementCache{},
		Portals:    &DefaultPortalCache{},
	}

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	require.NoError(t, srv.handleParse(ctx, mock.NewParseReader(t, logger, "stmt1", "SELECT 'Hello World'", 0), writer))
	require.NoError(t, srv.handleBind(ctx, mock.NewBindReader(t, logger, "portal1", "stmt1", 0, 0, 0), writer))
	require.NoError(t, srv.handleDescribe(ctx, mock.NewDescribeReader(t, logger, types.DescribePortal, "portal1"), writer))
	require.NoError(t, srv.handleExecute(ctx, mock.NewExecuteReader(t, logger, "portal1", 0), writer))

	responseReader := mock.NewReader(t, outBuf)

	msgType, _, err := responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerParseComplete, msgType)

	msgType, _, err = responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerBindComplete, msgType)

	msgType, _, err = responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerRowDescription, msgType)

	msgType, _, err = responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerDataRow, msgType)

	colCount, err := responseReader.GetUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), colCount)

	colLen, err := responseReader.GetInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(11), colLen)

	val, err := responseReader.GetBytes(11)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(val))

	msgType, _, err = responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerCommandComplete, msgType)

	_, _, err = responseReader.ReadTypedMsg()
	require.Error(t, err)
}

func TestHandleExecute_StatementError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctx = setTypeInfo(ctx, pgtype.NewMap())
	logger := testLogger(t)

	stmtErr := errors.New("statement failed")
	stmt := NewStatement(
		func(ctx context.Context, writer DataWriter, params []Parameter) error { return stmtErr },
		WithParameters([]oid.Oid{}),
		WithColumns(Columns{{Name: "greeting", Oid: oid.T_text}}),
	)

	portals := &DefaultPortalCache{}
	require.NoError(t, portals.Bind(ctx, "err_portal", stmt, nil, nil))

	srv := &Server{logger: logger, Statements: &DefaultStatementCache{}, Portals: portals}

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	reader := mock.NewExecuteReader(t, logger, "err_portal", 0)

	err := srv.handleExecute(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)
	msgType, _, err := responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerErrorResponse, msgType)
}

func TestHandleExecute_UnknownPortal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctx = setTypeInfo(ctx, pgtype.NewMap())
	logger := testLogger(t)

	srv := &Server{logger: logger, Statements: &DefaultStatementCache{}, Portals: &DefaultPortalCache{}}

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	reader := mock.NewExecuteReader(t, logger, "missing_portal", 0)

	err := srv.handleExecute(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)
	msgType, _, err := responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerErrorResponse, msgType)
}

func TestHandleExecute_RowLimitSuspendsPortal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctx = setTypeInfo(ctx, pgtype.NewMap())
	logger := testLogger(t)

	stmt := NewStatement(
		func(ctx context.Context, writer DataWriter, params []Parameter) error {
			for i := 0; i < 3; i++ {
				if err := writer.Row([]any{"row"}); err != nil {
					return err
				}
			}
			return writer.Complete("SELECT 3")
		},
		WithParameters([]oid.Oid{}),
		WithColumns(Columns{{Name: "greeting", Oid: oid.T_text}}),
	)

	portals := &DefaultPortalCache{}
	require.NoError(t, portals.Bind(ctx, "limited_portal", stmt, nil, nil))

	srv := &Server{logger: logger, Statements: &DefaultStatementCache{}, Portals: portals}

	outBuf := &bytes.Buffer{}
	writer := buffer.NewWriter(logger, outBuf)

	reader := mock.NewExecuteReader(t, logger, "limited_portal", 1)

	err := srv.handleExecute(ctx, reader, writer)
	require.NoError(t, err)

	responseReader := mock.NewReader(t, outBuf)

	msgType, _, err := responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerDataRow, msgType)

	_, err = responseReader.GetUint16()
	require.NoError(t, err)
	colLen, err := responseReader.GetInt32()
	require.NoError(t, err)
	_, err = responseReader.GetBytes(int(colLen))
	require.NoError(t, err)

	msgType, _, err = responseReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerPortalSuspended, msgType)
}
