package wire

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/intersystems-community/iris-pgwire/pkg/buffer"
	"github.com/intersystems-community/iris-pgwire/pkg/types"
	"github.com/stretchr/testify/require"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultHandleAuth(t *testing.T) {
	input := bytes.NewBuffer([]byte{})
	sink := bytes.NewBuffer([]byte{})

	ctx := context.Background()
	reader := buffer.NewReader(nopLogger(), input, buffer.DefaultBufferSize)
	writer := buffer.NewWriter(nopLogger(), sink)

	server := &Server{logger: nopLogger()}
	ctx, err := server.handleAuth(ctx, reader, writer)
	require.NoError(t, err)
	require.NotNil(t, ctx)

	result := buffer.NewReader(nopLogger(), sink, buffer.DefaultBufferSize)
	ty, ln, err := result.ReadTypedMsg()
	require.NoError(t, err)

	if ln == 0 {
		t.Error("unexpected length, expected typed message length to be greater then 0")
	}

	if ty != 'R' {
		t.Errorf("unexpected message type %s, expected 'R'", strconv.QuoteRune(rune(ty)))
	}

	status, err := result.GetUint32()
	require.NoError(t, err)

	if authType(status) != authOK {
		t.Errorf("unexpected auth status %d, expected OK", status)
	}
}

func TestClearTextPassword(t *testing.T) {
	expected := "password"

	input := bytes.NewBuffer([]byte{})
	incoming := buffer.NewWriter(nopLogger(), input)

	// NOTE: we could reuse the server buffered writer to write client messages
	incoming.Start(types.ServerMessage(types.ClientPassword))
	incoming.AddString(expected)
	incoming.AddNullTerminate()
	incoming.End() //nolint:errcheck

	validate := func(username, password string) (bool, error) {
		if password != expected {
			return false, fmt.Errorf("unexpected password: %s", password)
		}

		return true, nil
	}

	sink := bytes.NewBuffer([]byte{})

	ctx := setClientParameters(context.Background(), Parameters{ParamUsername: "user"})
	reader := buffer.NewReader(nopLogger(), input, buffer.DefaultBufferSize)
	writer := buffer.NewWriter(nopLogger(), sink)

	server := &Server{logger: nopLogger(), Auth: ClearTextPassword(validate)}
	out, err := server.handleAuth(ctx, reader, writer)
	require.NoError(t, err)
	require.Equal(t, "user", AuthenticatedUsername(out))
}
