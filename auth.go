package wire

import (
	"context"
	"errors"
	"fmt"

	"github.com/xdg-go/scram"

	"github.com/intersystems-community/iris-pgwire/codes"
	pgerror "github.com/intersystems-community/iris-pgwire/errors"
	"github.com/intersystems-community/iris-pgwire/pkg/buffer"
	"github.com/intersystems-community/iris-pgwire/pkg/types"
)

// authType represents the manner in which a client is able to authenticate
type authType int32

const (
	// authOK indicates that the connection has been authenticated and the client
	// is allowed to proceed.
	authOK authType = 0
	// authClearTextPassword is a authentication type used to tell the client to identify
	// itself by sending the password in clear text to the Postgres server.
	authClearTextPassword authType = 3
	// authSASL requests that the client begin a SASL authentication conversation.
	authSASL authType = 10
	// authSASLContinue carries an intermediate SASL challenge from the server.
	authSASLContinue authType = 11
	// authSASLFinal carries the final SASL exchange outcome from the server.
	authSASLFinal authType = 12
)

// mechanismSCRAMSHA256 is the SASL mechanism name advertised for SCRAM-SHA-256.
const mechanismSCRAMSHA256 = "SCRAM-SHA-256"

// AuthStrategy represents a authentication strategy used to authenticate a user
type AuthStrategy func(ctx context.Context, writer *buffer.Writer, reader *buffer.Reader) (context.Context, error)

// handleAuth handles the client authentication for the given connection.
// This methods validates the incoming credentials and writes to the client whether
// the provided credentials are correct. When the provided credentials are invalid
// or any unexpected error occures is an error returned and should the connection be closed.
func (srv *Server) handleAuth(ctx context.Context, reader *buffer.Reader, writer *buffer.Writer) (context.Context, error) {
	srv.logger.Debug("authenticating client connection")

	if srv.Auth == nil {
		// No authentication strategy configured.
		// Announcing to the client that the connection is authenticated
		params := ClientParameters(ctx)
		err := writeAuthType(writer, authOK, nil)
		if err != nil {
			return ctx, err
		}

		return setAuthInfo(ctx, params[ParamUsername], false), nil
	}

	return srv.Auth(ctx, writer, reader)
}

// ClearTextPassword announces to the client to authenticate by sending a
// clear text password and validates if the provided username (received inside
// the client parameters) and password (received inside a PasswordMessage) are valid. If the provided credentials are invalid
// or any unexpected error occures is an error returned and should the connection be closed.
func ClearTextPassword(validate func(username, password string) (bool, error)) AuthStrategy {
	return func(ctx context.Context, writer *buffer.Writer, reader *buffer.Reader) (context.Context, error) {
		err := writeAuthType(writer, authClearTextPassword, nil)
		if err != nil {
			return ctx, err
		}

		params := ClientParameters(ctx)
		t, _, err := reader.ReadTypedMsg()
		if err != nil {
			return ctx, err
		}

		if t != types.ClientPassword {
			return ctx, errors.New("unexpected password message")
		}

		password, err := reader.GetString()
		if err != nil {
			return ctx, err
		}

		valid, err := validate(params[ParamUsername], password)
		if err != nil {
			return ctx, err
		}

		if !valid {
			return ctx, ErrorCode(writer, pgerror.WithCode(errors.New("invalid username/password"), codes.InvalidPassword))
		}

		err = writeAuthType(writer, authOK, nil)
		if err != nil {
			return ctx, err
		}

		return setAuthInfo(ctx, params[ParamUsername], false), nil
	}
}

// SCRAMSHA256 announces to the client to authenticate using the SCRAM-SHA-256
// SASL mechanism, per RFC 5802. credentials resolves the stored salt/iteration
// count/server key material for the connecting user, the way a real server
// authenticates without ever storing the plain text password.
func SCRAMSHA256(credentials func(username string) (scram.StoredCredentials, error)) AuthStrategy {
	return func(ctx context.Context, writer *buffer.Writer, reader *buffer.Reader) (context.Context, error) {
		params := ClientParameters(ctx)
		username := params[ParamUsername]

		err := writeSASLMechanisms(writer, mechanismSCRAMSHA256)
		if err != nil {
			return ctx, err
		}

		t, _, err := reader.ReadTypedMsg()
		if err != nil {
			return ctx, err
		}

		if t != types.ClientPassword {
			return ctx, errors.New("unexpected SASLInitialResponse message")
		}

		mechanism, err := reader.GetString()
		if err != nil {
			return ctx, err
		}

		if mechanism != mechanismSCRAMSHA256 {
			return ctx, fmt.Errorf("unsupported SASL mechanism: %s", mechanism)
		}

		clientFirst, err := readSASLResponse(reader)
		if err != nil {
			return ctx, err
		}

		server, err := scram.SHA256.NewServer(func(user string) (scram.StoredCredentials, error) {
			return credentials(username)
		})
		if err != nil {
			return ctx, err
		}

		conv := server.NewConversation()
		serverFirst, err := conv.Step(string(clientFirst))
		if err != nil {
			return ctx, ErrorCode(writer, pgerror.WithCode(err, codes.InvalidPassword))
		}

		err = writeAuthType(writer, authSASLContinue, []byte(serverFirst))
		if err != nil {
			return ctx, err
		}

		t, _, err = reader.ReadTypedMsg()
		if err != nil {
			return ctx, err
		}

		if t != types.ClientPassword {
			return ctx, errors.New("unexpected SASLResponse message")
		}

		clientFinal := string(reader.Msg)

		serverFinal, err := conv.Step(clientFinal)
		if err != nil {
			return ctx, ErrorCode(writer, pgerror.WithCode(err, codes.InvalidPassword))
		}

		if !conv.Valid() {
			return ctx, ErrorCode(writer, pgerror.WithCode(errors.New("invalid username/password"), codes.InvalidPassword))
		}

		err = writeAuthType(writer, authSASLFinal, []byte(serverFinal))
		if err != nil {
			return ctx, err
		}

		err = writeAuthType(writer, authOK, nil)
		if err != nil {
			return ctx, err
		}

		return setAuthInfo(ctx, username, false), nil
	}
}

// readSASLResponse reads the raw SASL mechanism payload of a
// SASLInitialResponse message: a 4-byte length prefix followed by that many
// bytes, with no NUL terminator. A SASLResponse has no such prefix; its whole
// body is the payload.
func readSASLResponse(reader *buffer.Reader) ([]byte, error) {
	length, err := reader.GetUint32()
	if err != nil {
		return nil, err
	}

	return reader.GetBytes(int(length))
}

// writeSASLMechanisms announces the SASL mechanisms supported by the server.
func writeSASLMechanisms(writer *buffer.Writer, mechanisms ...string) error {
	writer.Start(types.ServerAuth)
	writer.AddInt32(int32(authSASL))
	for _, mechanism := range mechanisms {
		writer.AddString(mechanism)
		writer.AddNullTerminate()
	}
	writer.AddNullTerminate()
	return writer.End()
}

// writeAuthType writes the auth type to the client informing the client about the
// authentication status and the expected data to be received. data carries the
// SASL challenge/outcome payload for SASL continue/final messages, and is nil
// otherwise.
func writeAuthType(writer *buffer.Writer, status authType, data []byte) error {
	writer.Start(types.ServerAuth)
	writer.AddInt32(int32(status))
	writer.AddBytes(data)
	return writer.End()
}

// IsSuperUser checks whether the given connection context is a super user
func IsSuperUser(ctx context.Context) bool {
	val := ctx.Value(ctxAuthInfo)
	if val == nil {
		return false
	}

	return val.(authInfo).superuser
}

// AuthenticatedUsername returns the username of the authenticated user of the
// given connection context
func AuthenticatedUsername(ctx context.Context) string {
	val := ctx.Value(ctxAuthInfo)
	if val == nil {
		parameters := ClientParameters(ctx)
		return parameters[ParamUsername]
	}

	return val.(authInfo).username
}
