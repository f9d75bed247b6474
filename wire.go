package wire

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/intersystems-community/iris-pgwire/codes"
	psqlerr "github.com/intersystems-community/iris-pgwire/errors"
	"github.com/intersystems-community/iris-pgwire/pkg/buffer"
	"github.com/intersystems-community/iris-pgwire/pkg/types"
)

// CloseFn is invoked when a connection is closed or terminated by the client,
// giving the caller a chance to release per-connection resources.
type CloseFn func(ctx context.Context) error

// CancelFn handles a CancelRequest startup message, identifying the target
// backend by the process ID and secret key it was handed inside
// BackendKeyData when its session began.
type CancelFn func(ctx context.Context, processID, secretKey int32) error

// SessionHandler is invoked once a connection has been authenticated, giving
// the caller a chance to attach session-scoped state to the context before
// the command loop starts.
type SessionHandler func(ctx context.Context) (context.Context, error)

// BackendKeyDataFn allocates the process ID and secret key handed to a newly
// authenticated client inside a BackendKeyData message, so that it can later
// issue a CancelRequest identifying this session.
type BackendKeyDataFn func(ctx context.Context) (processID, secretKey int32)

// ListenAndServe opens a new Postgres server using the given address and
// default configurations. The given handler function is used to handle simple
// queries. This method should be used to construct a simple Postgres server for
// testing purposes or simple use cases.
func ListenAndServe(address string, handler ParseFn) error {
	server, err := NewServer(handler)
	if err != nil {
		return err
	}

	return server.ListenAndServe(address)
}

// NewServer constructs a new Postgres server using the given parse function and server options.
func NewServer(parse ParseFn, options ...OptionFn) (*Server, error) {
	sessions := NewSessionRegistry()

	srv := &Server{
		parse:      parse,
		logger:     slog.Default(),
		closer:     make(chan struct{}),
		types:      pgtype.NewMap(),
		Statements: &DefaultStatementCache{},
		Portals:    &DefaultPortalCache{},
		Session:    func(ctx context.Context) (context.Context, error) { return ctx, nil },
		Sessions:   sessions,
		BackendKeyData: func(ctx context.Context) (int32, int32) {
			session := sessions.Register()
			return session.ProcessID, session.SecretKey
		},
		CancelRequest: func(ctx context.Context, processID, secretKey int32) error {
			sessions.Cancel(processID, secretKey)
			return nil
		},
		ShutdownDrain: 30 * time.Second,
		conns:         make(map[net.Conn]struct{}),
	}

	for _, option := range options {
		err := option(srv)
		if err != nil {
			return nil, fmt.Errorf("unexpected error while attempting to configure a new server: %w", err)
		}
	}

	return srv, nil
}

// Server contains options for listening to an address.
type Server struct {
	closing         atomic.Bool
	wg              sync.WaitGroup
	logger          *slog.Logger
	types           *pgtype.Map
	Auth            AuthStrategy
	BufferedMsgSize int
	Parameters      Parameters
	TLSConfig       *tls.Config
	Certificates    []tls.Certificate
	ClientCAs       *x509.CertPool
	ClientAuth      tls.ClientAuthType
	parse           ParseFn
	Session         SessionHandler
	Statements      StatementCache
	Portals         PortalCache
	CloseConn       CloseFn
	TerminateConn   CloseFn
	CancelRequest   CancelFn
	BackendKeyData  BackendKeyDataFn
	Sessions        *SessionRegistry
	ShutdownDrain   time.Duration
	Version         string
	closer          chan struct{}

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// ListenAndServe opens a new Postgres server on the preconfigured address and
// starts accepting and serving incoming client connections.
func (srv *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	return srv.Serve(listener)
}

// Serve accepts and serves incoming Postgres client connections using the
// preconfigured configurations. The given listener will be closed once the
// server is gracefully closed.
func (srv *Server) Serve(listener net.Listener) error {
	defer srv.logger.Info("closing server")

	srv.logger.Info("serving incoming connections", slog.String("addr", listener.Addr().String()))
	srv.wg.Add(1)

	// NOTE: handle graceful shutdowns
	go func() {
		defer srv.wg.Done()
		<-srv.closer

		err := listener.Close()
		if err != nil {
			srv.logger.Error("unexpected error while attempting to close the net listener", "err", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}

		if err != nil {
			return err
		}

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			ctx := context.Background()
			err = srv.serve(ctx, conn)
			if err != nil {
				srv.logger.Error("an unexpected error got returned while serving a client connectio", "err", err)
			}
		}()
	}
}

func (srv *Server) serve(ctx context.Context, conn net.Conn) error {
	ctx = setTypeInfo(ctx, srv.types)
	ctx = setRemoteAddr(ctx, conn.RemoteAddr().String())

	srv.connsMu.Lock()
	srv.conns[conn] = struct{}{}
	srv.connsMu.Unlock()

	defer func() {
		srv.connsMu.Lock()
		delete(srv.conns, conn)
		srv.connsMu.Unlock()
		conn.Close()
	}()

	srv.logger.Debug("serving a new client connection")

	conn, version, reader, err := srv.Handshake(conn)
	if err != nil {
		return err
	}

	if version == types.VersionCancel {
		return conn.Close()
	}

	srv.logger.Debug("handshake successfull, validating authentication")

	writer := buffer.NewWriter(srv.logger, conn)
	ctx, err = srv.readClientParameters(ctx, reader)
	if err != nil {
		return err
	}

	ctx, err = srv.handleAuth(ctx, reader, writer)
	if err != nil {
		return err
	}

	var processID int32
	if srv.BackendKeyData != nil {
		var secretKey int32
		processID, secretKey = srv.BackendKeyData(ctx)
		err = writeBackendKeyData(writer, processID, secretKey)
		if err != nil {
			return err
		}
	}

	if srv.Sessions != nil {
		if session, ok := srv.Sessions.Lookup(processID); ok {
			session.SetNotifyFunc(func(severity, code, message string) error {
				return writeFatal(writer, codes.Code(code), message)
			})
			ctx = setSession(ctx, session)
			defer func() {
				session.setState(StateTerminated)
				session.SetNotifyFunc(nil)
				srv.Sessions.Unregister(processID)
			}()
		}
	}

	srv.logger.Debug("connection authenticated, writing server parameters")

	ctx, err = srv.writeParameters(ctx, writer, srv.Parameters)
	if err != nil {
		return err
	}

	ctx, err = srv.Session(ctx)
	if err != nil {
		return err
	}

	return srv.consumeCommands(ctx, conn, reader, writer)
}

// Close gracefully closes the underlaying Postgres server: every connection
// with an active Session is warned with a FATAL admin_shutdown ErrorResponse
// and the listener is closed. Open connections are then given up to
// ShutdownDrain to finish their current command and disconnect on their own
// before any still-open connections are force-closed.
func (srv *Server) Close() error {
	if srv.closing.Load() {
		return nil
	}

	srv.closing.Store(true)

	if srv.Sessions != nil {
		for _, session := range srv.Sessions.All() {
			err := session.Notify(string(psqlerr.LevelFatal), string(codes.AdminShutdown), "terminating connection due to administrator command")
			if err != nil {
				srv.logger.Debug("failed to notify session of shutdown", "err", err, "processID", session.ProcessID)
			}
		}
	}

	drain := srv.ShutdownDrain
	if drain <= 0 {
		drain = 30 * time.Second
	}

	drained := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(drained)
	}()

	close(srv.closer)

	select {
	case <-drained:
	case <-time.After(drain):
		srv.logger.Warn("shutdown drain window elapsed, forcing remaining connections closed", slog.Duration("drain", drain))

		srv.connsMu.Lock()
		for conn := range srv.conns {
			conn.Close()
		}
		srv.connsMu.Unlock()

		srv.wg.Wait()
	}

	return nil
}
