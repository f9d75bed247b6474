package wire

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"time"
)

// OptionFn options pattern used to define and set options for the given
// PostgreSQL server.
type OptionFn func(*Server) error

// Auth sets the authentication strategy used to validate incoming client
// connections. See [ClearTextPassword] and [SCRAMSHA256] for the bundled
// strategies.
func Auth(strategy AuthStrategy) OptionFn {
	return func(srv *Server) error {
		srv.Auth = strategy
		return nil
	}
}

// Session attaches session-scoped state to the context once a connection has
// been authenticated and before the command loop starts accepting queries.
func Session(handler SessionHandler) OptionFn {
	return func(srv *Server) error {
		srv.Session = handler
		return nil
	}
}

// CloseConn registers a handler invoked when the underlying net.Conn is
// closed for any reason.
func CloseConn(fn CloseFn) OptionFn {
	return func(srv *Server) error {
		srv.CloseConn = fn
		return nil
	}
}

// TerminateConn registers a handler invoked when the client issues a
// Terminate message to gracefully end the connection.
func TerminateConn(fn CloseFn) OptionFn {
	return func(srv *Server) error {
		srv.TerminateConn = fn
		return nil
	}
}

// CancelRequest registers a handler invoked when a client opens a new
// connection carrying a CancelRequest startup message, identifying the
// target backend by the BackendKeyData it was handed when its session began.
func CancelRequest(fn CancelFn) OptionFn {
	return func(srv *Server) error {
		srv.CancelRequest = fn
		return nil
	}
}

// BackendKeyData registers a handler invoked once per authenticated
// connection to allocate the process ID and secret key announced to the
// client, used to correlate a later CancelRequest with this session.
func BackendKeyData(fn BackendKeyDataFn) OptionFn {
	return func(srv *Server) error {
		srv.BackendKeyData = fn
		return nil
	}
}

// TLSConfig overrides the TLS configuration used to upgrade client
// connections that request a secure connection. A nil config leaves TLS
// unsupported.
func TLSConfig(config *tls.Config) OptionFn {
	return func(srv *Server) error {
		srv.TLSConfig = config
		return nil
	}
}

// Version sets the server_version parameter announced to connecting clients.
func Version(version string) OptionFn {
	return func(srv *Server) error {
		srv.Version = version
		return nil
	}
}

// BufferedMsgSize sets the maximum size, in bytes, of a single incoming
// protocol message accepted from the client.
func BufferedMsgSize(size int) OptionFn {
	return func(srv *Server) error {
		srv.BufferedMsgSize = size
		return nil
	}
}

// GlobalParameters sets the server parameters (such as server_encoding) sent
// to every newly connected client, in addition to the hard-wired ones.
func GlobalParameters(params Parameters) OptionFn {
	return func(srv *Server) error {
		srv.Parameters = params
		return nil
	}
}

// Logger overrides the structured logger used by the server for diagnostic
// output.
func Logger(logger *slog.Logger) OptionFn {
	return func(srv *Server) error {
		srv.logger = logger
		return nil
	}
}

// Certificates configures the TLS certificates offered to clients requesting
// an encrypted connection.
func Certificates(certificates []tls.Certificate) OptionFn {
	return func(srv *Server) error {
		srv.Certificates = certificates
		if srv.TLSConfig == nil {
			srv.TLSConfig = &tls.Config{}
		}
		srv.TLSConfig.Certificates = certificates
		return nil
	}
}

// ClientCAs configures the certificate pool used to verify client
// certificates when ClientAuth requires it.
func ClientCAs(pool *x509.CertPool) OptionFn {
	return func(srv *Server) error {
		srv.ClientCAs = pool
		if srv.TLSConfig == nil {
			srv.TLSConfig = &tls.Config{}
		}
		srv.TLSConfig.ClientCAs = pool
		return nil
	}
}

// ClientAuth configures whether and how client certificates are required and
// verified during the TLS handshake.
func ClientAuth(authType tls.ClientAuthType) OptionFn {
	return func(srv *Server) error {
		srv.ClientAuth = authType
		if srv.TLSConfig == nil {
			srv.TLSConfig = &tls.Config{}
		}
		srv.TLSConfig.ClientAuth = authType
		return nil
	}
}

// ShutdownDrain bounds how long Close waits for active connections to finish
// their current command and disconnect on their own, after being warned with
// a FATAL admin_shutdown, before they are force-closed.
func ShutdownDrain(d time.Duration) OptionFn {
	return func(srv *Server) error {
		srv.ShutdownDrain = d
		return nil
	}
}

// Statements overrides the statement cache used to store prepared statements
// produced by the extended query protocol's Parse message.
func Statements(cache StatementCache) OptionFn {
	return func(srv *Server) error {
		srv.Statements = cache
		return nil
	}
}

// Portals overrides the portal cache used to bind and execute prepared
// statements through the extended query protocol's Bind/Execute messages.
func Portals(cache PortalCache) OptionFn {
	return func(srv *Server) error {
		srv.Portals = cache
		return nil
	}
}
