package wire

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/intersystems-community/iris-pgwire/pkg/types"
)

// SessionState is one state in the per-connection lifecycle: SSL negotiation
// and startup happen before authentication, after which a session alternates
// between the Ready states until it terminates. RunningQuery/RunningCopyIn/
// RunningCopyOut are transient states entered for the duration of a single
// command and left for whichever Ready state applies once it completes.
type SessionState int

const (
	StateNegotiatingSSL SessionState = iota
	StateReceivingStartup
	StateAuthenticating
	StateReadyIdle
	StateReadyInTx
	StateReadyFailed
	StateRunningQuery
	StateRunningCopyIn
	StateRunningCopyOut
	StateTerminated
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateNegotiatingSSL:
		return "negotiating_ssl"
	case StateReceivingStartup:
		return "receiving_startup"
	case StateAuthenticating:
		return "authenticating"
	case StateReadyIdle:
		return "ready_idle"
	case StateReadyInTx:
		return "ready_in_tx"
	case StateReadyFailed:
		return "ready_failed"
	case StateRunningQuery:
		return "running_query"
	case StateRunningCopyIn:
		return "running_copy_in"
	case StateRunningCopyOut:
		return "running_copy_out"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session carries the state spec.md's Session State Machine module assigns
// one per TCP connection, identified to the client by the ProcessID/SecretKey
// pair handed over in BackendKeyData and later presented back in a
// CancelRequest. It generalizes what the teacher's examples hand-roll ad hoc
// per program (a map keyed by process ID, guarded by its own mutex) into a
// single type the core maintains for every connection.
type Session struct {
	ProcessID int32
	SecretKey int32
	CreatedAt time.Time

	mu     sync.Mutex
	state  SessionState
	cancel context.CancelFunc
	notify func(severity, code, message string) error
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Status reports the transaction status byte a ReadyForQuery message should
// carry for this session's current state.
func (s *Session) Status() types.ServerStatus {
	switch s.State() {
	case StateReadyInTx:
		return types.ServerInTransaction
	case StateReadyFailed:
		return types.ServerTransactionErr
	default:
		return types.ServerIdle
	}
}

// BeginTransaction transitions the session into StateReadyInTx.
func (s *Session) BeginTransaction() { s.setState(StateReadyInTx) }

// CommitTransaction transitions the session back to StateReadyIdle,
// whether called after a COMMIT or a ROLLBACK.
func (s *Session) CommitTransaction() { s.setState(StateReadyIdle) }

// Fail transitions the session into StateReadyFailed, the state a
// transaction enters once a statement inside it errors and every subsequent
// statement must be rejected until a ROLLBACK is seen.
func (s *Session) Fail() { s.setState(StateReadyFailed) }

// Running records that the session has started executing a command in the
// given transient state, returning a func that restores the prior Ready
// state once the command finishes.
func (s *Session) Running(state SessionState) func() {
	prior := s.State()
	s.setState(state)
	return func() { s.setState(prior) }
}

// SetCancelFunc registers the context.CancelFunc that a later CancelRequest
// targeting this session should invoke. Passing nil clears it once the
// running command completes.
func (s *Session) SetCancelFunc(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// Cancel invokes the session's registered cancel func, if any is currently
// set, and reports whether one was found.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// SetNotifyFunc registers the func serve() uses to push an ErrorResponse to
// this session's connection outside of the normal request/response cycle,
// the way graceful shutdown needs to warn a client before its connection is
// force-closed.
func (s *Session) SetNotifyFunc(fn func(severity, code, message string) error) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// Notify sends an out-of-band ErrorResponse to the session's connection, if
// it is still attached to one.
func (s *Session) Notify(severity, code, message string) error {
	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()

	if notify == nil {
		return nil
	}
	return notify(severity, code, message)
}

// SessionRegistry tracks every authenticated Session for the lifetime of the
// server process, keyed by the ProcessID handed out in BackendKeyData, so a
// CancelRequest on a fresh TCP connection can be routed back to the session
// it names.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[int32]*Session
}

// NewSessionRegistry builds an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[int32]*Session)}
}

// Register allocates a new Session with a fresh ProcessID/SecretKey pair
// seeded from a random UUID, the way BackendKeyData must hand out values
// a client cannot feasibly guess, and stores it in the registry.
func (r *SessionRegistry) Register() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pid int32
	for {
		pid = randInt32()
		if pid == 0 {
			continue
		}
		if _, exists := r.sessions[pid]; !exists {
			break
		}
	}

	session := &Session{
		ProcessID: pid,
		SecretKey: randInt32(),
		CreatedAt: time.Now(),
		state:     StateReadyIdle,
	}
	r.sessions[pid] = session
	return session
}

// Lookup returns the session registered under the given process ID, if any.
func (r *SessionRegistry) Lookup(processID int32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[processID]
	return session, ok
}

// Cancel looks up the session named by processID and, if secretKey matches,
// invokes its registered cancel func. It reports whether a matching session
// with an active command was found, mirroring spec.md's CancelRequest
// handling: an unknown or mismatched pair is silently ignored.
func (r *SessionRegistry) Cancel(processID, secretKey int32) bool {
	session, ok := r.Lookup(processID)
	if !ok || session.SecretKey != secretKey {
		return false
	}
	return session.Cancel()
}

// All returns a snapshot of every currently registered session, for use by
// graceful shutdown when it must notify every active connection.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Unregister removes a session once its connection terminates.
func (r *SessionRegistry) Unregister(processID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, processID)
}

// randInt32 derives a pseudo-random, non-negative int32 from a fresh UUIDv4,
// avoiding a dependency on math/rand for values a client must not be able to
// predict.
func randInt32() int32 {
	id := uuid.New()
	return int32(binary.BigEndian.Uint32(id[:4]) & 0x7fffffff)
}

// setSession attaches a Session to ctx, generalizing the context-keyed
// locals conn.go otherwise stores directly (auth info, type map, remote
// addr) onto the one value every command handler needs to report
// transaction status and accept cancellation.
func setSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, ctxSession, session)
}

// SessionFromContext returns the Session attached to ctx, or nil if none has
// been set — e.g. when the server is constructed without the default
// BackendKeyData/CancelRequest hooks this package installs.
func SessionFromContext(ctx context.Context) *Session {
	val := ctx.Value(ctxSession)
	if val == nil {
		return nil
	}
	return val.(*Session)
}
