package wire

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/intersystems-community/iris-pgwire/pkg/buffer"
)

// ErrStatementAlreadyExists is thrown whenever an prepared statement already
// exists within the given statement cache.
var ErrStatementAlreadyExists = errors.New("prepared statement already exists")

// ErrUnknownPortal is returned when no portal has been bound for the given name.
var ErrUnknownPortal = errors.New("unknown portal")

// StatementCache caches the prepared statements produced by the Parse
// message, keyed by the name the client assigned them (the empty string names
// the unnamed statement).
type StatementCache interface {
	Set(ctx context.Context, name string, stmt *PreparedStatement) error
	Get(ctx context.Context, name string) (*PreparedStatement, error)
}

// portal represents a prepared statement bound to a concrete set of parameter
// values and result column formats, produced by the Bind message.
type portal struct {
	statement  *PreparedStatement
	parameters []Parameter
	formats    []FormatCode
}

// PortalCache binds prepared statements to parameter values via the Bind
// message, and executes the resulting portal via the Execute message.
type PortalCache interface {
	Bind(ctx context.Context, name string, stmt *PreparedStatement, parameters []Parameter, formats []FormatCode) error
	Get(ctx context.Context, name string) (*portal, error)
	Execute(ctx context.Context, name string, writer *buffer.Writer) error
}

// PortalCacheCopyIn is an optional extension of PortalCache for portals whose
// statement handler drives a COPY FROM STDIN subprotocol. Implementations
// plumb the copy data reader into the statement handler in place of Execute.
type PortalCacheCopyIn interface {
	PortalCache
	ExecuteCopyIn(ctx context.Context, name string, writer *buffer.Writer, copyIn io.Reader) error
}

// PortalCacheLimit is an optional extension of PortalCache that honors the
// row limit carried by an Execute message, suspending the portal instead of
// streaming every row once the limit is reached.
type PortalCacheLimit interface {
	PortalCache
	ExecuteLimited(ctx context.Context, name string, writer *buffer.Writer, limit Limit) (suspended bool, err error)
}

// DefaultStatementCache is a in-memory, concurrency-safe StatementCache.
type DefaultStatementCache struct {
	statements map[string]*PreparedStatement
	mu         sync.RWMutex
}

// Set attempts to bind the given statement to the given name. The unnamed
// statement replaces any previously defined unnamed statement; a named
// statement that already exists is rejected with ErrStatementAlreadyExists.
func (cache *DefaultStatementCache) Set(ctx context.Context, name string, stmt *PreparedStatement) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cache.statements == nil {
		cache.statements = map[string]*PreparedStatement{}
	}

	if name != "" {
		if _, has := cache.statements[name]; has {
			return ErrStatementAlreadyExists
		}
	}

	cache.statements[name] = stmt
	return nil
}

// Get attempts to get the prepared statement for the given name. A nil
// statement and nil error is returned when no statement has been found.
func (cache *DefaultStatementCache) Get(ctx context.Context, name string) (*PreparedStatement, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	if cache.statements == nil {
		return nil, nil
	}

	return cache.statements[name], nil
}

// DefaultPortalCache is a in-memory, concurrency-safe PortalCache.
type DefaultPortalCache struct {
	portals map[string]*portal
	mu      sync.RWMutex
}

// Bind associates the given name with a portal wrapping the statement and its
// bound parameter values/formats. Any previously bound portal with the same
// name is replaced.
func (cache *DefaultPortalCache) Bind(ctx context.Context, name string, stmt *PreparedStatement, parameters []Parameter, formats []FormatCode) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cache.portals == nil {
		cache.portals = map[string]*portal{}
	}

	cache.portals[name] = &portal{statement: stmt, parameters: parameters, formats: formats}
	return nil
}

// Get returns the portal bound for the given name, or nil if none exists.
func (cache *DefaultPortalCache) Get(ctx context.Context, name string) (*portal, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	return cache.portals[name], nil
}

// Execute runs the statement bound to the named portal, streaming its result
// rows through the given writer.
func (cache *DefaultPortalCache) Execute(ctx context.Context, name string, writer *buffer.Writer) error {
	p, err := cache.Get(ctx, name)
	if err != nil {
		return err
	}

	if p == nil {
		return ErrUnknownPortal
	}

	dw := NewDataWriter(ctx, p.statement.columns, p.formats, writer, nil)
	return p.statement.fn(ctx, dw, p.parameters)
}

// ExecuteLimited runs the statement bound to the named portal against an
// in-memory ResultCollector, then replays at most limit rows to the given
// writer. A zero limit replays every row. suspended reports whether more
// rows were produced than the limit allowed.
func (cache *DefaultPortalCache) ExecuteLimited(ctx context.Context, name string, writer *buffer.Writer, limit Limit) (suspended bool, err error) {
	p, err := cache.Get(ctx, name)
	if err != nil {
		return false, err
	}

	if p == nil {
		return false, ErrUnknownPortal
	}

	collector := NewResultCollector(ctx, p.statement.columns, limit)
	if err := p.statement.fn(ctx, collector, p.parameters); err != nil {
		return false, err
	}

	dw := NewDataWriter(ctx, p.statement.columns, p.formats, writer, nil)
	return collector.Replay(ctx, dw)
}

// ExecuteCopyIn runs the statement bound to the named portal the same way
// Execute does, but additionally threads a COPY FROM STDIN reader into the
// resulting DataWriter so the handler can call DataWriter.CopyIn.
func (cache *DefaultPortalCache) ExecuteCopyIn(ctx context.Context, name string, writer *buffer.Writer, copyIn io.Reader) error {
	p, err := cache.Get(ctx, name)
	if err != nil {
		return err
	}

	if p == nil {
		return ErrUnknownPortal
	}

	dw := NewDataWriter(ctx, p.statement.columns, p.formats, writer, copyIn)
	return p.statement.fn(ctx, dw, p.parameters)
}
