package wire

import (
	"context"
	"sync"

	"github.com/lib/pq/oid"
)

// StatementFn handles a single prepared statement invocation. The writer is
// used to stream the result rows back to the client, parameters contains the
// bound values supplied through Bind (or nil for the simple query protocol).
type StatementFn func(ctx context.Context, writer DataWriter, parameters []Parameter) error

// ParseFn parses an incoming query string into zero or more prepared
// statements. It is invoked for both the simple query protocol (where the
// statement is executed immediately) and the extended query protocol Parse
// message (where the returned statement is cached for later Bind/Execute).
type ParseFn func(ctx context.Context, query string) (PreparedStatements, error)

// PreparedStatement binds a StatementFn to the column and parameter
// descriptions the client needs in order to issue Describe against it.
type PreparedStatement struct {
	fn         StatementFn
	columns    Columns
	parameters []oid.Oid

	// query is the original, untranslated SQL text this statement was parsed
	// from. Only meaningful alongside inlineParams, which Bind consults to
	// re-prepare a statement variant with a bound literal spliced in.
	query string

	// inlineParams holds the 1-based positions of bound parameters that Bind
	// must substitute into query as literals rather than pass through as
	// ordinary values - e.g. a pgvector operator's right-hand parameter,
	// which the backend cannot bind directly (spec.md §4.4 rule 4).
	inlineParams []int

	// variants caches the statement re-prepared for each distinct set of
	// inlined literal values, keyed by their concatenated text.
	variants sync.Map
}

// PreparedStatements represents the statements parsed out of a single query
// string. The simple query protocol allows more than one; the extended query
// protocol requires exactly one.
type PreparedStatements []*PreparedStatement

// Prepared wraps one or more prepared statements for return from a ParseFn.
func Prepared(statements ...*PreparedStatement) PreparedStatements {
	return PreparedStatements(statements)
}

// PreparedOptionFn customizes a PreparedStatement constructed through
// NewStatement.
type PreparedOptionFn func(*PreparedStatement)

// WithColumns attaches the given column descriptions to a prepared statement.
func WithColumns(columns Columns) PreparedOptionFn {
	return func(stmt *PreparedStatement) {
		stmt.columns = columns
	}
}

// WithParameters attaches the given parameter object IDs to a prepared
// statement. These are surfaced in response to a Describe(Statement) message.
func WithParameters(parameters []oid.Oid) PreparedOptionFn {
	return func(stmt *PreparedStatement) {
		stmt.parameters = parameters
	}
}

// WithQuery attaches the original, untranslated SQL text a statement was
// parsed from. Required for WithInlineParams to have anything to splice a
// literal into at Bind time.
func WithQuery(query string) PreparedOptionFn {
	return func(stmt *PreparedStatement) {
		stmt.query = query
	}
}

// WithInlineParams marks the 1-based positions of bound parameters that Bind
// must inline into the statement's query text as literals, re-preparing a
// variant of the statement, instead of passing them through as ordinary bind
// values. See PreparedStatement.inlineParams.
func WithInlineParams(positions []int) PreparedOptionFn {
	return func(stmt *PreparedStatement) {
		stmt.inlineParams = positions
	}
}

// NewStatement constructs a new prepared statement wrapping the given handler.
func NewStatement(fn StatementFn, options ...PreparedOptionFn) *PreparedStatement {
	stmt := &PreparedStatement{fn: fn}
	for _, option := range options {
		option(stmt)
	}

	return stmt
}
