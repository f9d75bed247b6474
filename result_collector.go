package wire

import (
	"context"
	"errors"
	"io"
)

// Limit represents the maximum number of rows a client is willing to receive
// from a single Execute message of the extended query protocol before the
// portal is suspended. A limit of zero means "no limit".
type Limit uint32

// ResultCollector is a DataWriter that buffers rows in memory instead of
// streaming them to the client immediately. It is used to implement the
// Execute message's row limit: rows beyond the limit are held back and the
// portal is reported as suspended rather than complete.
type ResultCollector struct {
	columns Columns
	rows    [][]any
	tag     string
	empty   bool
	written uint64
	err     error
	limit   Limit
}

// NewResultCollector creates a DataWriter that collects every row for later
// replay against a real client connection; Replay writes at most limit of
// them (all of them, when limit is zero).
func NewResultCollector(ctx context.Context, columns Columns, limit Limit) *ResultCollector {
	return &ResultCollector{
		columns: columns,
		limit:   limit,
	}
}

func (rc *ResultCollector) Row(values []any) error {
	if rc.err != nil {
		return rc.err
	}

	rc.rows = append(rc.rows, values)
	rc.written++
	return nil
}

func (rc *ResultCollector) Written() uint64 {
	return rc.written
}

func (rc *ResultCollector) Empty() error {
	rc.empty = true
	return nil
}

func (rc *ResultCollector) Complete(tag string) error {
	rc.tag = tag
	return nil
}

func (rc *ResultCollector) CopyIn(overallFormat FormatCode, columnFormats []FormatCode) (io.Reader, error) {
	return nil, errors.New("CopyIn is not supported while collecting a row-limited result")
}

func (rc *ResultCollector) CopyOut(overallFormat FormatCode, columnFormats []FormatCode, src io.Reader) (int64, error) {
	return 0, errors.New("CopyOut is not supported while collecting a row-limited result")
}

// SetError records an error produced while the portal's statement handler ran.
func (rc *ResultCollector) SetError(err error) {
	rc.err = err
}

// GetError returns the error recorded by SetError, if any.
func (rc *ResultCollector) GetError() error {
	return rc.err
}

// Replay writes the collected rows to the given writer, honoring the
// configured limit. It returns true when more rows were collected than the
// limit allows, indicating the portal must be reported as suspended rather
// than complete.
func (rc *ResultCollector) Replay(ctx context.Context, writer DataWriter) (suspended bool, err error) {
	if rc.err != nil {
		return false, rc.err
	}

	rows := rc.rows
	if rc.limit > 0 && uint64(rc.limit) < uint64(len(rows)) {
		rows = rows[:rc.limit]
		suspended = true
	}

	for _, row := range rows {
		if err := writer.Row(row); err != nil {
			return false, err
		}
	}

	if suspended {
		return true, nil
	}

	if rc.empty && rc.written == 0 {
		return false, writer.Empty()
	}

	return false, writer.Complete(rc.tag)
}
