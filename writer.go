package wire

import (
	"context"
	"errors"
	"io"

	"github.com/intersystems-community/iris-pgwire/pkg/buffer"
	"github.com/intersystems-community/iris-pgwire/pkg/types"
)

// DataWriter represents a writer interface for writing columns and data rows
// using the Postgres wire to the connected client.
type DataWriter interface {
	// Row writes a single data row containing the values inside the given slice to
	// the underlaying Postgres client. The column headers have to be written before
	// sending rows. Each item inside the slice represents a single column value.
	// The slice length needs to be the same length as the defined columns. Nil
	// values are encoded as NULL values.
	Row([]any) error

	// Written returns the number of rows written to the client.
	Written() uint64

	// Empty announces to the client an empty response and that no data rows should
	// be expected.
	Empty() error

	// Complete announces to the client that the command has been completed and
	// no further data should be expected.
	//
	// See [CommandComplete] for the expected format for different queries.
	//
	// [CommandComplete]: https://www.postgresql.org/docs/current/protocol-message-formats.html#PROTOCOL-MESSAGE-FORMATS-COMMANDCOMPLETE
	Complete(description string) error

	// CopyIn sends a [CopyInResponse] to the client, to initiate a CopyIn
	// operation. All format values must be either [TextFormat] or [BinaryFormat].
	// When overallFormat is [TextFormat], all columnFormats must be [TextFormat]. When
	// overallFormat is BinaryFormat, columnFormats may be either [TextFormat] or
	// [BinaryFormat]. You must provide one columnFormat value for each column
	// expected by the CopyIn operation.
	CopyIn(overallFormat FormatCode, columnFormats []FormatCode) (io.Reader, error)

	// CopyOut sends a [CopyOutResponse] to the client, then streams the given
	// reader to the client as a series of CopyData messages, followed by
	// CopyDone. It is used to implement COPY ... TO STDOUT.
	CopyOut(overallFormat FormatCode, columnFormats []FormatCode, src io.Reader) (int64, error)
}

// ErrDataWritten is returned when an empty result is attempted to be sent to the
// client while data has already been written.
var ErrDataWritten = errors.New("data has already been written")

// ErrClosedWriter is returned when the data writer has been closed.
var ErrClosedWriter = errors.New("closed writer")

// copyOutChunkSize bounds the number of bytes sent in a single CopyData
// message while streaming a COPY ... TO STDOUT response.
const copyOutChunkSize = 8192

// NewDataWriter constructs a new data writer using the given context and
// buffer. The copyIn reader, if non-nil, supplies the bytes received via
// CopyData messages for a statement that drives COPY FROM STDIN. The returned
// writer should be handled with caution as it is not safe for concurrent use.
func NewDataWriter(ctx context.Context, columns Columns, formats []FormatCode, writer *buffer.Writer, copyIn io.Reader) DataWriter {
	return &dataWriter{
		ctx:     ctx,
		columns: columns,
		formats: formats,
		client:  writer,
		copyIn:  copyIn,
	}
}

// dataWriter is a implementation of the DataWriter interface.
type dataWriter struct {
	ctx     context.Context
	columns Columns
	formats []FormatCode
	client  *buffer.Writer
	closed  bool
	written uint64
	copyIn  io.Reader
}

func (writer *dataWriter) Define(columns Columns) error {
	if writer.closed {
		return ErrClosedWriter
	}

	writer.columns = columns
	return writer.columns.Define(writer.ctx, writer.client, writer.formats)
}

func (writer *dataWriter) Row(values []any) error {
	if writer.closed {
		return ErrClosedWriter
	}

	writer.written++

	return writer.columns.Write(writer.ctx, writer.formats, writer.client, values)
}

func (writer *dataWriter) CopyIn(overallFormat FormatCode, columnFormats []FormatCode) (io.Reader, error) {
	if writer.closed {
		return nil, ErrClosedWriter
	}
	if writer.copyIn == nil {
		return nil, errors.New("no CopyData reader available; the portal was not executed through ExecuteCopyIn")
	}
	if len(columnFormats) == 0 {
		return nil, errors.New("CopyIn must have at least one column")
	}

	if err := writer.sendCopyResponse(types.ServerCopyInResponse, overallFormat, columnFormats); err != nil {
		return nil, err
	}

	return writer.copyIn, nil
}

func (writer *dataWriter) CopyOut(overallFormat FormatCode, columnFormats []FormatCode, src io.Reader) (int64, error) {
	if writer.closed {
		return 0, ErrClosedWriter
	}
	if len(columnFormats) == 0 {
		return 0, errors.New("CopyOut must have at least one column")
	}

	if err := writer.sendCopyResponse(types.ServerCopyOutResponse, overallFormat, columnFormats); err != nil {
		return 0, err
	}

	var total int64
	chunk := make([]byte, copyOutChunkSize)
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			writer.client.Start(types.ServerCopyData)
			writer.client.AddBytes(chunk[:n])
			if werr := writer.client.End(); werr != nil {
				return total, werr
			}
			total += int64(n)
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
	}

	writer.client.Start(types.ServerCopyDone)
	if err := writer.client.End(); err != nil {
		return total, err
	}

	return total, nil
}

// sendCopyResponse sends a CopyInResponse or CopyOutResponse message to the
// client, announcing the overall and per-column transfer formats.
func (writer *dataWriter) sendCopyResponse(message types.ServerMessage, format FormatCode, columnFormats []FormatCode) error {
	writer.client.Start(message)
	writer.client.AddByte(byte(format))
	writer.client.AddInt16(int16(len(columnFormats)))
	for _, columnFormat := range columnFormats {
		writer.client.AddInt16(int16(columnFormat))
	}
	return writer.client.End()
}

func (writer *dataWriter) Empty() error {
	if writer.closed {
		return ErrClosedWriter
	}

	if writer.written != 0 {
		return ErrDataWritten
	}

	defer writer.close()
	return nil
}

func (writer *dataWriter) Written() uint64 {
	return writer.written
}

func (writer *dataWriter) Complete(description string) error {
	if writer.closed {
		return ErrClosedWriter
	}

	if writer.written == 0 && writer.columns != nil {
		err := writer.Empty()
		if err != nil {
			return err
		}
	}

	defer writer.close()
	return commandComplete(writer.client, description)
}

func (writer *dataWriter) close() {
	writer.closed = true
}

// commandComplete announces that the requested command has successfully been executed.
// The given description is written back to the client and could be used to send
// additional meta data to the user.
func commandComplete(writer *buffer.Writer, description string) error {
	writer.Start(types.ServerCommandComplete)
	writer.AddString(description)
	writer.AddNullTerminate()
	return writer.End()
}
