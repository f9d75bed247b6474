package wire

import (
	"context"
	"errors"
	"fmt"

	"github.com/intersystems-community/iris-pgwire/pkg/buffer"
	"github.com/intersystems-community/iris-pgwire/pkg/types"
	"github.com/lib/pq/oid"
)

// Columns represent a collection of columns
type Columns []Column

// Define writes the table RowDescription headers for the given table and the
// containing columns. The headers have to be written before any data rows
// could be send back to the client. formats optionally overrides the per
// column transfer format negotiated through Bind; when nil each column's own
// Format is used.
func (columns Columns) Define(ctx context.Context, writer *buffer.Writer, formats []FormatCode) error {
	writer.Start(types.ServerRowDescription)
	writer.AddInt16(int16(len(columns)))

	for index, column := range columns {
		format := column.Format
		if len(formats) == 1 {
			format = formats[0]
		} else if len(formats) > index {
			format = formats[index]
		}

		column.Define(ctx, writer, format)
	}

	return writer.End()
}

// Write writes the given column values back to the client using the predefined
// table column types and format encoders (text/binary).
func (columns Columns) Write(ctx context.Context, formats []FormatCode, writer *buffer.Writer, srcs []any) (err error) {
	if len(srcs) != len(columns) {
		return fmt.Errorf("unexpected columns, %d columns are defined inside the given table but %d were given", len(columns), len(srcs))
	}

	writer.Start(types.ServerDataRow)
	writer.AddInt16(int16(len(columns)))

	for index, column := range columns {
		format := column.Format
		if len(formats) == 1 {
			format = formats[0]
		} else if len(formats) > index {
			format = formats[index]
		}

		err = column.Write(ctx, writer, format, srcs[index])
		if err != nil {
			return err
		}
	}

	return writer.End()
}

// Column represents a table column and its attributes such as name, type and
// encode formatter.
// https://www.postgresql.org/docs/8.3/catalog-pg-attribute.html
type Column struct {
	Table        int32  // table id
	Name         string // column name
	AttrNo       int16  // column attribute no (optional)
	Oid          oid.Oid
	Width        int16
	TypeModifier int32
	Format       FormatCode
}

// Define writes the column header values to the given writer.
// This method is used to define a column inside RowDescription message defining
// the column type, width, and name.
func (column Column) Define(ctx context.Context, writer *buffer.Writer, format FormatCode) {
	writer.AddString(column.Name)
	writer.AddNullTerminate()
	writer.AddInt32(column.Table)
	writer.AddInt16(column.AttrNo)
	writer.AddInt32(int32(column.Oid))
	writer.AddInt16(column.Width)
	writer.AddInt32(column.TypeModifier)
	writer.AddInt16(int16(format))
}

// Write encodes the given source value using the column type definition and the
// connection's registered type map. The encoded byte buffer is added to the
// given write buffer. A nil src is encoded as a SQL NULL (length -1).
func (column Column) Write(ctx context.Context, writer *buffer.Writer, format FormatCode, src any) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if src == nil {
		writer.AddInt32(-1)
		return nil
	}

	tm := TypeMap(ctx)
	if tm == nil {
		return errors.New("postgres type map has not been defined inside the given context")
	}

	bb, err := EncodeValue(tm, uint32(column.Oid), int16(format), src)
	if err != nil {
		return fmt.Errorf("column %q: %w", column.Name, err)
	}

	writer.AddInt32(int32(len(bb)))
	writer.AddBytes(bb)

	return nil
}
