package wire

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// Scanner is a function that scans a byte slice and returns the value as an any
type Scanner func(value []byte) (any, error)

// NewScanner creates a new scanner that scans a byte slice and returns the value
// as an any. The scanner uses the given map to decode the value and the given
// type to determine the format of the data that is scanned.
func NewScanner(tm *pgtype.Map, column Column, format FormatCode) (Scanner, error) {
	typed, has := tm.TypeForOID(uint32(column.Oid))
	if !has {
		return nil, fmt.Errorf("unknown column type: %d", column.Oid)
	}

	return func(value []byte) (any, error) {
		return typed.Codec.DecodeValue(tm, typed.OID, int16(format), value)
	}, nil
}

// CopyBatcher accumulates decoded COPY FROM STDIN rows and flushes them once
// either the configured row count or byte size threshold is reached,
// generalizing the naive row-at-a-time submission a COPY handler would
// otherwise do into the batched inserts spec.md's copy.batch_rows and
// copy.batch_bytes options require. A zero-value limit disables that bound.
type CopyBatcher struct {
	MaxRows  int
	MaxBytes int

	rows  [][]any
	bytes int
	flush func(rows [][]any) error
}

// NewCopyBatcher builds a CopyBatcher that calls flush whenever the
// accumulated batch reaches maxRows rows or maxBytes of estimated row data,
// whichever comes first. Either limit may be zero to disable it.
func NewCopyBatcher(maxRows, maxBytes int, flush func(rows [][]any) error) *CopyBatcher {
	return &CopyBatcher{MaxRows: maxRows, MaxBytes: maxBytes, flush: flush}
}

// Add appends a decoded row to the current batch, flushing first if adding
// it would exceed either configured limit.
func (b *CopyBatcher) Add(row []any) error {
	size := rowByteSize(row)

	if len(b.rows) > 0 && b.exceeds(len(b.rows)+1, b.bytes+size) {
		if err := b.Flush(); err != nil {
			return err
		}
	}

	b.rows = append(b.rows, row)
	b.bytes += size

	if b.exceeds(len(b.rows), b.bytes) {
		return b.Flush()
	}

	return nil
}

func (b *CopyBatcher) exceeds(rows, bytes int) bool {
	if b.MaxRows > 0 && rows > b.MaxRows {
		return true
	}
	if b.MaxBytes > 0 && bytes > b.MaxBytes {
		return true
	}
	return false
}

// Flush submits whatever rows are currently buffered, if any, and resets the
// batch.
func (b *CopyBatcher) Flush() error {
	if len(b.rows) == 0 {
		return nil
	}

	rows := b.rows
	b.rows = nil
	b.bytes = 0
	return b.flush(rows)
}

// Rows reports how many rows are currently buffered, unflushed.
func (b *CopyBatcher) Rows() int {
	return len(b.rows)
}

// rowByteSize estimates the wire size of a decoded row, for comparison
// against copy.batch_bytes; it only needs to be a reasonable approximation,
// not an exact accounting of the original wire bytes.
func rowByteSize(row []any) int {
	size := 0
	for _, v := range row {
		switch value := v.(type) {
		case nil:
			size += 4
		case string:
			size += len(value)
		case []byte:
			size += len(value)
		default:
			size += 8
		}
	}
	return size
}
