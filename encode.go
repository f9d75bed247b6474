package wire

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// EncodeValue encodes src into the wire representation for the given
// Postgres OID and transfer format (text or binary), using the codec
// registered for that OID inside the given type map. It mirrors the way
// NewScanner resolves a decoder for COPY FROM STDIN, but in the opposite
// direction for result rows and RowDescription values.
func EncodeValue(tm *pgtype.Map, oid uint32, format int16, src any) ([]byte, error) {
	buf, err := tm.Encode(oid, format, src, nil)
	if err != nil {
		return nil, fmt.Errorf("unknown column type %d: %w", oid, err)
	}

	return buf, nil
}
