package wire

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// copyInHandler builds a StatementFn that drives a COPY FROM STDIN in CSV
// text format, decoding each field through a Scanner built from the given
// column descriptions.
func copyInHandler(t *testing.T, columns Columns) StatementFn {
	return func(ctx context.Context, writer DataWriter, parameters []Parameter) error {
		log.Println("copying data")

		formats := make([]FormatCode, len(columns))
		scanners := make([]Scanner, len(columns))

		tm := TypeMap(ctx)
		for i, column := range columns {
			formats[i] = TextFormat

			scanner, err := NewScanner(tm, column, TextFormat)
			if err != nil {
				return err
			}
			scanners[i] = scanner
		}

		copyText, err := writer.CopyIn(TextFormat, formats)
		if err != nil {
			return err
		}

		reader := csv.NewReader(copyText)
		reader.TrimLeadingSpace = false
		reader.LazyQuotes = true

		var length int
		for {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}

			row := make([]any, len(record))
			for i, field := range record {
				if field == "" {
					continue
				}

				value, err := scanners[i]([]byte(field))
				if err != nil {
					return err
				}
				row[i] = value
			}

			t.Logf("received columns: %+v", row)
			length++
		}

		return writer.Complete(fmt.Sprintf("COPY %d", length))
	}
}

func TestCopyReaderText(t *testing.T) {
	table := Columns{
		{Table: 0, Name: "id", Oid: pgtype.Int4OID, Width: 4},
		{Table: 0, Name: "name", Oid: pgtype.TextOID, Width: 256},
		{Table: 0, Name: "member", Oid: pgtype.BoolOID, Width: 1},
		{Table: 0, Name: "age", Oid: pgtype.Int4OID, Width: 1},
	}

	handler := func(ctx context.Context, query string) (PreparedStatements, error) {
		log.Println("incoming SQL query:", query)
		return Prepared(NewStatement(copyInHandler(t, table), WithColumns(table))), nil
	}

	server, err := NewServer(handler, Logger(testLogger(t)))
	if err != nil {
		t.Fatal(err)
	}

	address := TListenAndServe(t, server)

	ctx := context.Background()
	connStr := fmt.Sprintf("postgres://%s:%d", address.IP, address.Port)

	t.Run("CopyInStmtFromStdinText", func(t *testing.T) {
		conn, err := pgx.Connect(ctx, connStr)
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close(ctx) //nolint:errcheck

		file, err := os.Open("jedis.csv")
		if err != nil {
			log.Fatalf("failed to open CSV file: %s", err.Error())
		}

		query := `COPY "public"."jedis" FROM STDIN WITH DELIMITER ',' CSV`

		_, err = conn.PgConn().CopyFrom(ctx, file, query)
		if err != nil {
			t.Fatalf("copy stmt failed: %s \n", err.Error())
		}
	})
}

func TestCopyReaderTextNullAndEscape(t *testing.T) {
	table := Columns{
		{Table: 0, Name: "id", Oid: pgtype.Int4OID, Width: 4},
		{Table: 0, Name: "name", Oid: pgtype.TextOID, Width: 256},
		{Table: 0, Name: "member", Oid: pgtype.BoolOID, Width: 1},
		{Table: 0, Name: "age", Oid: pgtype.Int4OID, Width: 1},
		{Table: 0, Name: "description", Oid: pgtype.TextOID},
	}

	handler := func(ctx context.Context, query string) (PreparedStatements, error) {
		log.Println("incoming SQL query:", query)
		return Prepared(NewStatement(copyInHandler(t, table), WithColumns(table))), nil
	}

	server, err := NewServer(handler, Logger(testLogger(t)))
	if err != nil {
		t.Fatal(err)
	}

	address := TListenAndServe(t, server)

	ctx := context.Background()
	connStr := fmt.Sprintf("postgres://%s:%d", address.IP, address.Port)

	t.Run("CopyInStmtFromStdinTextNullAndEscape", func(t *testing.T) {
		conn, err := pgx.Connect(ctx, connStr)
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close(ctx) //nolint:errcheck

		file, err := os.Open("jedis_null_escape.csv")
		if err != nil {
			log.Fatalf("failed to open CSV file: %s", err.Error())
		}
		query := `COPY "public"."jedis" FROM STDIN WITH DELIMITER ',' CSV NULL 'attNULL' ESCAPE '\'`

		_, err = conn.PgConn().CopyFrom(ctx, file, query)
		if err != nil {
			t.Fatalf("copy stmt failed: %s \n", err.Error())
		}
	})
}
