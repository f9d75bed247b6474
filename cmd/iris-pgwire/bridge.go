package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq/oid"

	wire "github.com/intersystems-community/iris-pgwire"
	"github.com/intersystems-community/iris-pgwire/events"
	"github.com/intersystems-community/iris-pgwire/internal/executor"
	"github.com/intersystems-community/iris-pgwire/internal/translator"
)

// newParseFn builds the wire.ParseFn the server dispatches every Query and
// Parse message through: translate the incoming SQL, prepare it against the
// Executor, and stream whatever rows come back through a wire.DataWriter.
func newParseFn(tr *translator.Translator, exec executor.Executor, sink events.Sink, copyCfg CopyConfig) wire.ParseFn {
	return func(ctx context.Context, query string) (wire.PreparedStatements, error) {
		if stmt, ok := parseCopyStatement(query); ok {
			return newCopyParseFn(stmt, exec, sink, copyCfg.BatchRows, copyCfg.BatchBytes)
		}

		translated := tr.Translate(query)

		stmt, err := exec.Prepare(ctx, translated)
		if err != nil {
			return nil, fmt.Errorf("prepare: %w", err)
		}

		columns := columnsFromFields(stmt.ResultFields)
		params := make([]oid.Oid, len(stmt.ParamOIDs))
		for i, o := range stmt.ParamOIDs {
			params[i] = oid.Oid(o)
		}

		handler := func(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error {
			start := time.Now()

			values := make([]executor.Value, len(parameters))
			for i, p := range parameters {
				values[i] = executor.Value{Text: p.Value(), Null: p.Value() == nil}
			}

			rows, err := exec.Execute(ctx, stmt, values, 0)
			if err != nil {
				return err
			}
			defer rows.Close()

			var n uint64
			for {
				row, ok, err := rows.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}

				srcs := make([]any, len(row))
				for i, v := range row {
					if v.Null {
						srcs[i] = nil
						continue
					}
					srcs[i] = v.Text
				}

				if err := writer.Row(srcs); err != nil {
					return err
				}
				n++
			}

			sink.Emit(events.QueryExecuted,
				events.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
				events.Int64("rows", int64(n)))

			return writer.Complete(fmt.Sprintf("SELECT %d", n))
		}

		return wire.Prepared(wire.NewStatement(handler,
			wire.WithColumns(columns),
			wire.WithParameters(params),
			wire.WithQuery(query),
			wire.WithInlineParams(translator.VectorParamPositions(query)),
		)), nil
	}
}

func columnsFromFields(fields []executor.Field) wire.Columns {
	columns := make(wire.Columns, len(fields))
	for i, f := range fields {
		columns[i] = wire.Column{
			Table:        int32(f.TableOID),
			Name:         f.Name,
			AttrNo:       f.ColumnAttNum,
			Oid:          oid.Oid(f.TypeOID),
			Width:        f.TypeSize,
			TypeModifier: f.TypeMod,
		}
	}
	return columns
}
