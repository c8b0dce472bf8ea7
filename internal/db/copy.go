package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyBatchSize is the number of rows sent per COPY by CopyInBatches.
const CopyBatchSize = 5000

// CopyFrom bulk-inserts rows into schema.table with the COPY protocol.
func CopyFrom(ctx context.Context, pool Pool, schema, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := pool.CopyFrom(ctx, pgx.Identifier{schema, table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s.%s", schema, table)
	}
	return n, nil
}

// CopyInBatches streams rows from next into schema.table, issuing one COPY per
// batch of size rows. next returns false when no rows remain.
func CopyInBatches(ctx context.Context, pool Pool, schema, table string, columns []string, size int, next func() ([]any, bool, error)) (int64, error) {
	if size <= 0 {
		size = CopyBatchSize
	}

	var total int64
	batch := make([][]any, 0, size)
	flush := func() error {
		n, err := CopyFrom(ctx, pool, schema, table, columns, batch)
		total += n
		batch = batch[:0]
		return err
	}

	for {
		row, ok, err := next()
		if err != nil {
			return total, err
		}
		if !ok {
			break
		}
		batch = append(batch, row)
		if len(batch) == size {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
