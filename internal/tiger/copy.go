package tiger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/db"
)

const defaultBatchSize = 50000

// BulkLoad loads parsed rows into a coverage table using the COPY protocol,
// batching in chunks of batchSize rows (0 = default 50,000).
func BulkLoad(ctx context.Context, pool db.Pool, product Product, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	columns := make([]string, len(product.Columns))
	copy(columns, product.Columns)
	columns = append(columns, "geom")

	log := zap.L().With(
		zap.String("component", "tiger.copy"),
		zap.String("table", "coverage."+product.Table),
		zap.Int("total_rows", len(rows)),
	)

	var total int64
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[i:end]

		n, err := pool.CopyFrom(
			ctx,
			pgx.Identifier{"coverage", product.Table},
			columns,
			pgx.CopyFromRows(batch),
		)
		if err != nil {
			return total, eris.Wrapf(err, "tiger: COPY into coverage.%s (batch %d-%d)", product.Table, i, end)
		}
		total += n

		log.Debug("batch loaded",
			zap.Int("batch_start", i),
			zap.Int("batch_end", end),
			zap.Int64("batch_rows", n),
		)
	}

	return total, nil
}

// Clear removes existing rows before a reload. National products share one
// table and are truncated; per-state products delete only the state being
// reloaded so other states are untouched.
func Clear(ctx context.Context, pool db.Pool, product Product, stateFIPS string) error {
	quoted := pgx.Identifier{"coverage", product.Table}.Sanitize()

	if product.National {
		sql := fmt.Sprintf("TRUNCATE %s", quoted)
		if _, err := pool.Exec(ctx, sql); err != nil {
			return eris.Wrapf(err, "tiger: truncate coverage.%s", product.Table)
		}
		return nil
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE statefp = $1", quoted)
	if _, err := pool.Exec(ctx, sql, stateFIPS); err != nil {
		return eris.Wrapf(err, "tiger: clear state %s from coverage.%s", stateFIPS, product.Table)
	}
	return nil
}
