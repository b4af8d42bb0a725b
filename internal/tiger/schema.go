package tiger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/db"
)

// CreateSchema creates the coverage schema, one table per boundary product,
// and the load_status bookkeeping table. Safe to call repeatedly.
func CreateSchema(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "tiger.schema"))

	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS coverage"); err != nil {
		return eris.Wrap(err, "tiger: create coverage schema")
	}

	for _, p := range Products {
		if err := createProductTable(ctx, pool, p); err != nil {
			return err
		}
		log.Debug("table ready", zap.String("table", "coverage."+p.Table))
	}

	statusSQL := `CREATE TABLE IF NOT EXISTS coverage.load_status (
		state_fips  text NOT NULL,
		table_name  text NOT NULL,
		year        int  NOT NULL,
		state_abbr  text,
		row_count   int,
		loaded_at   timestamptz NOT NULL DEFAULT now(),
		duration_ms int,
		PRIMARY KEY (state_fips, table_name, year)
	)`
	if _, err := pool.Exec(ctx, statusSQL); err != nil {
		return eris.Wrap(err, "tiger: create coverage.load_status")
	}

	return nil
}

// createProductTable creates the table for one product plus its indexes.
// Attribute columns are text except aland/awater, which are bigint.
func createProductTable(ctx context.Context, pool db.Pool, p Product) error {
	quoted := pgx.Identifier{"coverage", p.Table}.Sanitize()

	cols := make([]string, 0, len(p.Columns)+2)
	cols = append(cols, "gid bigserial PRIMARY KEY")
	for _, c := range p.Columns {
		typ := "text"
		if numericColumns[c] {
			typ = "bigint"
		}
		cols = append(cols, fmt.Sprintf("%s %s", pgx.Identifier{c}.Sanitize(), typ))
	}
	cols = append(cols, fmt.Sprintf("geom geometry(%s, 4326)", p.GeomType))

	createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoted, strings.Join(cols, ", "))
	if _, err := pool.Exec(ctx, createSQL); err != nil {
		return eris.Wrapf(err, "tiger: create coverage.%s", p.Table)
	}

	geoidIdx := pgx.Identifier{fmt.Sprintf("idx_%s_geoid", p.Table)}.Sanitize()
	geoidSQL := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (geoid)", geoidIdx, quoted)
	if _, err := pool.Exec(ctx, geoidSQL); err != nil {
		return eris.Wrapf(err, "tiger: create geoid index on coverage.%s", p.Table)
	}

	stateIdx := pgx.Identifier{fmt.Sprintf("idx_%s_statefp", p.Table)}.Sanitize()
	stateSQL := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (statefp)", stateIdx, quoted)
	if _, err := pool.Exec(ctx, stateSQL); err != nil {
		return eris.Wrapf(err, "tiger: create statefp index on coverage.%s", p.Table)
	}

	gistIdx := pgx.Identifier{fmt.Sprintf("idx_%s_geom", p.Table)}.Sanitize()
	gistSQL := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)", gistIdx, quoted)
	if _, err := pool.Exec(ctx, gistSQL); err != nil {
		return eris.Wrapf(err, "tiger: create GIST index on coverage.%s", p.Table)
	}

	return nil
}
