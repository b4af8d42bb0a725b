package tiger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/careatlas/reachstat/internal/db"
)

// LoadOptions configures the TIGER boundary load.
type LoadOptions struct {
	Year        int         // TIGER/Line data year (default 2023)
	States      []string    // State abbreviations; empty = all 50 + DC
	Products    []string    // Product names; empty = all
	Transport   string      // "https" (default) or "ftp" mirror
	CacheDir    string      // Archive cache directory
	Concurrency int         // Parallel state loads (default 4)
	BatchSize   int         // COPY batch size (default 50,000)
	Incremental bool        // Skip already-loaded combos
	DryRun      bool        // Download and parse without loading
	Downloader  *Downloader // Optional; built from CacheDir when nil
}

// StatusRow represents a row from coverage.load_status.
type StatusRow struct {
	StateFIPS  string
	StateAbbr  string
	TableName  string
	Year       int
	RowCount   int
	LoadedAt   time.Time
	DurationMs int
}

// Load downloads and loads TIGER/Line boundaries for the given options.
// National products load first, sequentially; per-state products load in
// parallel bounded by Concurrency.
func Load(ctx context.Context, pool db.Pool, opts LoadOptions) error {
	if opts.Year == 0 {
		opts.Year = 2023
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Downloader == nil {
		opts.Downloader = NewDownloader(DownloaderOptions{CacheDir: opts.CacheDir})
	}

	log := zap.L().With(
		zap.String("component", "tiger.loader"),
		zap.Int("year", opts.Year),
	)

	states := opts.States
	if len(states) == 0 {
		states = AllStateAbbrs()
	}

	var products []Product
	if len(opts.Products) > 0 {
		for _, name := range opts.Products {
			p, ok := ProductByName(name)
			if !ok {
				return eris.Errorf("tiger: unknown product %q", name)
			}
			products = append(products, p)
		}
	} else {
		products = Products
	}

	var national, perState []Product
	for _, p := range products {
		if p.National {
			national = append(national, p)
		} else {
			perState = append(perState, p)
		}
	}

	// Pre-validate all state abbreviations before starting any work.
	for _, stateAbbr := range states {
		if _, ok := FIPSCodes[stateAbbr]; !ok {
			return eris.Errorf("tiger: unknown state %q", stateAbbr)
		}
	}

	if !opts.DryRun {
		if err := CreateSchema(ctx, pool); err != nil {
			return err
		}
	}

	for _, p := range national {
		if err := loadProduct(ctx, pool, p, "", "us", opts); err != nil {
			return eris.Wrapf(err, "tiger: load national product %s", p.Name)
		}
	}

	log.Info("national products loaded", zap.Int("count", len(national)))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, stateAbbr := range states {
		fips := FIPSCodes[stateAbbr]
		for _, p := range perState {
			g.Go(func() error {
				return loadProduct(gCtx, pool, p, stateAbbr, fips, opts)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("per-state products loaded",
		zap.Int("states", len(states)),
		zap.Int("products", len(perState)),
	)

	log.Info("TIGER boundary load complete")
	return nil
}

// loadProduct downloads, parses, and loads a single product for one state
// (or the national file when stateFIPS is "us").
func loadProduct(ctx context.Context, pool db.Pool, product Product, stateAbbr, stateFIPS string, opts LoadOptions) error {
	log := zap.L().With(
		zap.String("component", "tiger.loader"),
		zap.String("product", product.Name),
		zap.String("state", stateAbbr),
	)

	if opts.Incremental {
		loaded, err := isLoaded(ctx, pool, stateFIPS, product.Table, opts.Year)
		if err != nil {
			return err
		}
		if loaded {
			log.Debug("already loaded, skipping", zap.String("table", product.Table))
			return nil
		}
	}

	start := time.Now()

	url := DownloadURL(product, opts.Year, stateFIPS)
	if opts.Transport == "ftp" {
		url = FTPURL(product, opts.Year, stateFIPS)
	}
	shpPath, err := opts.Downloader.Download(ctx, url)
	if err != nil {
		return eris.Wrapf(err, "tiger: download %s for %s", product.Name, stateFIPS)
	}

	log.Info("shapefile ready", zap.String("path", shpPath))

	rows, err := ParseShapefile(shpPath, product)
	if err != nil {
		return eris.Wrapf(err, "tiger: parse %s for %s", product.Name, stateFIPS)
	}

	log.Info("shapefile parsed", zap.Int("rows", len(rows)))

	if opts.DryRun {
		log.Info("dry run, skipping load", zap.Int("rows", len(rows)))
		return nil
	}

	if err := Clear(ctx, pool, product, stateFIPS); err != nil {
		return err
	}

	loaded, err := BulkLoad(ctx, pool, product, rows, opts.BatchSize)
	if err != nil {
		return err
	}

	duration := time.Since(start)

	if err := recordLoad(ctx, pool, stateFIPS, stateAbbr, product.Table, opts.Year, int(loaded), int(duration.Milliseconds())); err != nil {
		log.Warn("failed to record load status", zap.Error(err))
	}

	log.Info("product loaded",
		zap.String("table", product.Table),
		zap.Int64("rows", loaded),
		zap.Duration("duration", duration),
	)

	return nil
}

// isLoaded checks if a product has already been loaded for a given state/year.
func isLoaded(ctx context.Context, pool db.Pool, stateFIPS, tableName string, year int) (bool, error) {
	var count int
	row := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM coverage.load_status WHERE state_fips = $1 AND table_name = $2 AND year = $3",
		stateFIPS, tableName, year,
	)
	if err := row.Scan(&count); err != nil {
		return false, eris.Wrap(err, "tiger: check load status")
	}
	return count > 0, nil
}

// recordLoad inserts or updates the load_status record for a completed load.
func recordLoad(ctx context.Context, pool db.Pool, stateFIPS, stateAbbr, tableName string, year, rowCount, durationMs int) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO coverage.load_status (state_fips, state_abbr, table_name, year, row_count, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (state_fips, table_name, year) DO UPDATE SET
			state_abbr = EXCLUDED.state_abbr,
			row_count = EXCLUDED.row_count,
			loaded_at = now(),
			duration_ms = EXCLUDED.duration_ms`,
		stateFIPS, stateAbbr, tableName, year, rowCount, durationMs,
	)
	if err != nil {
		return eris.Wrap(err, "tiger: record load status")
	}
	return nil
}

// LoadStatus returns the current boundary load state from coverage.load_status.
func LoadStatus(ctx context.Context, pool db.Pool) ([]StatusRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT state_fips, state_abbr, table_name, year, row_count, loaded_at, COALESCE(duration_ms, 0)
		FROM coverage.load_status
		ORDER BY state_fips, table_name`)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: query load status")
	}
	defer rows.Close()

	var status []StatusRow
	for rows.Next() {
		var sr StatusRow
		if err := rows.Scan(&sr.StateFIPS, &sr.StateAbbr, &sr.TableName, &sr.Year, &sr.RowCount, &sr.LoadedAt, &sr.DurationMs); err != nil {
			return nil, eris.Wrap(err, "tiger: scan load status row")
		}
		status = append(status, sr)
	}
	return status, rows.Err()
}
