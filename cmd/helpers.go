package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/careatlas/reachstat/internal/geospatial"
	"github.com/careatlas/reachstat/internal/pipeline"
	"github.com/careatlas/reachstat/internal/resilience"
	"github.com/careatlas/reachstat/internal/store"
	"github.com/careatlas/reachstat/internal/tiger"
	"github.com/careatlas/reachstat/pkg/census"
	"github.com/careatlas/reachstat/pkg/geocode"
	"github.com/careatlas/reachstat/pkg/isochrone"
)

// initStore opens the run/cache store named by store.driver.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.Path
		if dsn == "" {
			dsn = "reachstat.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		st.IsochroneTTL = time.Duration(cfg.Isochrone.CacheTTLHours) * time.Hour
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, err
		}
		st.IsochroneTTL = time.Duration(cfg.Isochrone.CacheTTLHours) * time.Hour
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// geoPool opens a pgx pool against the PostGIS database. Commands that can
// run without PostGIS treat an empty database.url as "no geospatial store".
func geoPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, eris.New("database.url is required (REACHSTAT_DATABASE_URL)")
	}
	pgxCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, eris.Wrap(err, "parse database url")
	}
	if cfg.Database.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.MinConns > 0 {
		pgxCfg.MinConns = cfg.Database.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "connect to postgis")
	}
	return pool, nil
}

// initGeoStore returns the PostGIS-backed geospatial store, or (nil, nil)
// when no PostGIS database is configured.
func initGeoStore(ctx context.Context) (geospatial.Store, *pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, nil, nil
	}
	pool, err := geoPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	return geospatial.NewPostgresStore(pool), pool, nil
}

func initIsochroneClient(cache isochrone.Cache) isochrone.Client {
	breaker := resilience.NewCircuitBreaker(resilience.BreakerFromConfig(
		cfg.Isochrone.BreakerThreshold, cfg.Isochrone.BreakerResetSecs))

	opts := []isochrone.Option{
		isochrone.WithProfile(cfg.Isochrone.Profile),
		isochrone.WithRateLimit(cfg.Isochrone.RatePerSec, cfg.Isochrone.Burst),
		isochrone.WithRetry(resilience.RetryFromConfig(cfg.Isochrone.MaxAttempts)),
		isochrone.WithBreaker(breaker),
		isochrone.WithConcurrency(cfg.Isochrone.Concurrency),
	}
	if cfg.Isochrone.BaseURL != "" {
		opts = append(opts, isochrone.WithBaseURL(cfg.Isochrone.BaseURL))
	}
	if cache != nil {
		opts = append(opts, isochrone.WithCache(cache))
	}
	return isochrone.NewClient(cfg.Isochrone.APIKey, opts...)
}

func initCensusClient() census.Client {
	opts := []census.Option{
		census.WithDataset(cfg.Census.Dataset),
		census.WithYear(cfg.Census.Year),
		census.WithRateLimit(cfg.Census.RatePerSec),
	}
	if cfg.Census.BaseURL != "" {
		opts = append(opts, census.WithBaseURL(cfg.Census.BaseURL))
	}
	return census.NewClient(cfg.Census.APIKey, opts...)
}

func initGeocodeClient(pool *pgxpool.Pool) geocode.Client {
	opts := []geocode.Option{
		geocode.WithBenchmark(cfg.Geocoder.Benchmark),
		geocode.WithVintage(cfg.Geocoder.Vintage),
		geocode.WithRateLimit(cfg.Geocoder.RatePerSec),
	}
	if cfg.Geocoder.BaseURL != "" {
		opts = append(opts, geocode.WithBaseURL(cfg.Geocoder.BaseURL))
	}
	if pool != nil {
		opts = append(opts, geocode.WithCache(pool, cfg.Geocoder.CacheTTLDays))
	}
	return geocode.NewClient(opts...)
}

// initUnitSource picks where block group boundaries come from: PostGIS when
// available, otherwise per-state TIGER shapefiles.
func initUnitSource(geo geospatial.Store) pipeline.UnitSource {
	if geo != nil {
		return &pipeline.StoreUnitSource{Geo: geo}
	}
	return &pipeline.ShapefileUnitSource{
		Downloader: tiger.NewDownloader(tiger.DownloaderOptions{CacheDir: cfg.Tiger.CacheDir}),
		Year:       cfg.Tiger.Year,
		Transport:  cfg.Tiger.Transport,
	}
}

// splitAndTrim splits a comma-separated flag value into trimmed non-empty
// parts.
func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// toUpper uppercases all strings in a slice.
func toUpper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}

// statesToFIPS converts state abbreviations to sorted 2-digit FIPS codes.
func statesToFIPS(abbrs []string) ([]string, error) {
	fips := make([]string, 0, len(abbrs))
	for _, abbr := range toUpper(abbrs) {
		code, ok := tiger.FIPSCodes[abbr]
		if !ok {
			return nil, eris.Errorf("unknown state %q", abbr)
		}
		fips = append(fips, code)
	}
	sort.Strings(fips)
	return fips, nil
}
