package geospatial

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/db"
	"github.com/careatlas/reachstat/internal/geometry"
)

// PostgresStore implements Store on a PostGIS connection pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// UpsertFacility implements Store.
func (s *PostgresStore) UpsertFacility(ctx context.Context, f *Facility) error {
	sql := `
		INSERT INTO coverage.facilities (id, name, address, city, state, zip, state_fips, longitude, latitude, geocoded, source, geom)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, ST_SetSRID(ST_MakePoint($8, $9), 4326))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip = EXCLUDED.zip,
			state_fips = EXCLUDED.state_fips,
			longitude = EXCLUDED.longitude,
			latitude = EXCLUDED.latitude,
			geocoded = EXCLUDED.geocoded,
			source = EXCLUDED.source,
			geom = EXCLUDED.geom,
			updated_at = now()
	`
	_, err := s.pool.Exec(ctx, sql,
		f.ID, f.Name, f.Address, f.City, f.State, f.ZIP, f.StateFIPS,
		f.Longitude, f.Latitude, f.Geocoded, f.Source,
	)
	return eris.Wrap(err, "coverage: upsert facility")
}

// GetFacility implements Store.
func (s *PostgresStore) GetFacility(ctx context.Context, id string) (*Facility, error) {
	sql := `
		SELECT id, name, address, city, state, zip, state_fips,
		       longitude, latitude, geocoded, source, created_at, updated_at
		FROM coverage.facilities WHERE id = $1
	`
	var f Facility
	err := s.pool.QueryRow(ctx, sql, id).Scan(
		&f.ID, &f.Name, &f.Address, &f.City, &f.State, &f.ZIP, &f.StateFIPS,
		&f.Longitude, &f.Latitude, &f.Geocoded, &f.Source,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: get facility")
	}
	return &f, nil
}

// ListFacilities implements Store. An empty stateFIPS lists every facility.
func (s *PostgresStore) ListFacilities(ctx context.Context, stateFIPS string) ([]Facility, error) {
	sql := `
		SELECT id, name, address, city, state, zip, state_fips,
		       longitude, latitude, geocoded, source, created_at, updated_at
		FROM coverage.facilities
		WHERE $1 = '' OR state_fips = $1
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, sql, stateFIPS)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: list facilities")
	}
	defer rows.Close()

	var facilities []Facility
	for rows.Next() {
		var f Facility
		if err := rows.Scan(
			&f.ID, &f.Name, &f.Address, &f.City, &f.State, &f.ZIP, &f.StateFIPS,
			&f.Longitude, &f.Latitude, &f.Geocoded, &f.Source,
			&f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "coverage: scan facility row")
		}
		facilities = append(facilities, f)
	}
	return facilities, rows.Err()
}

// BulkUpsertFacilities implements Store. The point geometry is passed as
// EWKB so the whole roster goes through one temp-table upsert.
func (s *PostgresStore) BulkUpsertFacilities(ctx context.Context, facilities []Facility) (int64, error) {
	rows := make([][]any, len(facilities))
	for i, f := range facilities {
		geomWKB, err := geometry.EncodePointEWKB(f.Longitude, f.Latitude, 4326)
		if err != nil {
			return 0, eris.Wrapf(err, "coverage: encode facility %s point", f.ID)
		}
		rows[i] = []any{
			f.ID, f.Name, f.Address, f.City, f.State, f.ZIP, f.StateFIPS,
			f.Longitude, f.Latitude, f.Geocoded, f.Source, geomWKB,
		}
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "coverage.facilities",
		Columns:      []string{"id", "name", "address", "city", "state", "zip", "state_fips", "longitude", "latitude", "geocoded", "source", "geom"},
		ConflictKeys: []string{"id"},
	}, rows)
}

// SaveIsochrone implements Store.
func (s *PostgresStore) SaveIsochrone(ctx context.Context, iso *StoredIsochrone) error {
	geomWKB, err := geometry.EncodeEWKB(iso.Geom, 4326)
	if err != nil {
		return eris.Wrapf(err, "coverage: encode isochrone for %s", iso.FacilityID)
	}
	sql := `
		INSERT INTO coverage.isochrones (facility_id, profile, range_secs, geom, geojson, fetched_at)
		VALUES ($1, $2, $3, ST_Multi(ST_GeomFromEWKB($4)), $5, now())
		ON CONFLICT (facility_id, profile, range_secs) DO UPDATE SET
			geom = EXCLUDED.geom,
			geojson = EXCLUDED.geojson,
			fetched_at = now()
	`
	_, err = s.pool.Exec(ctx, sql,
		iso.FacilityID, iso.Profile, iso.RangeSeconds, geomWKB, normalizeGeoJSON(iso.GeoJSON),
	)
	return eris.Wrap(err, "coverage: save isochrone")
}

// ListIsochrones implements Store. Geometries come back as EWKB and are
// decoded into the clipper's polygon type.
func (s *PostgresStore) ListIsochrones(ctx context.Context, profile string, rangeSeconds int) ([]StoredIsochrone, error) {
	sql := `
		SELECT id, facility_id, profile, range_secs, ST_AsEWKB(geom), geojson, fetched_at
		FROM coverage.isochrones
		WHERE profile = $1 AND range_secs = $2
		ORDER BY facility_id
	`
	rows, err := s.pool.Query(ctx, sql, profile, rangeSeconds)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: list isochrones")
	}
	defer rows.Close()

	var isos []StoredIsochrone
	for rows.Next() {
		var iso StoredIsochrone
		var geomWKB []byte
		if err := rows.Scan(
			&iso.ID, &iso.FacilityID, &iso.Profile, &iso.RangeSeconds,
			&geomWKB, &iso.GeoJSON, &iso.FetchedAt,
		); err != nil {
			return nil, eris.Wrap(err, "coverage: scan isochrone row")
		}
		if len(geomWKB) > 0 {
			g, err := geometry.DecodeEWKB(geomWKB)
			if err != nil {
				return nil, eris.Wrapf(err, "coverage: decode isochrone %d geometry", iso.ID)
			}
			iso.Geom = g
		}
		isos = append(isos, iso)
	}
	return isos, rows.Err()
}

// CountIsochrones implements Store.
func (s *PostgresStore) CountIsochrones(ctx context.Context, profile string, rangeSeconds int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM coverage.isochrones WHERE profile = $1 AND range_secs = $2`,
		profile, rangeSeconds,
	).Scan(&n)
	return n, eris.Wrap(err, "coverage: count isochrones")
}

// LoadUnits implements Store: reads block-group boundaries loaded by the
// TIGER loader back into the compute pipeline's areal unit type. The
// geometries come back in WGS84; the caller reprojects them.
func (s *PostgresStore) LoadUnits(ctx context.Context, stateFIPS []string) ([]coverage.ArealUnit, error) {
	sql := `
		SELECT geoid, namelsad, aland, ST_AsEWKB(geom)
		FROM coverage.block_groups
		WHERE cardinality($1::text[]) = 0 OR statefp = ANY($1)
		ORDER BY geoid
	`
	rows, err := s.pool.Query(ctx, sql, stateFIPSArg(stateFIPS))
	if err != nil {
		return nil, eris.Wrap(err, "coverage: load units")
	}
	defer rows.Close()

	var units []coverage.ArealUnit
	for rows.Next() {
		var (
			unit    coverage.ArealUnit
			aland   int64
			geomWKB []byte
		)
		if err := rows.Scan(&unit.ID, &unit.Name, &aland, &geomWKB); err != nil {
			return nil, eris.Wrap(err, "coverage: scan unit row")
		}
		unit.LandArea = float64(aland)
		if len(geomWKB) > 0 {
			g, err := geometry.DecodeEWKB(geomWKB)
			if err != nil {
				return nil, eris.Wrapf(err, "coverage: decode unit %s geometry", unit.ID)
			}
			unit.Geom = g
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// CountUnits implements Store.
func (s *PostgresStore) CountUnits(ctx context.Context, stateFIPS []string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM coverage.block_groups WHERE cardinality($1::text[]) = 0 OR statefp = ANY($1)`,
		stateFIPSArg(stateFIPS),
	).Scan(&n)
	return n, eris.Wrap(err, "coverage: count units")
}

// ReplaceRunOverlaps implements Store: drops any previous output for the
// run, then bulk-inserts the new rows over the COPY protocol.
func (s *PostgresStore) ReplaceRunOverlaps(ctx context.Context, runID string, overlaps []UnitOverlap) (int64, error) {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM coverage.unit_overlaps WHERE run_id = $1`, runID,
	); err != nil {
		return 0, eris.Wrap(err, "coverage: clear run overlaps")
	}

	rows := make([][]any, len(overlaps))
	for i, o := range overlaps {
		rows[i] = []any{
			runID, o.UnitID, o.TotalArea, o.IntersectionArea,
			o.Fraction, o.Population, o.PopulationWithin,
		}
	}
	return db.CopyFromSchema(ctx, s.pool, "coverage", "unit_overlaps",
		[]string{"run_id", "unit_id", "total_area", "intersection_area", "fraction", "population", "population_within"},
		rows,
	)
}

// ListRunOverlaps implements Store.
func (s *PostgresStore) ListRunOverlaps(ctx context.Context, runID string) ([]UnitOverlap, error) {
	sql := `
		SELECT run_id, unit_id, total_area, intersection_area, fraction, population, population_within
		FROM coverage.unit_overlaps WHERE run_id = $1 ORDER BY unit_id
	`
	rows, err := s.pool.Query(ctx, sql, runID)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: list run overlaps")
	}
	defer rows.Close()

	var overlaps []UnitOverlap
	for rows.Next() {
		var o UnitOverlap
		if err := rows.Scan(
			&o.RunID, &o.UnitID, &o.TotalArea, &o.IntersectionArea,
			&o.Fraction, &o.Population, &o.PopulationWithin,
		); err != nil {
			return nil, eris.Wrap(err, "coverage: scan overlap row")
		}
		overlaps = append(overlaps, o)
	}
	return overlaps, rows.Err()
}

// SaveAnalysisResult implements Store.
func (s *PostgresStore) SaveAnalysisResult(ctx context.Context, res *AnalysisResult) error {
	sql := `
		INSERT INTO coverage.analysis_results (
			run_id, label, states, range_minutes, profile,
			facility_count, isochrone_count, unit_count,
			population_within, population_total, population_outside, fraction_within,
			excluded_invalid, excluded_degenerate, excluded_missing_pop, failed_fetches,
			projection
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (run_id) DO UPDATE SET
			label = EXCLUDED.label,
			states = EXCLUDED.states,
			range_minutes = EXCLUDED.range_minutes,
			profile = EXCLUDED.profile,
			facility_count = EXCLUDED.facility_count,
			isochrone_count = EXCLUDED.isochrone_count,
			unit_count = EXCLUDED.unit_count,
			population_within = EXCLUDED.population_within,
			population_total = EXCLUDED.population_total,
			population_outside = EXCLUDED.population_outside,
			fraction_within = EXCLUDED.fraction_within,
			excluded_invalid = EXCLUDED.excluded_invalid,
			excluded_degenerate = EXCLUDED.excluded_degenerate,
			excluded_missing_pop = EXCLUDED.excluded_missing_pop,
			failed_fetches = EXCLUDED.failed_fetches,
			projection = EXCLUDED.projection
	`
	_, err := s.pool.Exec(ctx, sql,
		res.RunID, res.Label, res.States, res.RangeMinutes, res.Profile,
		res.FacilityCount, res.IsochroneCount, res.UnitCount,
		res.PopulationWithin, res.PopulationTotal, res.PopulationOutside, res.FractionWithin,
		res.ExcludedInvalid, res.ExcludedDegenerate, res.ExcludedMissingPop, res.FailedFetches,
		res.Projection,
	)
	return eris.Wrap(err, "coverage: save analysis result")
}

// GetAnalysisResult implements Store.
func (s *PostgresStore) GetAnalysisResult(ctx context.Context, runID string) (*AnalysisResult, error) {
	sql := `
		SELECT run_id, label, states, range_minutes, profile,
		       facility_count, isochrone_count, unit_count,
		       population_within, population_total, population_outside, fraction_within,
		       excluded_invalid, excluded_degenerate, excluded_missing_pop, failed_fetches,
		       projection, created_at
		FROM coverage.analysis_results WHERE run_id = $1
	`
	var res AnalysisResult
	err := s.pool.QueryRow(ctx, sql, runID).Scan(
		&res.RunID, &res.Label, &res.States, &res.RangeMinutes, &res.Profile,
		&res.FacilityCount, &res.IsochroneCount, &res.UnitCount,
		&res.PopulationWithin, &res.PopulationTotal, &res.PopulationOutside, &res.FractionWithin,
		&res.ExcludedInvalid, &res.ExcludedDegenerate, &res.ExcludedMissingPop, &res.FailedFetches,
		&res.Projection, &res.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: get analysis result")
	}
	return &res, nil
}

// ListAnalysisResults implements Store, newest first.
func (s *PostgresStore) ListAnalysisResults(ctx context.Context, limit int) ([]AnalysisResult, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := `
		SELECT run_id, label, states, range_minutes, profile,
		       facility_count, isochrone_count, unit_count,
		       population_within, population_total, population_outside, fraction_within,
		       excluded_invalid, excluded_degenerate, excluded_missing_pop, failed_fetches,
		       projection, created_at
		FROM coverage.analysis_results ORDER BY created_at DESC LIMIT $1
	`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: list analysis results")
	}
	defer rows.Close()

	var results []AnalysisResult
	for rows.Next() {
		var res AnalysisResult
		if err := rows.Scan(
			&res.RunID, &res.Label, &res.States, &res.RangeMinutes, &res.Profile,
			&res.FacilityCount, &res.IsochroneCount, &res.UnitCount,
			&res.PopulationWithin, &res.PopulationTotal, &res.PopulationOutside, &res.FractionWithin,
			&res.ExcludedInvalid, &res.ExcludedDegenerate, &res.ExcludedMissingPop, &res.FailedFetches,
			&res.Projection, &res.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "coverage: scan analysis result row")
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// RefreshStateCoverage implements Store: rebuilds the per-state roll-up
// after a run persists its overlaps. CONCURRENTLY keeps the viewer
// responsive during the refresh.
func (s *PostgresStore) RefreshStateCoverage(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY coverage.mv_state_coverage`)
	return eris.Wrap(err, "coverage: refresh state coverage")
}

// ListStateCoverage implements Store.
func (s *PostgresStore) ListStateCoverage(ctx context.Context, runID string) ([]StateCoverage, error) {
	sql := `
		SELECT run_id, state_fips, units, population_total, population_within, fraction_within
		FROM coverage.mv_state_coverage WHERE run_id = $1 ORDER BY state_fips
	`
	rows, err := s.pool.Query(ctx, sql, runID)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: list state coverage")
	}
	defer rows.Close()

	var states []StateCoverage
	for rows.Next() {
		var sc StateCoverage
		if err := rows.Scan(
			&sc.RunID, &sc.StateFIPS, &sc.Units,
			&sc.PopulationTotal, &sc.PopulationWithin, &sc.FractionWithin,
		); err != nil {
			return nil, eris.Wrap(err, "coverage: scan state coverage row")
		}
		states = append(states, sc)
	}
	return states, rows.Err()
}

// ListCountyCoverage implements Store: rolls run overlaps up to counties
// within one state. The county GEOID is the leading five digits of the
// block group GEOID; names come from the TIGER county table when loaded.
func (s *PostgresStore) ListCountyCoverage(ctx context.Context, runID, stateFIPS string) ([]CountyCoverage, error) {
	sql := `
		SELECT o.run_id,
		       substring(o.unit_id FROM 1 FOR 5)        AS county_geoid,
		       COALESCE(MAX(c.name), '')                AS county_name,
		       COUNT(*)                                 AS units,
		       SUM(o.population)                        AS population_total,
		       SUM(o.population_within)                 AS population_within,
		       CASE WHEN SUM(o.population) > 0
		            THEN SUM(o.population_within) / SUM(o.population)
		            ELSE 0
		       END                                      AS fraction_within
		FROM coverage.unit_overlaps o
		LEFT JOIN coverage.counties c ON c.geoid = substring(o.unit_id FROM 1 FOR 5)
		WHERE o.run_id = $1 AND substring(o.unit_id FROM 1 FOR 2) = $2
		GROUP BY o.run_id, substring(o.unit_id FROM 1 FOR 5)
		ORDER BY county_geoid
	`
	rows, err := s.pool.Query(ctx, sql, runID, stateFIPS)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: list county coverage")
	}
	defer rows.Close()

	var counties []CountyCoverage
	for rows.Next() {
		var cc CountyCoverage
		if err := rows.Scan(
			&cc.RunID, &cc.CountyGEOID, &cc.CountyName, &cc.Units,
			&cc.PopulationTotal, &cc.PopulationWithin, &cc.FractionWithin,
		); err != nil {
			return nil, eris.Wrap(err, "coverage: scan county coverage row")
		}
		counties = append(counties, cc)
	}
	return counties, rows.Err()
}

// stateFIPSArg normalizes a nil state list to an empty array so the
// cardinality guard in the SQL sees a real value.
func stateFIPSArg(stateFIPS []string) []string {
	if stateFIPS == nil {
		return []string{}
	}
	return stateFIPS
}

// normalizeGeoJSON returns SQL NULL for an absent document.
func normalizeGeoJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
