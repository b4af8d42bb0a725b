package geospatial

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/careatlas/reachstat/internal/db"
)

// LayerConfig defines how a coverage table maps to an MVT tile layer.
type LayerConfig struct {
	Table      string `json:"table"`
	GeomColumn string `json:"geom_column"`
	Columns    string `json:"columns"` // comma-separated columns to include
	IsPoint    bool   `json:"is_point"`
	MinZoom    int    `json:"min_zoom"`
	MaxZoom    int    `json:"max_zoom"`
}

// validMVTTables is an allowlist of table names that may appear in MVT
// generation queries.
var validMVTTables = map[string]bool{
	"coverage.facilities":   true,
	"coverage.isochrones":   true,
	"coverage.block_groups": true,
	"coverage.counties":     true,
	"coverage.states":       true,
}

// DefaultLayers returns the standard layer configurations for the
// results viewer: the facility points, their drive-time boundaries, and
// the administrative context layers.
func DefaultLayers() map[string]LayerConfig {
	return map[string]LayerConfig{
		"facilities": {
			Table:      "coverage.facilities",
			GeomColumn: "geom",
			Columns:    "id, name, state_fips, geocoded",
			IsPoint:    true,
			MinZoom:    4,
			MaxZoom:    16,
		},
		"isochrones": {
			Table:      "coverage.isochrones",
			GeomColumn: "geom",
			Columns:    "id, facility_id, profile, range_secs",
			MinZoom:    4,
			MaxZoom:    14,
		},
		"block_groups": {
			Table:      "coverage.block_groups",
			GeomColumn: "geom",
			Columns:    "geoid, statefp, countyfp, aland, awater",
			MinZoom:    8,
			MaxZoom:    16,
		},
		"counties": {
			Table:      "coverage.counties",
			GeomColumn: "geom",
			Columns:    "geoid, statefp, name",
			MinZoom:    3,
			MaxZoom:    12,
		},
		"states": {
			Table:      "coverage.states",
			GeomColumn: "geom",
			Columns:    "geoid, stusps, name",
			MinZoom:    0,
			MaxZoom:    8,
		},
	}
}

// GenerateMVT generates a Mapbox Vector Tile for the given layer and tile
// coordinates. The layer's table must be in the validMVTTables allowlist.
func GenerateMVT(ctx context.Context, pool db.Pool, layer LayerConfig, z, x, y int) ([]byte, error) {
	if !validMVTTables[layer.Table] {
		return nil, eris.Errorf("coverage: invalid MVT table %q", layer.Table)
	}

	sql := fmt.Sprintf(`
		SELECT ST_AsMVT(q, 'default', 4096, 'geom') FROM (
			SELECT %s,
				ST_AsMVTGeom(
					%s,
					ST_TileEnvelope($1, $2, $3),
					4096, 256, true
				) AS geom
			FROM %s
			WHERE %s && ST_TileEnvelope($1, $2, $3)
		) q`,
		layer.Columns,
		layer.GeomColumn,
		layer.Table,
		layer.GeomColumn,
	)

	var tile []byte
	err := pool.QueryRow(ctx, sql, z, x, y).Scan(&tile)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: generate MVT")
	}
	return tile, nil
}

// GenerateOverlapMVT generates the run-scoped choropleth tile: block
// group boundaries joined with the run's overlap fractions and
// apportioned population, so the viewer can color by reachable share.
func GenerateOverlapMVT(ctx context.Context, pool db.Pool, runID string, z, x, y int) ([]byte, error) {
	sql := `
		SELECT ST_AsMVT(q, 'default', 4096, 'geom') FROM (
			SELECT b.geoid, o.fraction, o.population, o.population_within,
				ST_AsMVTGeom(
					b.geom,
					ST_TileEnvelope($2, $3, $4),
					4096, 256, true
				) AS geom
			FROM coverage.unit_overlaps o
			JOIN coverage.block_groups b ON b.geoid = o.unit_id
			WHERE o.run_id = $1
			  AND b.geom && ST_TileEnvelope($2, $3, $4)
		) q`

	var tile []byte
	err := pool.QueryRow(ctx, sql, runID, z, x, y).Scan(&tile)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: generate overlap MVT")
	}
	return tile, nil
}
