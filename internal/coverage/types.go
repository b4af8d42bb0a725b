// Package coverage implements the polygon-overlap population
// apportionment engine: given drive-time reachability polygons and
// areal population units in a shared planar projection, it computes
// how much of each unit's population falls inside the reachable area
// and rolls that up into a regional total.
//
// All inputs are immutable snapshots built once per run. The package
// performs no I/O; fetching shapes, isochrones, and population counts
// is the caller's concern.
package coverage

import "github.com/ctessum/geom"

// ArealUnit is an administrative sub-region carrying a population
// count, keyed by a stable identifier such as a census block group
// GEOID. Geom must already be projected to the working planar CRS and
// repaired before any area or intersection operation.
type ArealUnit struct {
	ID   string
	Name string
	Geom geom.Polygonal

	// LandArea is the water-excluded land area reported by the source
	// (TIGER ALAND), in m². Bookkeeping only: overlap ratios always use
	// the geometry's own area so numerator and denominator agree.
	LandArea float64
}

// ReachabilityRegion is the area reachable from one source location
// within a fixed travel time. Geometry must be pre-normalized to the
// working planar CRS.
type ReachabilityRegion struct {
	LocationID string
	Minutes    int
	Geom       geom.Polygonal
}

// OverlapRecord reports what share of one unit's area falls inside the
// unified reachability boundary. Fraction is always in [0,1]; a unit
// with no intersection gets exactly 0, never a null.
type OverlapRecord struct {
	UnitID           string  `json:"unit_id"`
	TotalArea        float64 `json:"total_area"`
	IntersectionArea float64 `json:"intersection_area"`
	Fraction         float64 `json:"fraction"`
}

// PopulationRecord is a population count keyed by the same identifier
// scheme as ArealUnit. Counts from survey estimates may be fractional.
type PopulationRecord struct {
	UnitID     string  `json:"unit_id"`
	Population float64 `json:"population"`
}

// AggregateResult is the regional roll-up of apportioned population.
type AggregateResult struct {
	PopulationWithin  float64 `json:"population_within"`
	PopulationTotal   float64 `json:"population_total"`
	PopulationOutside float64 `json:"population_outside"`
	FractionWithin    float64 `json:"fraction_within"`

	// Units is the number of areal units that contributed to the sums.
	Units int `json:"units"`
}
