// Package geospatial persists analysis inputs and outputs in PostGIS:
// the facility roster, fetched isochrones, per-unit overlap fractions,
// and run summaries. It also serves MVT vector tiles over those tables
// for the results viewer. Boundary geometries themselves are loaded by
// the TIGER loader; this package reads them back for the compute
// pipeline and joins them with run output for the choropleth.
package geospatial

import (
	"encoding/json"
	"time"

	"github.com/ctessum/geom"
	"github.com/rotisserie/eris"

	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/model"
)

// Facility is one roster location persisted in coverage.facilities.
type Facility struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	ZIP       string    `json:"zip"`
	StateFIPS string    `json:"state_fips"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Geocoded  bool      `json:"geocoded"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FacilityFromLocation converts a roster location into its persisted form.
func FacilityFromLocation(loc model.Location) *Facility {
	return &Facility{
		ID:        loc.ID,
		Name:      loc.Name,
		Address:   loc.Address,
		City:      loc.City,
		State:     loc.State,
		ZIP:       loc.ZIP,
		StateFIPS: loc.StateFIPS,
		Longitude: loc.Longitude,
		Latitude:  loc.Latitude,
		Geocoded:  loc.Geocoded,
		Source:    loc.Source,
	}
}

// Location converts the facility back into the pipeline's roster type.
func (f *Facility) Location() model.Location {
	return model.Location{
		ID:        f.ID,
		Name:      f.Name,
		Address:   f.Address,
		City:      f.City,
		State:     f.State,
		ZIP:       f.ZIP,
		StateFIPS: f.StateFIPS,
		Longitude: f.Longitude,
		Latitude:  f.Latitude,
		Geocoded:  f.Geocoded,
		Source:    f.Source,
	}
}

// StoredIsochrone is one fetched drive-time polygon persisted in
// coverage.isochrones, keyed by facility, travel profile, and range.
// Geom is the parsed WGS84 boundary; GeoJSON keeps the raw provider
// FeatureCollection for map export.
type StoredIsochrone struct {
	ID           int64           `json:"id"`
	FacilityID   string          `json:"facility_id"`
	Profile      string          `json:"profile"`
	RangeSeconds int             `json:"range_seconds"`
	Geom         geom.Polygonal  `json:"-"`
	GeoJSON      json.RawMessage `json:"geojson,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

// UnitOverlap is one row of per-run apportionment output: the share of
// an areal unit inside the unified reachability boundary and the
// population that share carries.
type UnitOverlap struct {
	RunID            string  `json:"run_id"`
	UnitID           string  `json:"unit_id"`
	TotalArea        float64 `json:"total_area"`
	IntersectionArea float64 `json:"intersection_area"`
	Fraction         float64 `json:"fraction"`
	Population       float64 `json:"population"`
	PopulationWithin float64 `json:"population_within"`
}

// OverlapFromRecord builds the persisted row from a compute-phase
// overlap record and the unit's population count.
func OverlapFromRecord(runID string, rec coverage.OverlapRecord, population float64) UnitOverlap {
	return UnitOverlap{
		RunID:            runID,
		UnitID:           rec.UnitID,
		TotalArea:        rec.TotalArea,
		IntersectionArea: rec.IntersectionArea,
		Fraction:         rec.Fraction,
		Population:       population,
		PopulationWithin: population * rec.Fraction,
	}
}

// AnalysisResult is the per-run summary persisted in
// coverage.analysis_results.
type AnalysisResult struct {
	RunID              string    `json:"run_id"`
	Label              string    `json:"label"`
	States             []string  `json:"states"`
	RangeMinutes       int       `json:"range_minutes"`
	Profile            string    `json:"profile"`
	FacilityCount      int       `json:"facility_count"`
	IsochroneCount     int       `json:"isochrone_count"`
	UnitCount          int       `json:"unit_count"`
	PopulationWithin   float64   `json:"population_within"`
	PopulationTotal    float64   `json:"population_total"`
	PopulationOutside  float64   `json:"population_outside"`
	FractionWithin     float64   `json:"fraction_within"`
	ExcludedInvalid    int       `json:"excluded_invalid"`
	ExcludedDegenerate int       `json:"excluded_degenerate"`
	ExcludedMissingPop int       `json:"excluded_missing_pop"`
	FailedFetches      int       `json:"failed_fetches"`
	Projection         string    `json:"projection"`
	CreatedAt          time.Time `json:"created_at"`
}

// ResultFromRun flattens a finished run's parameters and result into
// the summary row. The run must carry a result.
func ResultFromRun(run *model.Run) (*AnalysisResult, error) {
	if run == nil {
		return nil, eris.New("coverage: nil run")
	}
	if run.Result == nil {
		return nil, eris.Errorf("coverage: run %s has no result", run.ID)
	}
	r := run.Result
	return &AnalysisResult{
		RunID:              run.ID,
		Label:              run.Params.Label,
		States:             run.Params.States,
		RangeMinutes:       r.RangeMinutes,
		Profile:            run.Params.Profile,
		FacilityCount:      r.FacilityCount,
		IsochroneCount:     r.IsochroneCount,
		UnitCount:          r.UnitCount,
		PopulationWithin:   r.PopulationWithin,
		PopulationTotal:    r.PopulationTotal,
		PopulationOutside:  r.PopulationOutside,
		FractionWithin:     r.FractionWithin,
		ExcludedInvalid:    r.ExcludedInvalid,
		ExcludedDegenerate: r.ExcludedDegenerate,
		ExcludedMissingPop: r.ExcludedMissingPop,
		FailedFetches:      r.FailedFetches,
		Projection:         r.Projection,
	}, nil
}

// StateCoverage is one row of the per-state roll-up view.
type StateCoverage struct {
	RunID            string  `json:"run_id"`
	StateFIPS        string  `json:"state_fips"`
	Units            int     `json:"units"`
	PopulationTotal  float64 `json:"population_total"`
	PopulationWithin float64 `json:"population_within"`
	FractionWithin   float64 `json:"fraction_within"`
}

// CountyCoverage is one row of the per-county roll-up for a single state.
type CountyCoverage struct {
	RunID            string  `json:"run_id"`
	CountyGEOID      string  `json:"county_geoid"`
	CountyName       string  `json:"county_name"`
	Units            int     `json:"units"`
	PopulationTotal  float64 `json:"population_total"`
	PopulationWithin float64 `json:"population_within"`
	FractionWithin   float64 `json:"fraction_within"`
}
