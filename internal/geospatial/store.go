package geospatial

import (
	"context"

	"github.com/careatlas/reachstat/internal/coverage"
)

// Store persists facilities, isochrones, and run output in PostGIS and
// reads boundary units back for the compute pipeline.
type Store interface {
	// Facilities
	UpsertFacility(ctx context.Context, f *Facility) error
	GetFacility(ctx context.Context, id string) (*Facility, error)
	ListFacilities(ctx context.Context, stateFIPS string) ([]Facility, error)
	BulkUpsertFacilities(ctx context.Context, facilities []Facility) (int64, error)

	// Isochrones
	SaveIsochrone(ctx context.Context, iso *StoredIsochrone) error
	ListIsochrones(ctx context.Context, profile string, rangeSeconds int) ([]StoredIsochrone, error)
	CountIsochrones(ctx context.Context, profile string, rangeSeconds int) (int, error)

	// Areal units, loaded from the TIGER boundary tables. An empty
	// state list loads every state present.
	LoadUnits(ctx context.Context, stateFIPS []string) ([]coverage.ArealUnit, error)
	CountUnits(ctx context.Context, stateFIPS []string) (int, error)

	// Run output
	ReplaceRunOverlaps(ctx context.Context, runID string, overlaps []UnitOverlap) (int64, error)
	ListRunOverlaps(ctx context.Context, runID string) ([]UnitOverlap, error)
	SaveAnalysisResult(ctx context.Context, res *AnalysisResult) error
	GetAnalysisResult(ctx context.Context, runID string) (*AnalysisResult, error)
	ListAnalysisResults(ctx context.Context, limit int) ([]AnalysisResult, error)

	// Roll-ups for the results viewer
	RefreshStateCoverage(ctx context.Context) error
	ListStateCoverage(ctx context.Context, runID string) ([]StateCoverage, error)
	ListCountyCoverage(ctx context.Context, runID, stateFIPS string) ([]CountyCoverage, error)
}

var _ Store = (*PostgresStore)(nil)
