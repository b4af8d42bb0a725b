package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/geospatial"
	"github.com/careatlas/reachstat/internal/model"
)

// PersistResults writes a finished run's per-unit overlaps and summary row
// to PostGIS and refreshes the state coverage rollup. Population joins use
// the same records the aggregate used, so the persisted PopulationWithin
// column sums to the run result.
func PersistResults(
	ctx context.Context,
	geo geospatial.Store,
	run *model.Run,
	overlaps []coverage.OverlapRecord,
	pops []coverage.PopulationRecord,
) error {
	log := zap.L().With(
		zap.String("component", "pipeline.persist"),
		zap.String("run_id", run.ID),
	)

	popByUnit := make(map[string]float64, len(pops))
	for _, p := range pops {
		popByUnit[p.UnitID] = p.Population
	}

	rows := make([]geospatial.UnitOverlap, 0, len(overlaps))
	for _, rec := range overlaps {
		rows = append(rows, geospatial.OverlapFromRecord(run.ID, rec, popByUnit[rec.UnitID]))
	}

	inserted, err := geo.ReplaceRunOverlaps(ctx, run.ID, rows)
	if err != nil {
		return eris.Wrap(err, "pipeline: persist unit overlaps")
	}
	log.Info("persisted unit overlaps", zap.Int64("rows", inserted))

	result, err := geospatial.ResultFromRun(run)
	if err != nil {
		return eris.Wrap(err, "pipeline: build analysis result")
	}
	if err := geo.SaveAnalysisResult(ctx, result); err != nil {
		return eris.Wrap(err, "pipeline: persist analysis result")
	}

	if err := geo.RefreshStateCoverage(ctx); err != nil {
		// The rollup is derived data; the next refresh rebuilds it.
		log.Warn("failed to refresh state coverage rollup", zap.Error(err))
	}

	return nil
}
