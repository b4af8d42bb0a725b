package pipeline

import (
	"context"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/config"
	"github.com/careatlas/reachstat/internal/coverage"
)

// ComputeInput carries everything the overlap computation needs: raw units
// and reachability regions (both still in their source CRS) plus the
// population join set.
type ComputeInput struct {
	Units   []coverage.ArealUnit
	UnitSR  *proj.SR // nil means WGS84
	Regions []coverage.ReachabilityRegion
	Pops    []coverage.PopulationRecord
}

// ComputeOutput is the full result of one overlap computation: per-unit
// overlap records, the regional aggregate, and the merged exclusion report.
type ComputeOutput struct {
	Overlaps  []coverage.OverlapRecord
	Aggregate *coverage.AggregateResult
	Report    *coverage.Report
}

// Compute runs the geometric core of an analysis: project units and regions
// into the working planar CRS, dissolve the regions into one reachability
// boundary, apportion each unit's area against it, and roll the fractions up
// into a population aggregate.
func Compute(ctx context.Context, cfg *config.Config, in ComputeInput) (*ComputeOutput, error) {
	log := zap.L().With(zap.String("component", "pipeline.compute"))

	norm, err := coverage.NewNormalizer(cfg.Projection.Name, cfg.Projection.Proj4, coverage.NormalizerOptions{
		RingEpsilon: cfg.Analysis.RepairRingEpsilon,
	})
	if err != nil {
		return nil, err
	}

	var unitTransform proj.Transformer
	if in.UnitSR != nil {
		unitTransform, err = norm.TransformFrom(in.UnitSR)
	} else {
		unitTransform, err = norm.TransformFromWGS84()
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build unit transform")
	}
	regionTransform, err := norm.TransformFromWGS84()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build region transform")
	}

	report := &coverage.Report{}

	units, unitReport := norm.NormalizeUnits(in.Units, unitTransform)
	report.Merge(unitReport)
	regions, regionReport := norm.NormalizeRegions(in.Regions, regionTransform)
	report.Merge(regionReport)

	log.Info("normalized geometries",
		zap.String("projection", norm.Name()),
		zap.Int("units", len(units)),
		zap.Int("regions", len(regions)),
		zap.Int("excluded", len(in.Units)-len(units)),
	)

	reach := coverage.Unify(regions)

	overlaps, apportionReport, err := coverage.Apportion(ctx, units, reach, coverage.ApportionOptions{
		AreaEpsilon: cfg.Analysis.AreaEpsilon,
		Concurrency: cfg.Analysis.Concurrency,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: apportion overlap")
	}
	report.Merge(apportionReport)

	agg, aggReport, err := coverage.Aggregate(overlaps, in.Pops, coverage.AggregateOptions{
		TolerateMissing: cfg.Analysis.TolerateMissing,
	})
	report.Merge(aggReport)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: aggregate population")
	}

	log.Info("apportionment complete",
		zap.Int("overlap_records", len(overlaps)),
		zap.Float64("population_within", agg.PopulationWithin),
		zap.Float64("population_total", agg.PopulationTotal),
		zap.Float64("fraction_within", agg.FractionWithin),
	)

	return &ComputeOutput{
		Overlaps:  overlaps,
		Aggregate: agg,
		Report:    report,
	}, nil
}
