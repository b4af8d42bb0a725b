package coverage

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AggregateOptions tunes the population join.
type AggregateOptions struct {
	// TolerateMissing excludes units that have an overlap fraction but
	// no population record, instead of failing the run. Excluded units
	// leave both the numerator and the denominator so the ratio stays
	// consistent.
	TolerateMissing bool
}

// Aggregate joins overlap fractions with population counts and rolls
// them up into the regional result. The join is keyed on unit ID and
// driven from the overlap side; population records with no overlap
// record are ignored so numerator and denominator cover the same unit
// set.
//
// Population is apportioned fractionally: a unit 40% inside the
// boundary contributes 40% of its people to "within". By default any
// missing population record fails the whole run, since a coverage
// ratio over an incomplete denominator is misleading; the report still
// lists every missing unit so the gap can be fixed in one pass. A zero
// total population is always fatal because the ratio is undefined.
func Aggregate(overlaps []OverlapRecord, pops []PopulationRecord, opts AggregateOptions) (*AggregateResult, *Report, error) {
	log := zap.L().With(zap.String("component", "coverage.aggregate"))

	byID := make(map[string]float64, len(pops))
	for _, p := range pops {
		byID[p.UnitID] = p.Population
	}

	report := &Report{}
	res := &AggregateResult{}
	for _, o := range overlaps {
		pop, ok := byID[o.UnitID]
		if !ok {
			report.add(o.UnitID, ErrMissingPopulation)
			continue
		}
		res.PopulationWithin += pop * o.Fraction
		res.PopulationTotal += pop
		res.Units++
	}

	if missing := len(report.Excluded); missing > 0 && !opts.TolerateMissing {
		return nil, report, eris.Wrapf(ErrMissingPopulation,
			"coverage: %d of %d units have no population record", missing, len(overlaps))
	}

	if res.PopulationTotal == 0 {
		return nil, report, eris.Wrapf(ErrEmptyPopulation,
			"coverage: aggregate over %d units", res.Units)
	}

	// Derived from the total so within+outside==total holds exactly.
	res.PopulationOutside = res.PopulationTotal - res.PopulationWithin
	res.FractionWithin = res.PopulationWithin / res.PopulationTotal

	if !report.Empty() {
		log.Warn("aggregated with missing population records",
			zap.Int("missing", len(report.Excluded)))
	}
	log.Info("aggregated population coverage",
		zap.Int("units", res.Units),
		zap.Float64("population_total", res.PopulationTotal),
		zap.Float64("population_within", res.PopulationWithin),
		zap.Float64("fraction_within", res.FractionWithin))
	return res, report, nil
}
