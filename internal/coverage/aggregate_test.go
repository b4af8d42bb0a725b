package coverage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateApportionsFractionally(t *testing.T) {
	t.Parallel()

	overlaps := []OverlapRecord{
		{UnitID: "A", TotalArea: 100, IntersectionArea: 100, Fraction: 1.0},
		{UnitID: "B", TotalArea: 100, IntersectionArea: 0, Fraction: 0.0},
		{UnitID: "C", TotalArea: 200, IntersectionArea: 50, Fraction: 0.25},
	}
	pops := []PopulationRecord{
		{UnitID: "A", Population: 1000},
		{UnitID: "B", Population: 500},
		{UnitID: "C", Population: 800},
	}

	res, report, err := Aggregate(overlaps, pops, AggregateOptions{})
	require.NoError(t, err)
	assert.True(t, report.Empty())

	assert.Equal(t, 2300.0, res.PopulationTotal)
	assert.Equal(t, 1200.0, res.PopulationWithin)
	assert.Equal(t, 1100.0, res.PopulationOutside)
	assert.InDelta(t, 0.5217, res.FractionWithin, 1e-4)
	assert.Equal(t, 3, res.Units)
}

func TestAggregateWithinPlusOutsideEqualsTotal(t *testing.T) {
	t.Parallel()

	overlaps := []OverlapRecord{
		{UnitID: "a", Fraction: 0.123456789},
		{UnitID: "b", Fraction: 0.87},
		{UnitID: "c", Fraction: 1.0},
		{UnitID: "d", Fraction: 0.0},
	}
	pops := []PopulationRecord{
		{UnitID: "a", Population: 1537},
		{UnitID: "b", Population: 42},
		{UnitID: "c", Population: 999},
		{UnitID: "d", Population: 3},
	}

	res, _, err := Aggregate(overlaps, pops, AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, res.PopulationTotal, res.PopulationWithin+res.PopulationOutside)
}

func TestAggregateMissingPopulationFailsByDefault(t *testing.T) {
	t.Parallel()

	overlaps := []OverlapRecord{
		{UnitID: "known", Fraction: 0.5},
		{UnitID: "unknown", Fraction: 0.5},
	}
	pops := []PopulationRecord{{UnitID: "known", Population: 100}}

	res, report, err := Aggregate(overlaps, pops, AggregateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingPopulation)
	assert.Nil(t, res)
	assert.Equal(t, []string{"unknown"}, report.IDs())
}

func TestAggregateTolerateMissingExcludesUnit(t *testing.T) {
	t.Parallel()

	overlaps := []OverlapRecord{
		{UnitID: "known", Fraction: 0.5},
		{UnitID: "unknown", Fraction: 1.0},
	}
	pops := []PopulationRecord{{UnitID: "known", Population: 100}}

	res, report, err := Aggregate(overlaps, pops, AggregateOptions{TolerateMissing: true})
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.PopulationTotal)
	assert.Equal(t, 50.0, res.PopulationWithin)
	assert.Equal(t, 1, res.Units)
	assert.Equal(t, 1, report.Count(ErrMissingPopulation))
}

func TestAggregateZeroTotalPopulationIsFatal(t *testing.T) {
	t.Parallel()

	overlaps := []OverlapRecord{{UnitID: "a", Fraction: 0.5}}
	pops := []PopulationRecord{{UnitID: "a", Population: 0}}

	res, _, err := Aggregate(overlaps, pops, AggregateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyPopulation)
	assert.Nil(t, res)
}

func TestAggregateNoOverlapsIsFatal(t *testing.T) {
	t.Parallel()

	_, _, err := Aggregate(nil, []PopulationRecord{{UnitID: "a", Population: 5}}, AggregateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyPopulation)
}

func TestAggregateIgnoresPopulationWithoutOverlap(t *testing.T) {
	t.Parallel()

	overlaps := []OverlapRecord{{UnitID: "a", Fraction: 1.0}}
	pops := []PopulationRecord{
		{UnitID: "a", Population: 10},
		{UnitID: "stray", Population: 9999},
	}

	res, _, err := Aggregate(overlaps, pops, AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.PopulationTotal)
	assert.Equal(t, 10.0, res.PopulationWithin)
}

// End-to-end through the geometry: three units built so their overlap
// fractions come out of the clipper as 1.0, 0.0, and 0.25, then joined
// with populations 1000, 500, and 800.
func TestApportionAggregateEndToEnd(t *testing.T) {
	t.Parallel()

	reach := Unify([]ReachabilityRegion{
		{LocationID: "center", Minutes: 45, Geom: square(0, 0, 20)},
	})
	units := []ArealUnit{
		{ID: "A", Geom: square(0, 0, 10)},     // area 100, fully inside
		{ID: "B", Geom: square(100, 100, 10)}, // area 100, disjoint
		{ID: "C", Geom: rect(15, 0, 35, 10)},  // area 200, intersection 50
	}
	pops := []PopulationRecord{
		{UnitID: "A", Population: 1000},
		{UnitID: "B", Population: 500},
		{UnitID: "C", Population: 800},
	}

	recs, report, err := Apportion(context.Background(), units, reach, ApportionOptions{})
	require.NoError(t, err)
	require.True(t, report.Empty())
	require.Len(t, recs, 3)
	assert.InDelta(t, 1.0, recs[0].Fraction, 1e-9)
	assert.Equal(t, 0.0, recs[1].Fraction)
	assert.InDelta(t, 0.25, recs[2].Fraction, 1e-9)

	res, _, err := Aggregate(recs, pops, AggregateOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 2300.0, res.PopulationTotal, 1e-9)
	assert.InDelta(t, 1200.0, res.PopulationWithin, 1e-6)
	assert.InDelta(t, 1100.0, res.PopulationOutside, 1e-6)
	assert.InDelta(t, 0.5217, res.FractionWithin, 1e-4)
}
