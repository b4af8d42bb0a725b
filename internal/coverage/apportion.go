package coverage

import (
	"context"
	"runtime"
	"time"

	"github.com/ctessum/geom"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultAreaEpsilon is the area in m² below which a unit counts as
// degenerate. Projection round-trips can leave sliver rings with tiny
// positive area where the source shape was effectively empty.
const DefaultAreaEpsilon = 1e-6

// ApportionOptions tunes the overlap pass.
type ApportionOptions struct {
	// AreaEpsilon overrides DefaultAreaEpsilon when positive.
	AreaEpsilon float64

	// Concurrency caps the number of parallel intersection workers.
	// Zero means GOMAXPROCS.
	Concurrency int
}

// Apportion computes, for every areal unit, the fraction of its area
// covered by the unified reachability boundary. Units and the boundary
// must share the working planar CRS.
//
// Each unit is independent, so the intersection work runs on a bounded
// worker pool; results land in per-unit slots and are reduced after the
// pool drains. Units with nil geometry or (near-)zero area are excluded
// and flagged in the report rather than failing the batch. The only
// error paths are context cancellation and an expired deadline.
func Apportion(ctx context.Context, units []ArealUnit, reach geom.Polygonal, opts ApportionOptions) ([]OverlapRecord, *Report, error) {
	log := zap.L().With(zap.String("component", "coverage.apportion"))
	start := time.Now()

	epsilon := opts.AreaEpsilon
	if epsilon <= 0 {
		epsilon = DefaultAreaEpsilon
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// An empty boundary (no reachability regions at all) overlaps
	// nothing; every valid unit scores exactly 0.
	var reachBounds *geom.Bounds
	empty := reach == nil || reach.Area() == 0
	if !empty {
		reachBounds = reach.Bounds()
	}

	recs := make([]*OverlapRecord, len(units))
	excluded := make([]*UnitError, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			u := units[i]

			if u.Geom == nil {
				excluded[i] = &UnitError{UnitID: u.ID, Err: ErrInvalidGeometry}
				return nil
			}
			total := u.Geom.Area()
			if total <= epsilon {
				excluded[i] = &UnitError{UnitID: u.ID, Err: ErrDegenerateUnit}
				return nil
			}

			var isect float64
			if !empty && reachBounds.Overlaps(u.Geom.Bounds()) {
				if p := u.Geom.Intersection(reach); p != nil {
					isect = p.Area()
				}
			}

			// Clamp to [0,1]: clipping can overshoot full containment
			// by a few ulps (e.g. 1.0000000002).
			frac := isect / total
			if frac > 1 {
				frac = 1
			} else if frac < 0 {
				frac = 0
			}

			recs[i] = &OverlapRecord{
				UnitID:           u.ID,
				TotalArea:        total,
				IntersectionArea: isect,
				Fraction:         frac,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "coverage: apportion overlap fractions")
	}

	report := &Report{}
	out := make([]OverlapRecord, 0, len(units))
	for i := range units {
		if ue := excluded[i]; ue != nil {
			log.Warn("excluding unit from apportionment",
				zap.String("unit_id", ue.UnitID),
				zap.Error(ue.Err))
			report.Excluded = append(report.Excluded, ue)
			continue
		}
		out = append(out, *recs[i])
	}

	log.Info("apportioned overlap fractions",
		zap.Int("units", len(units)),
		zap.Int("excluded", len(report.Excluded)),
		zap.Bool("empty_boundary", empty),
		zap.Duration("elapsed", time.Since(start)))
	return out, report, nil
}
