package coverage

import (
	"sort"

	"github.com/ctessum/geom"
	"go.uber.org/zap"
)

// Unify merges per-location reachability regions into one boundary
// covering everything reachable from at least one location. Which
// location covers a given point is deliberately discarded.
//
// Regions must already be in the working planar CRS; unioning in
// geographic coordinates distorts the result. With no usable regions
// the returned boundary is empty and every downstream overlap is 0.
func Unify(regions []ReachabilityRegion) geom.Polygonal {
	log := zap.L().With(zap.String("component", "coverage.unify"))

	polys := make([]geom.Polygonal, 0, len(regions))
	for _, r := range regions {
		if r.Geom == nil || r.Geom.Area() == 0 {
			log.Warn("skipping empty reachability region",
				zap.String("location_id", r.LocationID))
			continue
		}
		polys = append(polys, r.Geom)
	}

	if len(polys) == 0 {
		return geom.Polygon{}
	}
	if len(polys) == 1 {
		return polys[0]
	}

	// Sorting by bounding box keeps the pairwise union deterministic
	// regardless of fetch order, and neighbors merge cheaply.
	sort.Slice(polys, func(i, j int) bool {
		bi, bj := polys[i].Bounds(), polys[j].Bounds()
		if bi.Min.X != bj.Min.X {
			return bi.Min.X < bj.Min.X
		}
		return bi.Min.Y < bj.Min.Y
	})

	var unified geom.Polygonal = polys[0]
	for _, p := range polys[1:] {
		unified = unified.Union(p)
	}

	log.Debug("unified reachability regions",
		zap.Int("regions", len(polys)),
		zap.Float64("area", unified.Area()))
	return unified
}
