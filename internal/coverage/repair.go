package coverage

import (
	"math"

	"github.com/ctessum/geom"
	"github.com/rotisserie/eris"
)

// repair rebuilds p as a set of clean rings: vertices snapped onto the
// working grid, consecutive duplicates removed, rings that revisit a
// vertex split at the pinch point, and slivers below the ring epsilon
// dropped. Crossing edges that share no vertex are left to the
// clipper, which renodes them during boolean operations.
func (n *Normalizer) repair(p geom.Polygonal) (geom.Polygonal, error) {
	var out geom.Polygon
	for _, poly := range p.Polygons() {
		for _, ring := range poly {
			for _, r := range splitPinched(cleanRing(ring, n.snapGrid)) {
				if len(r) < 3 || math.Abs(ringArea(r)) <= n.ringEpsilon {
					continue
				}
				out = append(out, r)
			}
		}
	}
	if len(out) == 0 {
		return nil, eris.Wrap(ErrInvalidGeometry, "coverage: no usable rings after repair")
	}
	return out, nil
}

// cleanRing snaps vertices to the grid and removes consecutive
// duplicates, including a closing vertex that repeats the first.
func cleanRing(ring []geom.Point, grid float64) []geom.Point {
	out := make([]geom.Point, 0, len(ring))
	for _, pt := range ring {
		s := geom.Point{X: snap(pt.X, grid), Y: snap(pt.Y, grid)}
		if len(out) > 0 && s == out[len(out)-1] {
			continue
		}
		out = append(out, s)
	}
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

func snap(v, grid float64) float64 {
	return math.Round(v/grid) * grid
}

// splitPinched splits a ring that revisits a vertex into separate
// simple rings. A figure-eight pinched at one point becomes two rings
// covering the same area as intended.
func splitPinched(ring []geom.Point) [][]geom.Point {
	seen := make(map[geom.Point]int, len(ring))
	for i, pt := range ring {
		j, ok := seen[pt]
		if !ok {
			seen[pt] = i
			continue
		}
		inner := make([]geom.Point, i-j)
		copy(inner, ring[j:i])
		rest := append(ring[:j:j], ring[i:]...)
		return append(splitPinched(rest), splitPinched(inner)...)
	}
	return [][]geom.Point{ring}
}

// ringArea returns the signed area of a ring by the shoelace formula,
// positive for counterclockwise winding.
func ringArea(ring []geom.Point) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	area := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += ring[i].X * ring[j].Y
		area -= ring[j].X * ring[i].Y
	}
	return area / 2
}
