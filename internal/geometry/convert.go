// Package geometry bridges the clipper's polygon types with the
// go-geom types used for EWKB and GeoJSON encoding, so computed
// boundaries can round-trip through PostGIS and map exports.
package geometry

import (
	"math"

	"github.com/ctessum/geom"
	"github.com/rotisserie/eris"
	twgeom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// ToMultiPolygon converts a clipper polygonal, which keeps rings in a
// flat even-odd set, into a go-geom MultiPolygon with explicit
// shell/hole nesting. Rings are closed and shells oriented
// counterclockwise on the way out.
func ToMultiPolygon(p geom.Polygonal, srid int) (*twgeom.MultiPolygon, error) {
	if p == nil {
		return nil, eris.New("geometry: nil polygonal")
	}

	var rings [][]geom.Point
	for _, poly := range p.Polygons() {
		for _, r := range poly {
			if len(r) >= 3 {
				rings = append(rings, r)
			}
		}
	}
	if len(rings) == 0 {
		return nil, eris.New("geometry: no rings to convert")
	}

	shells, holes := nestRings(rings)

	mp := twgeom.NewMultiPolygon(twgeom.XY).SetSRID(srid)
	for i, shell := range shells {
		poly := twgeom.NewPolygon(twgeom.XY).SetSRID(srid)
		if err := poly.Push(toLinearRing(shell, false)); err != nil {
			return nil, eris.Wrap(err, "geometry: push shell")
		}
		for _, hole := range holes[i] {
			if err := poly.Push(toLinearRing(hole, true)); err != nil {
				return nil, eris.Wrap(err, "geometry: push hole")
			}
		}
		if err := mp.Push(poly); err != nil {
			return nil, eris.Wrap(err, "geometry: push polygon")
		}
	}
	return mp, nil
}

// FromGeom converts a go-geom Polygon or MultiPolygon into a clipper
// polygonal, flattening rings and stripping closing vertices.
func FromGeom(g twgeom.T) (geom.Polygonal, error) {
	var out geom.Polygon
	switch t := g.(type) {
	case *twgeom.Polygon:
		appendRings(&out, t)
	case *twgeom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			appendRings(&out, t.Polygon(i))
		}
	default:
		return nil, eris.Errorf("geometry: unsupported type %T", g)
	}
	if len(out) == 0 {
		return nil, eris.New("geometry: empty polygon")
	}
	return out, nil
}

// EncodeEWKB serializes a clipper polygonal as little-endian EWKB with
// the given SRID, ready for a PostGIS geometry column.
func EncodeEWKB(p geom.Polygonal, srid int) ([]byte, error) {
	mp, err := ToMultiPolygon(p, srid)
	if err != nil {
		return nil, err
	}
	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB parses PostGIS EWKB bytes back into a clipper polygonal.
func DecodeEWKB(data []byte) (geom.Polygonal, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: decode EWKB")
	}
	return FromGeom(g)
}

// EncodePointEWKB serializes a lon/lat point as little-endian EWKB,
// for COPY paths that write point geometry columns directly.
func EncodePointEWKB(lon, lat float64, srid int) ([]byte, error) {
	pt, err := twgeom.NewPoint(twgeom.XY).SetSRID(srid).SetCoords(twgeom.Coord{lon, lat})
	if err != nil {
		return nil, eris.Wrap(err, "geometry: set point coords")
	}
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: encode point EWKB")
	}
	return data, nil
}

func appendRings(out *geom.Polygon, poly *twgeom.Polygon) {
	for i := 0; i < poly.NumLinearRings(); i++ {
		coords := poly.LinearRing(i).Coords()
		ring := make([]geom.Point, 0, len(coords))
		for _, c := range coords {
			pt := geom.Point{X: c[0], Y: c[1]}
			if len(ring) > 0 && pt == ring[len(ring)-1] {
				continue
			}
			ring = append(ring, pt)
		}
		if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
			ring = ring[:len(ring)-1]
		}
		if len(ring) >= 3 {
			*out = append(*out, ring)
		}
	}
}

// toLinearRing closes the ring and fixes winding: counterclockwise for
// shells, clockwise for holes.
func toLinearRing(ring []geom.Point, hole bool) *twgeom.LinearRing {
	ccw := ringWinding(ring) > 0
	reverse := (hole && ccw) || (!hole && !ccw)

	flat := make([]float64, 0, (len(ring)+1)*2)
	if reverse {
		for i := len(ring) - 1; i >= 0; i-- {
			flat = append(flat, ring[i].X, ring[i].Y)
		}
		flat = append(flat, ring[len(ring)-1].X, ring[len(ring)-1].Y)
	} else {
		for _, pt := range ring {
			flat = append(flat, pt.X, pt.Y)
		}
		flat = append(flat, ring[0].X, ring[0].Y)
	}
	return twgeom.NewLinearRingFlat(twgeom.XY, flat)
}

// nestRings decides which rings are shells and which are holes by
// containment depth: a ring inside an even number of other rings is a
// shell, odd is a hole belonging to its smallest containing shell.
func nestRings(rings [][]geom.Point) (shells [][]geom.Point, holes [][][]geom.Point) {
	type info struct {
		depth int
		area  float64
	}
	infos := make([]info, len(rings))
	for i, r := range rings {
		infos[i].area = math.Abs(ringWinding(r)) / 2
		for j, other := range rings {
			if i != j && pointInRing(r[0], other) {
				infos[i].depth++
			}
		}
	}

	shellIdx := make([]int, 0, len(rings))
	for i := range rings {
		if infos[i].depth%2 == 0 {
			shellIdx = append(shellIdx, i)
			shells = append(shells, rings[i])
			holes = append(holes, nil)
		}
	}
	for i := range rings {
		if infos[i].depth%2 == 0 {
			continue
		}
		parent := -1
		for s, si := range shellIdx {
			if infos[si].depth == infos[i].depth-1 && pointInRing(rings[i][0], rings[si]) {
				if parent == -1 || infos[si].area < infos[shellIdx[parent]].area {
					parent = s
				}
			}
		}
		if parent >= 0 {
			holes[parent] = append(holes[parent], rings[i])
		} else {
			// Clipper output can leave a hole whose shell was eliminated
			// by snapping. Dropping it overstates the encoded area, so
			// make the loss visible.
			zap.L().Warn("discarding hole ring with no containing shell",
				zap.Int("ring", i),
				zap.Int("depth", infos[i].depth),
				zap.Float64("area", infos[i].area),
			)
		}
	}
	return shells, holes
}

// ringWinding returns twice the signed shoelace area, positive for
// counterclockwise rings.
func ringWinding(ring []geom.Point) float64 {
	area := 0.0
	for i := range ring {
		j := (i + 1) % len(ring)
		area += ring[i].X*ring[j].Y - ring[j].X*ring[i].Y
	}
	return area
}

// pointInRing is an even-odd crossing test.
func pointInRing(pt geom.Point, ring []geom.Point) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if (pi.Y > pt.Y) != (pj.Y > pt.Y) &&
			pt.X < (pj.X-pi.X)*(pt.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			in = !in
		}
	}
	return in
}
