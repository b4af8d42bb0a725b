package tiger

import (
	"github.com/ctessum/geom"
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/careatlas/reachstat/internal/geometry"
)

// EncodeWKB converts a go-shp polygon to EWKB bytes with SRID 4326.
// Returns nil, nil for nil, non-polygon, or degenerate shapes; every
// boundary product ships polygons, so anything else is a record to skip.
// Ring nesting goes through the geometry codec so hole rings survive the
// round trip back out of PostGIS with their shells.
func EncodeWKB(shape shp.Shape) ([]byte, error) {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil {
		return nil, nil
	}

	poly := shpToPolygon(p)
	if poly == nil {
		return nil, nil
	}

	data, err := geometry.EncodeEWKB(poly, 4326)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode WKB")
	}
	return data, nil
}

// shpToPolygon copies shapefile parts into a geom.Polygon, one ring per part.
func shpToPolygon(p *shp.Polygon) geom.Polygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	poly := make(geom.Polygon, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}
		if end-start < 3 {
			continue
		}

		ring := make([]geom.Point, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, geom.Point{X: p.Points[j].X, Y: p.Points[j].Y})
		}
		poly = append(poly, ring)
	}

	if len(poly) == 0 {
		return nil
	}
	return poly
}
