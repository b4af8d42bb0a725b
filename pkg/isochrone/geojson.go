package isochrone

import (
	"encoding/json"
	"strings"

	"github.com/ctessum/geom"
	"github.com/rotisserie/eris"
)

// The provider returns a GeoJSON FeatureCollection with one feature
// per requested range. We request a single range per call, so the
// collection normally holds exactly one Polygon feature; all rings
// across features are flattened into one even-odd polygon regardless.

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string            `json:"type"`
	Properties featureProperties `json:"properties"`
	Geometry   featureGeometry   `json:"geometry"`
}

type featureProperties struct {
	GroupIndex int     `json:"group_index"`
	Value      float64 `json:"value"`
}

// featureGeometry defers coordinate decoding because the nesting depth
// depends on the geometry type.
type featureGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParseFeatureCollection decodes isochrone GeoJSON into a polygon with
// WGS84 coordinates. Ring closing vertices are stripped to match the
// clipper's open-ring convention.
func ParseFeatureCollection(data []byte) (geom.Polygon, error) {
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "isochrone: decode feature collection")
	}
	if !strings.EqualFold(fc.Type, "FeatureCollection") {
		return nil, eris.Errorf("isochrone: unexpected geojson type %q", fc.Type)
	}

	var out geom.Polygon
	for _, f := range fc.Features {
		switch f.Geometry.Type {
		case "Polygon":
			var rings [][][]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &rings); err != nil {
				return nil, eris.Wrap(err, "isochrone: decode polygon coordinates")
			}
			appendRings(&out, rings)
		case "MultiPolygon":
			var polys [][][][]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &polys); err != nil {
				return nil, eris.Wrap(err, "isochrone: decode multipolygon coordinates")
			}
			for _, rings := range polys {
				appendRings(&out, rings)
			}
		default:
			return nil, eris.Errorf("isochrone: unsupported geometry type %q", f.Geometry.Type)
		}
	}
	if len(out) == 0 {
		return nil, eris.New("isochrone: no polygon rings in response")
	}
	return out, nil
}

func appendRings(out *geom.Polygon, rings [][][]float64) {
	for _, coords := range rings {
		ring := make([]geom.Point, 0, len(coords))
		for _, c := range coords {
			if len(c) < 2 {
				continue
			}
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
