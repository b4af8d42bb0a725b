package tiger

import (
	"strconv"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/coverage"
)

// ReadUnits decodes a TIGER boundary shapefile straight into areal units for
// the compute engine, bypassing PostGIS. Works for any boundary product that
// carries GEOID, NAMELSAD, and ALAND attributes (block groups and tracts).
// Geometries are returned in the file's own spatial reference, which is also
// returned so the caller can build a transform into the working projection.
func ReadUnits(shpPath string) ([]coverage.ArealUnit, *proj.SR, error) {
	dec, err := shp.NewDecoder(shpPath)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer dec.Close()

	sr, err := dec.SR()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "tiger: read spatial reference for %s", shpPath)
	}

	var units []coverage.ArealUnit
	var skipped int
	for {
		g, fields, more := dec.DecodeRowFields("GEOID", "NAMELSAD", "ALAND")
		if !more {
			break
		}

		geoid, ok := fields["GEOID"]
		if !ok || geoid == "" {
			return nil, nil, eris.Errorf("tiger: %s has no GEOID attribute", shpPath)
		}

		poly, ok := g.(geom.Polygonal)
		if !ok || poly == nil {
			skipped++
			continue
		}

		var landArea float64
		if aland := fields["ALAND"]; aland != "" {
			landArea, _ = strconv.ParseFloat(aland, 64)
		}

		units = append(units, coverage.ArealUnit{
			ID:       geoid,
			Name:     fields["NAMELSAD"],
			Geom:     poly,
			LandArea: landArea,
		})
	}
	if err := dec.Error(); err != nil {
		return nil, nil, eris.Wrapf(err, "tiger: decode %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Warn("tiger: skipped non-polygonal records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return units, sr, nil
}
