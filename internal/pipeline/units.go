package pipeline

import (
	"context"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/geospatial"
	"github.com/careatlas/reachstat/internal/tiger"
)

// UnitSource supplies the areal units (block groups) covering a set of
// states, together with the spatial reference the geometries are in. A nil
// spatial reference means geographic WGS84.
type UnitSource interface {
	Units(ctx context.Context, states []string) ([]coverage.ArealUnit, *proj.SR, error)
}

// StoreUnitSource reads block groups previously bulk-loaded into PostGIS.
// TIGER geometries are stored in WGS84, so the source SR is always nil.
type StoreUnitSource struct {
	Geo geospatial.Store
}

func (s *StoreUnitSource) Units(ctx context.Context, states []string) ([]coverage.ArealUnit, *proj.SR, error) {
	units, err := s.Geo.LoadUnits(ctx, states)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: load units from store")
	}
	return units, nil, nil
}

// ShapefileUnitSource downloads the per-state TIGER block group archives
// directly and decodes them, so analyses can run without a PostGIS boundary
// load. All states' shapefiles carry the same spatial reference, so the SR
// of the first file read is returned for the lot.
type ShapefileUnitSource struct {
	Downloader *tiger.Downloader
	Year       int
	Transport  string // "http" or "ftp"
}

func (s *ShapefileUnitSource) Units(ctx context.Context, states []string) ([]coverage.ArealUnit, *proj.SR, error) {
	if len(states) == 0 {
		return nil, nil, eris.New("pipeline: no states to load units for")
	}
	product, ok := tiger.ProductByName("BG")
	if !ok {
		return nil, nil, eris.New("pipeline: block group product not registered")
	}

	log := zap.L().With(zap.String("component", "pipeline.units"))

	var all []coverage.ArealUnit
	var sr *proj.SR
	for _, fips := range states {
		url := tiger.DownloadURL(product, s.Year, fips)
		if s.Transport == "ftp" {
			url = tiger.FTPURL(product, s.Year, fips)
		}

		shpPath, err := s.Downloader.Download(ctx, url)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "pipeline: download block groups for state %s", fips)
		}

		units, fileSR, err := tiger.ReadUnits(shpPath)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "pipeline: read block groups for state %s", fips)
		}
		if sr == nil {
			sr = fileSR
		}

		log.Info("read block group shapefile",
			zap.String("state_fips", fips),
			zap.Int("units", len(units)),
		)
		all = append(all, units...)
	}

	return all, sr, nil
}
