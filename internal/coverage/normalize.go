package coverage

import (
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// wgs84 is the spatial reference of roster coordinates and isochrone
// GeoJSON.
const wgs84 = "+proj=longlat +datum=WGS84 +no_defs"

// Normalizer projects raw polygonal geometry into the fixed working
// planar CRS and repairs the topological defects projection can
// introduce. Area and intersection math is only meaningful on a planar
// equal-area surface, so everything entering the engine passes through
// here first.
type Normalizer struct {
	name        string
	sr          *proj.SR
	snapGrid    float64
	ringEpsilon float64
	log         *zap.Logger
}

// NormalizerOptions tunes the repair pass.
type NormalizerOptions struct {
	// SnapGrid is the coordinate quantum in working units. Vertices are
	// rounded onto this grid so projection jitter collapses instead of
	// producing near-duplicate points. Zero means DefaultSnapGrid.
	SnapGrid float64

	// RingEpsilon is the minimum |ring area| kept after snapping. Zero
	// means DefaultRingEpsilon.
	RingEpsilon float64
}

const (
	// DefaultSnapGrid is 1mm in projected meters, far below any census
	// or isochrone feature size.
	DefaultSnapGrid = 1e-3

	// DefaultRingEpsilon drops sliver rings left behind by snapping.
	DefaultRingEpsilon = 1e-6
)

// NewNormalizer parses the working projection. The projection is fixed
// configuration for a run, never inferred from the data.
func NewNormalizer(name, proj4 string, opts NormalizerOptions) (*Normalizer, error) {
	sr, err := proj.Parse(proj4)
	if err != nil {
		return nil, eris.Wrapf(err, "coverage: parse working projection %s", name)
	}
	if opts.SnapGrid <= 0 {
		opts.SnapGrid = DefaultSnapGrid
	}
	if opts.RingEpsilon <= 0 {
		opts.RingEpsilon = DefaultRingEpsilon
	}
	return &Normalizer{
		name:        name,
		sr:          sr,
		snapGrid:    opts.SnapGrid,
		ringEpsilon: opts.RingEpsilon,
		log:         zap.L().With(zap.String("component", "coverage.normalize")),
	}, nil
}

// Name returns the configured projection name, for reporting.
func (n *Normalizer) Name() string { return n.name }

// SR exposes the working spatial reference.
func (n *Normalizer) SR() *proj.SR { return n.sr }

// TransformFrom builds a transform from a source spatial reference,
// typically parsed out of a shapefile's .prj, into the working CRS.
func (n *Normalizer) TransformFrom(src *proj.SR) (proj.Transformer, error) {
	t, err := src.NewTransform(n.sr)
	if err != nil {
		return nil, eris.Wrapf(err, "coverage: transform into %s", n.name)
	}
	return t, nil
}

// TransformFromWGS84 builds a transform from geographic WGS84
// coordinates into the working CRS.
func (n *Normalizer) TransformFromWGS84() (proj.Transformer, error) {
	src, err := proj.Parse(wgs84)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: parse WGS84")
	}
	return n.TransformFrom(src)
}

// Normalize projects g into the working CRS and repairs it. A nil
// transform means g is already planar and only repair runs. Empty and
// non-polygonal inputs are rejected with ErrInvalidGeometry.
func (n *Normalizer) Normalize(g geom.Geom, t proj.Transformer) (geom.Polygonal, error) {
	if g == nil {
		return nil, eris.Wrap(ErrInvalidGeometry, "coverage: nil geometry")
	}
	if t != nil {
		gg, err := g.Transform(t)
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidGeometry, "coverage: project geometry: %v", err)
		}
		g = gg
	}
	p, ok := g.(geom.Polygonal)
	if !ok {
		return nil, eris.Wrapf(ErrInvalidGeometry, "coverage: %T is not polygonal", g)
	}
	return n.repair(p)
}

// NormalizeUnits runs Normalize over a batch of areal units. Units
// whose geometry cannot be made valid are dropped and flagged in the
// report; the batch always continues.
func (n *Normalizer) NormalizeUnits(units []ArealUnit, t proj.Transformer) ([]ArealUnit, *Report) {
	report := &Report{}
	out := make([]ArealUnit, 0, len(units))
	for _, u := range units {
		p, err := n.Normalize(u.Geom, t)
		if err != nil {
			n.log.Warn("excluding unit with invalid geometry",
				zap.String("unit_id", u.ID), zap.Error(err))
			report.add(u.ID, err)
			continue
		}
		u.Geom = p
		out = append(out, u)
	}
	return out, report
}

// NormalizeRegions runs Normalize over a batch of reachability
// regions, dropping and reporting the invalid ones.
func (n *Normalizer) NormalizeRegions(regions []ReachabilityRegion, t proj.Transformer) ([]ReachabilityRegion, *Report) {
	report := &Report{}
	out := make([]ReachabilityRegion, 0, len(regions))
	for _, r := range regions {
		p, err := n.Normalize(r.Geom, t)
		if err != nil {
			n.log.Warn("excluding reachability region with invalid geometry",
				zap.String("location_id", r.LocationID), zap.Error(err))
			report.add(r.LocationID, err)
			continue
		}
		r.Geom = p
		out = append(out, r)
	}
	return out, report
}
