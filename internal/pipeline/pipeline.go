// Package pipeline orchestrates a coverage analysis end to end: roster
// ingestion, boundary acquisition, isochrone fetching, population joins,
// and the geometric overlap computation, with per-phase tracking and
// checkpoint-based resume.
package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/careatlas/reachstat/internal/config"
	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/geospatial"
	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/store"
	"github.com/careatlas/reachstat/internal/tiger"
	"github.com/careatlas/reachstat/pkg/census"
	"github.com/careatlas/reachstat/pkg/geocode"
	"github.com/careatlas/reachstat/pkg/isochrone"
)

// Phase names, in execution order.
const (
	PhaseLocations  = "locations"
	PhaseUnits      = "units"
	PhaseIsochrones = "isochrones"
	PhasePopulation = "population"
	PhaseCompute    = "compute"
	PhasePersist    = "persist"
)

// Pipeline wires the clients and stores a coverage analysis needs. The
// geospatial store is optional: without it, facilities and overlaps are not
// persisted to PostGIS and the persist phase is skipped.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	geo      geospatial.Store
	iso      isochrone.Client
	census   census.Client
	geocoder geocode.Client
	units    UnitSource
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	geo geospatial.Store,
	iso isochrone.Client,
	censusClient census.Client,
	geocoderClient geocode.Client,
	units UnitSource,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		geo:      geo,
		iso:      iso,
		census:   censusClient,
		geocoder: geocoderClient,
		units:    units,
	}
}

// runState is the checkpoint payload: everything cheap to serialize that a
// resumed run would otherwise have to recompute. Geometry is deliberately
// absent; units reload from their source and isochrone re-fetches hit the
// cache.
type runState struct {
	Phase     string                      `json:"phase"`
	Locations []model.Location            `json:"locations,omitempty"`
	States    []string                    `json:"states,omitempty"`
	Pops      []coverage.PopulationRecord `json:"pops,omitempty"`
}

// Run executes a full analysis as a new run.
func (p *Pipeline) Run(ctx context.Context, params model.AnalysisParams) (*model.Run, error) {
	p.applyDefaults(&params)

	run, err := p.store.CreateRun(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return p.execute(ctx, run, nil)
}

// Resume picks up an interrupted run from its last checkpoint. A run with
// no checkpoint restarts from the beginning under the same run ID.
func (p *Pipeline) Resume(ctx context.Context, runID string) (*model.Run, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load run %s", runID)
	}
	if run.Status == model.RunStatusComplete {
		return nil, eris.Errorf("pipeline: run %s already complete", runID)
	}
	p.applyDefaults(&run.Params)

	var state *runState
	cp, err := p.store.LoadCheckpoint(ctx, runID)
	if err != nil {
		zap.L().Warn("pipeline: failed to load checkpoint, restarting run",
			zap.String("run_id", runID), zap.Error(err))
	} else if cp != nil {
		state = &runState{}
		if jsonErr := json.Unmarshal(cp.Data, state); jsonErr != nil {
			zap.L().Warn("pipeline: corrupt checkpoint, restarting run",
				zap.String("run_id", runID), zap.Error(jsonErr))
			state = nil
		}
	}

	return p.execute(ctx, run, state)
}

func (p *Pipeline) applyDefaults(params *model.AnalysisParams) {
	if params.RangeMinutes == 0 {
		params.RangeMinutes = p.cfg.Isochrone.RangeMinutes
	}
	if params.Profile == "" {
		params.Profile = p.cfg.Isochrone.Profile
	}
	if params.TigerYear == 0 {
		params.TigerYear = p.cfg.Tiger.Year
	}
}

func (p *Pipeline) execute(ctx context.Context, run *model.Run, resume *runState) (*model.Run, error) {
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("run_id", run.ID),
	)
	log.Info("starting coverage analysis",
		zap.String("roster", run.Params.RosterPath),
		zap.Int("range_minutes", run.Params.RangeMinutes),
		zap.Bool("resumed", resume != nil),
	)

	result := &model.RunResult{
		RangeMinutes: run.Params.RangeMinutes,
		Projection:   p.cfg.Projection.Name,
		PhaseSeconds: make(map[string]float64),
	}
	run.Result = result

	setStatus := func(status model.RunStatus) {
		run.Status = status
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("failed to update run status", zap.Error(statusErr))
		}
	}

	var phasesMu sync.Mutex
	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start)

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.DurationMS = duration.Milliseconds()

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", phaseResult.DurationMS),
				zap.Error(fnErr),
			)
		} else if phaseResult.Status == "" {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", phaseResult.DurationMS),
				zap.Int("items", phaseResult.Items),
			)
		}

		if phase != nil {
			_ = p.store.CompletePhase(ctx, phase.ID, phaseResult)
		}
		phasesMu.Lock()
		result.PhaseSeconds[name] = duration.Seconds()
		phasesMu.Unlock()
		return fnErr
	}

	checkpoint := func(state runState) {
		data, jsonErr := json.Marshal(state)
		if jsonErr != nil {
			log.Warn("failed to marshal checkpoint", zap.Error(jsonErr))
			return
		}
		if cpErr := p.store.SaveCheckpoint(ctx, run.ID, state.Phase, data); cpErr != nil {
			log.Warn("failed to save checkpoint", zap.Error(cpErr))
		}
	}

	fail := func(err error) (*model.Run, error) {
		setStatus(model.RunStatusFailed)
		return run, err
	}

	setStatus(model.RunStatusRunning)

	// ===== Phase: locations =====
	var locations []model.Location
	var states []string

	if resume != nil && len(resume.Locations) > 0 {
		locations = resume.Locations
		states = resume.States
		if err := trackPhase(PhaseLocations, func() (*model.PhaseResult, error) {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped, Items: len(locations)}, nil
		}); err != nil {
			return fail(err)
		}
	} else {
		if err := trackPhase(PhaseLocations, func() (*model.PhaseResult, error) {
			locs, locErr := p.loadLocations(ctx, run.Params)
			if locErr != nil {
				return nil, locErr
			}
			locations = locs
			resolved, fips, stateErr := p.resolveStates(ctx, locations, run.Params.States)
			if stateErr != nil {
				return nil, stateErr
			}
			locations = resolved
			states = fips
			return &model.PhaseResult{Items: len(locations)}, nil
		}); err != nil {
			return fail(err)
		}
		checkpoint(runState{Phase: PhaseLocations, Locations: locations, States: states})
	}

	if len(locations) == 0 {
		return fail(eris.New("pipeline: roster produced no usable locations"))
	}
	result.FacilityCount = len(locations)

	// ===== Phases: units, isochrones, population (parallel) =====
	var (
		units      []coverage.ArealUnit
		unitSR     *proj.SR
		batch      *isochrone.BatchResult
		pops       []coverage.PopulationRecord
		popsCached = resume != nil && len(resume.Pops) > 0
	)
	if popsCached {
		pops = resume.Pops
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trackPhase(PhaseUnits, func() (*model.PhaseResult, error) {
			u, sr, unitErr := p.units.Units(gCtx, states)
			if unitErr != nil {
				return nil, unitErr
			}
			units = u
			unitSR = sr
			return &model.PhaseResult{Items: len(u)}, nil
		})
	})
	g.Go(func() error {
		return trackPhase(PhaseIsochrones, func() (*model.PhaseResult, error) {
			b, isoErr := FetchIsochrones(gCtx, p.iso, p.store, p.geo, locations,
				run.Params.Profile, run.Params.RangeMinutes, p.cfg.Isochrone.MaxAttempts)
			if isoErr != nil {
				return nil, isoErr
			}
			batch = b
			if len(b.Isochrones) == 0 {
				return nil, eris.New("pipeline: no isochrones fetched")
			}
			return &model.PhaseResult{Items: len(b.Isochrones)}, nil
		})
	})
	g.Go(func() error {
		if popsCached {
			return trackPhase(PhasePopulation, func() (*model.PhaseResult, error) {
				return &model.PhaseResult{Status: model.PhaseStatusSkipped, Items: len(pops)}, nil
			})
		}
		return trackPhase(PhasePopulation, func() (*model.PhaseResult, error) {
			records, popErr := p.census.ForStates(gCtx, states)
			if popErr != nil {
				return nil, popErr
			}
			pops = records
			return &model.PhaseResult{Items: len(records)}, nil
		})
	})
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	result.IsochroneCount = len(batch.Isochrones)
	result.FailedFetches = len(batch.Failed)
	checkpoint(runState{Phase: PhasePopulation, Locations: locations, States: states, Pops: pops})

	// ===== Phase: compute =====
	var out *ComputeOutput
	if err := trackPhase(PhaseCompute, func() (*model.PhaseResult, error) {
		regions := make([]coverage.ReachabilityRegion, 0, len(batch.Isochrones))
		for i := range batch.Isochrones {
			regions = append(regions, batch.Isochrones[i].Region())
		}
		computed, computeErr := Compute(ctx, p.cfg, ComputeInput{
			Units:   units,
			UnitSR:  unitSR,
			Regions: regions,
			Pops:    pops,
		})
		if computeErr != nil {
			return nil, computeErr
		}
		out = computed
		return &model.PhaseResult{Items: len(computed.Overlaps)}, nil
	}); err != nil {
		return fail(err)
	}

	agg := out.Aggregate
	result.PopulationWithin = agg.PopulationWithin
	result.PopulationTotal = agg.PopulationTotal
	result.PopulationOutside = agg.PopulationOutside
	result.FractionWithin = agg.FractionWithin
	result.UnitCount = agg.Units
	result.ExcludedInvalid = out.Report.Count(coverage.ErrInvalidGeometry)
	result.ExcludedDegenerate = out.Report.Count(coverage.ErrDegenerateUnit)
	result.ExcludedMissingPop = out.Report.Count(coverage.ErrMissingPopulation)

	// ===== Phase: persist =====
	if err := trackPhase(PhasePersist, func() (*model.PhaseResult, error) {
		if p.geo == nil {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		if persistErr := PersistResults(ctx, p.geo, run, out.Overlaps, pops); persistErr != nil {
			return nil, persistErr
		}
		return &model.PhaseResult{Items: len(out.Overlaps)}, nil
	}); err != nil {
		return fail(err)
	}

	if err := p.store.UpdateRunResult(ctx, run.ID, result); err != nil {
		log.Warn("failed to persist run result", zap.Error(err))
	}
	setStatus(model.RunStatusComplete)
	if err := p.store.DeleteCheckpoint(ctx, run.ID); err != nil {
		log.Warn("failed to delete checkpoint", zap.Error(err))
	}

	log.Info("coverage analysis complete",
		zap.Float64("population_within", result.PopulationWithin),
		zap.Float64("population_total", result.PopulationTotal),
		zap.Float64("fraction_within", result.FractionWithin),
	)
	return run, nil
}

// loadLocations reads the roster and fills in missing coordinates.
func (p *Pipeline) loadLocations(ctx context.Context, params model.AnalysisParams) ([]model.Location, error) {
	locs, err := ReadRoster(ctx, params.RosterPath)
	if err != nil {
		return nil, err
	}
	locs, geocoded, err := GeocodeMissing(ctx, locs, p.geocoder)
	if err != nil {
		return nil, err
	}
	if geocoded > 0 {
		zap.L().Info("geocoded roster addresses",
			zap.String("component", "pipeline"),
			zap.Int("geocoded", geocoded),
		)
	}

	if p.geo != nil {
		facilities := make([]geospatial.Facility, 0, len(locs))
		for _, loc := range locs {
			facilities = append(facilities, *geospatial.FacilityFromLocation(loc))
		}
		if _, upErr := p.geo.BulkUpsertFacilities(ctx, facilities); upErr != nil {
			zap.L().Warn("failed to persist facilities",
				zap.String("component", "pipeline"),
				zap.Error(upErr),
			)
		}
	}
	return locs, nil
}

// resolveStates determines the state FIPS codes the analysis spans: explicit
// roster params win, otherwise states are reverse-geocoded from facility
// coordinates.
func (p *Pipeline) resolveStates(ctx context.Context, locs []model.Location, abbrs []string) ([]model.Location, []string, error) {
	if len(abbrs) > 0 {
		fips := make([]string, 0, len(abbrs))
		for _, abbr := range abbrs {
			code, ok := tiger.FIPSCodes[abbr]
			if !ok {
				return nil, nil, eris.Errorf("pipeline: unknown state %q", abbr)
			}
			fips = append(fips, code)
		}
		sort.Strings(fips)
		return locs, fips, nil
	}
	return ResolveStates(ctx, locs, p.geocoder)
}
