package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/geospatial"
	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/resilience"
	"github.com/careatlas/reachstat/internal/store"
	"github.com/careatlas/reachstat/pkg/census"
	"github.com/careatlas/reachstat/pkg/geocode"
	"github.com/careatlas/reachstat/pkg/isochrone"
)

// --- Isochrone Mock ---

type mockIsochroneClient struct {
	mock.Mock
}

func (m *mockIsochroneClient) Fetch(ctx context.Context, loc model.Location, rangeSeconds int) (*isochrone.Isochrone, error) {
	args := m.Called(ctx, loc, rangeSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*isochrone.Isochrone), args.Error(1)
}

func (m *mockIsochroneClient) FetchBatch(ctx context.Context, locs []model.Location, rangeSeconds int) (*isochrone.BatchResult, error) {
	args := m.Called(ctx, locs, rangeSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*isochrone.BatchResult), args.Error(1)
}

// --- Census Mock ---

type mockCensusClient struct {
	mock.Mock
}

func (m *mockCensusClient) BlockGroupPopulation(ctx context.Context, stateFIPS string) ([]coverage.PopulationRecord, error) {
	args := m.Called(ctx, stateFIPS)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]coverage.PopulationRecord), args.Error(1)
}

func (m *mockCensusClient) ForStates(ctx context.Context, stateFIPS []string) ([]coverage.PopulationRecord, error) {
	args := m.Called(ctx, stateFIPS)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]coverage.PopulationRecord), args.Error(1)
}

// --- Geocoder Mock ---

type mockGeocodeClient struct {
	mock.Mock
}

func (m *mockGeocodeClient) Geocode(ctx context.Context, addr geocode.AddressInput) (*geocode.Result, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.Result), args.Error(1)
}

func (m *mockGeocodeClient) BatchGeocode(ctx context.Context, addrs []geocode.AddressInput) ([]geocode.Result, error) {
	args := m.Called(ctx, addrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]geocode.Result), args.Error(1)
}

func (m *mockGeocodeClient) ReverseGeocode(ctx context.Context, lon, lat float64) (*geocode.ReverseResult, error) {
	args := m.Called(ctx, lon, lat)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.ReverseResult), args.Error(1)
}

// --- Unit Source Mock ---

type mockUnitSource struct {
	mock.Mock
}

func (m *mockUnitSource) Units(ctx context.Context, states []string) ([]coverage.ArealUnit, *proj.SR, error) {
	args := m.Called(ctx, states)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	var sr *proj.SR
	if args.Get(1) != nil {
		sr = args.Get(1).(*proj.SR)
	}
	return args.Get(0).([]coverage.ArealUnit), sr, args.Error(2)
}

// --- In-memory Store ---

// memStore is a minimal in-memory store.Store for pipeline tests: enough
// state to observe run status transitions, phase records, checkpoints, and
// dead letter traffic.
type memStore struct {
	mu          sync.Mutex
	runs        map[string]*model.Run
	phases      []model.RunPhase
	results     map[string]*model.PhaseResult
	checkpoints map[string]*model.Checkpoint
	dlq         map[string]resilience.DLQEntry
	nextID      int
}

func newMemStore() *memStore {
	return &memStore{
		runs:        make(map[string]*model.Run),
		results:     make(map[string]*model.PhaseResult),
		checkpoints: make(map[string]*model.Checkpoint),
		dlq:         make(map[string]resilience.DLQEntry),
	}
}

func (s *memStore) CreateRun(_ context.Context, params model.AnalysisParams) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	run := &model.Run{
		ID:        "run-" + strconv.Itoa(s.nextID),
		Params:    params,
		Status:    model.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *memStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		run.Status = status
	}
	return nil
}

func (s *memStore) UpdateRunResult(_ context.Context, runID string, result *model.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		run.Result = result
	}
	return nil
}

func (s *memStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (s *memStore) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Run
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (s *memStore) CreatePhase(_ context.Context, runID, name string) (*model.RunPhase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	phase := model.RunPhase{
		ID:        name + "-phase",
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	s.phases = append(s.phases, phase)
	return &phase, nil
}

func (s *memStore) CompletePhase(_ context.Context, phaseID string, result *model.PhaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[phaseID] = result
	return nil
}

func (s *memStore) SaveCheckpoint(_ context.Context, runID, phase string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[runID] = &model.Checkpoint{
		RunID:     runID,
		Phase:     phase,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *memStore) LoadCheckpoint(_ context.Context, runID string) (*model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[runID]
	if !ok {
		return nil, nil
	}
	return cp, nil
}

func (s *memStore) DeleteCheckpoint(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runID)
	return nil
}

func (s *memStore) GetIsochrone(context.Context, string, string, int) ([]byte, bool, error) {
	return nil, false, nil
}

func (s *memStore) PutIsochrone(context.Context, string, string, int, []byte) error { return nil }

func (s *memStore) DeleteExpiredIsochrones(context.Context) (int, error) { return 0, nil }

func (s *memStore) ClearNegativeGeocodes(context.Context) (int, error) { return 0, nil }

func (s *memStore) EnqueueDLQ(_ context.Context, entry resilience.DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dlq[entry.ID] = entry
	return nil
}

func (s *memStore) DequeueDLQ(_ context.Context, _ resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []resilience.DLQEntry
	for _, entry := range s.dlq {
		out = append(out, entry)
	}
	return out, nil
}

func (s *memStore) IncrementDLQRetry(_ context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.dlq[id]
	if !ok {
		return eris.Errorf("dlq entry not found: %s", id)
	}
	entry.RetryCount++
	entry.NextRetryAt = nextRetryAt
	entry.Error = lastErr
	s.dlq[id] = entry
	return nil
}

func (s *memStore) RemoveDLQ(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dlq, id)
	return nil
}

func (s *memStore) CountDLQ(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dlq), nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Ping(context.Context) error    { return nil }
func (s *memStore) Close() error                  { return nil }

// phaseResult returns the recorded outcome for a phase name, or nil.
func (s *memStore) phaseResult(name string) *model.PhaseResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[name+"-phase"]
}

// --- Geospatial Fake ---

// fakeGeo overrides only the geospatial.Store methods the pipeline touches;
// anything else panics via the nil embedded interface.
type fakeGeo struct {
	geospatial.Store

	facilities []geospatial.Facility
	isochrones []*geospatial.StoredIsochrone
	overlaps   map[string][]geospatial.UnitOverlap
	analysis   []*geospatial.AnalysisResult
	refreshed  int

	units      []coverage.ArealUnit
	loadErr    error
	saveIsoErr error
}

func newFakeGeo() *fakeGeo {
	return &fakeGeo{overlaps: make(map[string][]geospatial.UnitOverlap)}
}

func (g *fakeGeo) BulkUpsertFacilities(_ context.Context, facilities []geospatial.Facility) (int64, error) {
	g.facilities = append(g.facilities, facilities...)
	return int64(len(facilities)), nil
}

func (g *fakeGeo) SaveIsochrone(_ context.Context, iso *geospatial.StoredIsochrone) error {
	if g.saveIsoErr != nil {
		return g.saveIsoErr
	}
	g.isochrones = append(g.isochrones, iso)
	return nil
}

func (g *fakeGeo) LoadUnits(_ context.Context, _ []string) ([]coverage.ArealUnit, error) {
	if g.loadErr != nil {
		return nil, g.loadErr
	}
	return g.units, nil
}

func (g *fakeGeo) ReplaceRunOverlaps(_ context.Context, runID string, overlaps []geospatial.UnitOverlap) (int64, error) {
	g.overlaps[runID] = overlaps
	return int64(len(overlaps)), nil
}

func (g *fakeGeo) SaveAnalysisResult(_ context.Context, res *geospatial.AnalysisResult) error {
	g.analysis = append(g.analysis, res)
	return nil
}

func (g *fakeGeo) RefreshStateCoverage(context.Context) error {
	g.refreshed++
	return nil
}

// Interface guards.
var (
	_ isochrone.Client = (*mockIsochroneClient)(nil)
	_ census.Client    = (*mockCensusClient)(nil)
	_ geocode.Client   = (*mockGeocodeClient)(nil)
	_ UnitSource       = (*mockUnitSource)(nil)
	_ store.Store      = (*memStore)(nil)
)
