// Package store persists coverage runs, their phase history, resumable
// checkpoints, the isochrone response cache, and the dead letter queue
// of failed fetches. Two implementations share one interface: Postgres
// for shared deployments and SQLite for self-contained laptop runs.
package store

import (
	"context"
	"time"

	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/resilience"
	"github.com/careatlas/reachstat/pkg/isochrone"
)

// defaultIsochroneTTL keeps cached drive-time polygons for a month.
// Road networks change slowly; config can shorten this.
const defaultIsochroneTTL = 30 * 24 * time.Hour

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Label        string          `json:"label,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the coverage pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, params model.AnalysisParams) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Checkpoints
	SaveCheckpoint(ctx context.Context, runID string, phase string, data []byte) error
	LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, runID string) error

	// Isochrone cache
	GetIsochrone(ctx context.Context, locationID, profile string, rangeSeconds int) ([]byte, bool, error)
	PutIsochrone(ctx context.Context, locationID, profile string, rangeSeconds int, geojson []byte) error
	DeleteExpiredIsochrones(ctx context.Context) (int, error)

	// ClearNegativeGeocodes drops unmatched entries from the geocode
	// cache so corrected source addresses get another attempt.
	ClearNegativeGeocodes(ctx context.Context) (int, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// The store doubles as the isochrone client's response cache.
var _ isochrone.Cache = (Store)(nil)
