package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/store"
	"github.com/careatlas/reachstat/internal/tiger"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsQueued   int     `json:"runs_queued"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Averages over completed runs in the window.
	AvgFractionWithin float64 `json:"avg_fraction_within"`
	AvgRunSeconds     float64 `json:"avg_run_seconds"`

	// Dead letter queue depth (all-time, not windowed).
	DLQDepth int `json:"dlq_depth"`

	// Boundary data freshness.
	BoundaryTables   int       `json:"boundary_tables"`
	OldestBoundaryAt time.Time `json:"oldest_boundary_at,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// BoundaryStatusQuerier abstracts the TIGER load-status query needed by
// the collector; nil means no boundary database is configured.
type BoundaryStatusQuerier interface {
	Status(ctx context.Context) ([]tiger.StatusRow, error)
}

// BoundaryStatusFunc adapts a function to the BoundaryStatusQuerier interface.
type BoundaryStatusFunc func(ctx context.Context) ([]tiger.StatusRow, error)

// Status implements BoundaryStatusQuerier.
func (f BoundaryStatusFunc) Status(ctx context.Context) ([]tiger.StatusRow, error) {
	return f(ctx)
}

// Collector gathers metrics from the run store and the boundary loader.
type Collector struct {
	store      store.Store
	boundaries BoundaryStatusQuerier
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, boundaries BoundaryStatusQuerier) *Collector {
	return &Collector{store: st, boundaries: boundaries}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalFraction float64
	var totalSeconds float64
	var completedWithResult int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Status == model.RunStatusComplete && r.Result != nil {
			totalFraction += r.Result.FractionWithin
			for _, secs := range r.Result.PhaseSeconds {
				totalSeconds += secs
			}
			completedWithResult++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if completedWithResult > 0 {
		snap.AvgFractionWithin = totalFraction / float64(completedWithResult)
		snap.AvgRunSeconds = totalSeconds / float64(completedWithResult)
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	if c.boundaries != nil {
		status, err := c.boundaries.Status(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: boundary status")
		}
		snap.BoundaryTables = len(status)
		for _, row := range status {
			if snap.OldestBoundaryAt.IsZero() || row.LoadedAt.Before(snap.OldestBoundaryAt) {
				snap.OldestBoundaryAt = row.LoadedAt
			}
		}
	}

	return snap, nil
}
