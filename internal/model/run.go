// Package model defines the shared types passed between the pipeline,
// stores, and commands.
package model

import "time"

// RunStatus tracks a coverage analysis run through its lifecycle.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// PhaseStatus tracks a single pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// AnalysisParams describes one coverage analysis request.
type AnalysisParams struct {
	Label        string   `json:"label,omitempty"`
	RosterPath   string   `json:"roster_path"`
	States       []string `json:"states,omitempty"` // 2-letter abbreviations; empty = infer from facilities
	RangeMinutes int      `json:"range_minutes"`
	Profile      string   `json:"profile,omitempty"`
	ACSYear      int      `json:"acs_year,omitempty"`
	TigerYear    int      `json:"tiger_year,omitempty"`
}

// Run is one end-to-end coverage analysis.
type Run struct {
	ID        string         `json:"id"`
	Params    AnalysisParams `json:"params"`
	Status    RunStatus      `json:"status"`
	Result    *RunResult     `json:"result,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool {
	return r.Status == RunStatusComplete || r.Status == RunStatusFailed
}

// RunResult is the summary persisted when a run completes.
type RunResult struct {
	PopulationWithin  float64 `json:"population_within"`
	PopulationTotal   float64 `json:"population_total"`
	PopulationOutside float64 `json:"population_outside"`
	FractionWithin    float64 `json:"fraction_within"`

	UnitCount      int `json:"unit_count"`
	FacilityCount  int `json:"facility_count"`
	IsochroneCount int `json:"isochrone_count"`

	ExcludedInvalid    int `json:"excluded_invalid,omitempty"`
	ExcludedDegenerate int `json:"excluded_degenerate,omitempty"`
	ExcludedMissingPop int `json:"excluded_missing_pop,omitempty"`
	FailedFetches      int `json:"failed_fetches,omitempty"`

	RangeMinutes int    `json:"range_minutes"`
	Projection   string `json:"projection"`

	PhaseSeconds map[string]float64 `json:"phase_seconds,omitempty"`
}

// RunPhase records one pipeline phase within a run.
type RunPhase struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	Name      string      `json:"name"`
	Status    PhaseStatus `json:"status"`
	StartedAt time.Time   `json:"started_at"`
}

// PhaseResult is the outcome recorded when a phase finishes.
type PhaseResult struct {
	Status     PhaseStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Items      int         `json:"items,omitempty"`
}

// Checkpoint lets an interrupted run resume after its last completed phase.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}
