package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/careatlas/reachstat/internal/model"
)

const (
	baseRetryDelay = 5 * time.Minute
	maxRetryDelay  = 2 * time.Hour
)

// DLQEntry is a failed isochrone fetch parked for a later retry pass. It
// carries enough to re-issue the exact request: the facility plus the travel
// profile and range that failed.
type DLQEntry struct {
	ID           string         `json:"id"`
	Location     model.Location `json:"location"`
	Profile      string         `json:"profile"`
	RangeSeconds int            `json:"range_seconds"`
	Error        string         `json:"error"`
	ErrorType    string         `json:"error_type"` // "transient" or "permanent"
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	NextRetryAt  time.Time      `json:"next_retry_at"`
	CreatedAt    time.Time      `json:"created_at"`
	LastFailedAt time.Time      `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue. The
// zero value selects entries that are due and still have retry budget;
// IncludeAll lifts both conditions for listing and inspection.
type DLQFilter struct {
	ErrorType  string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	IncludeAll bool   `json:"include_all,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// NewDLQEntry records a failed fetch. The entry becomes eligible for its
// first retry after the base delay.
func NewDLQEntry(loc model.Location, profile string, rangeSeconds int, err error, maxRetries int) DLQEntry {
	now := time.Now().UTC()
	return DLQEntry{
		ID:           uuid.NewString(),
		Location:     loc,
		Profile:      profile,
		RangeSeconds: rangeSeconds,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		MaxRetries:   maxRetries,
		NextRetryAt:  now.Add(baseRetryDelay),
		CreatedAt:    now,
		LastFailedAt: now,
	}
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// Due reports whether the entry's backoff has elapsed.
func (e *DLQEntry) Due(now time.Time) bool {
	return !now.Before(e.NextRetryAt)
}

// RecordFailure bumps the retry count and pushes NextRetryAt out with a
// doubled delay, capped at maxRetryDelay.
func (e *DLQEntry) RecordFailure(err error, now time.Time) {
	e.RetryCount++
	e.Error = err.Error()
	e.ErrorType = ClassifyError(err)
	e.LastFailedAt = now

	delay := baseRetryDelay
	for i := 0; i < e.RetryCount && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	e.NextRetryAt = now.Add(delay)
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
