package coverage

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Sentinel errors for the failure modes a batch can hit. Geometry-level
// problems are collected per unit and the batch continues; aggregation
// problems abort the run because no partial ratio is meaningful.
var (
	// ErrInvalidGeometry marks a malformed or empty input geometry.
	ErrInvalidGeometry = eris.New("invalid or empty geometry")

	// ErrDegenerateUnit marks a unit whose area is zero (or below the
	// configured epsilon), which would otherwise divide by zero.
	ErrDegenerateUnit = eris.New("degenerate zero-area unit")

	// ErrMissingPopulation marks a unit with an overlap fraction but no
	// population record to join against.
	ErrMissingPopulation = eris.New("missing population record")

	// ErrEmptyPopulation marks a join set whose total population is
	// zero, leaving the coverage fraction undefined.
	ErrEmptyPopulation = eris.New("zero total population")
)

// UnitError ties a failure to the areal unit that caused it.
type UnitError struct {
	UnitID string
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %s: %v", e.UnitID, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// Report collects the units excluded during a batch pass. The batch
// continues past them; callers inspect the report afterwards to decide
// whether the exclusions are acceptable.
type Report struct {
	Excluded []*UnitError
}

func (r *Report) add(unitID string, err error) {
	r.Excluded = append(r.Excluded, &UnitError{UnitID: unitID, Err: err})
}

// Empty reports whether anything was excluded.
func (r *Report) Empty() bool {
	return len(r.Excluded) == 0
}

// Count returns how many exclusions match the given sentinel.
func (r *Report) Count(sentinel error) int {
	n := 0
	for _, ue := range r.Excluded {
		if eris.Is(ue, sentinel) {
			n++
		}
	}
	return n
}

// IDs returns the identifiers of all excluded units, in input order.
func (r *Report) IDs() []string {
	out := make([]string, len(r.Excluded))
	for i, ue := range r.Excluded {
		out[i] = ue.UnitID
	}
	return out
}

// Merge appends another report's exclusions onto this one.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Excluded = append(r.Excluded, other.Excluded...)
}
