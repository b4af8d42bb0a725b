package pipeline

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/careatlas/reachstat/internal/geospatial"
	"github.com/careatlas/reachstat/internal/model"
)

// RenderSummary formats a finished run as a human-readable report for the
// terminal. Population counts get thousands separators; the headline number
// is the share of the population within the drive-time boundary.
func RenderSummary(run *model.Run) (string, error) {
	if run == nil || run.Result == nil {
		return "", eris.New("pipeline: run has no result to summarize")
	}
	r := run.Result
	p := message.NewPrinter(language.English)

	var b strings.Builder
	label := run.Params.Label
	if label == "" {
		label = run.ID
	}
	p.Fprintf(&b, "Coverage analysis: %s\n", label)
	p.Fprintf(&b, "  Facilities:          %d (%d isochrones, %d fetch failures)\n",
		r.FacilityCount, r.IsochroneCount, r.FailedFetches)
	p.Fprintf(&b, "  Drive time:          %d minutes\n", r.RangeMinutes)
	p.Fprintf(&b, "  Areal units:         %d", r.UnitCount)
	if excluded := r.ExcludedInvalid + r.ExcludedDegenerate + r.ExcludedMissingPop; excluded > 0 {
		p.Fprintf(&b, " (%d excluded: %d invalid, %d degenerate, %d missing population)",
			excluded, r.ExcludedInvalid, r.ExcludedDegenerate, r.ExcludedMissingPop)
	}
	b.WriteString("\n")
	p.Fprintf(&b, "  Population total:    %.0f\n", r.PopulationTotal)
	p.Fprintf(&b, "  Population within:   %.0f\n", r.PopulationWithin)
	p.Fprintf(&b, "  Population outside:  %.0f\n", r.PopulationOutside)
	p.Fprintf(&b, "  Fraction within:     %.2f%%\n", r.FractionWithin*100)

	if len(r.PhaseSeconds) > 0 {
		names := make([]string, 0, len(r.PhaseSeconds))
		for name := range r.PhaseSeconds {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("  Phase timings:\n")
		for _, name := range names {
			p.Fprintf(&b, "    %-12s %.1fs\n", name, r.PhaseSeconds[name])
		}
	}

	return b.String(), nil
}

var overlapHeader = []string{
	"unit_id", "total_area_m2", "intersection_area_m2",
	"fraction", "population", "population_within",
}

func overlapRow(o geospatial.UnitOverlap) []string {
	return []string{
		o.UnitID,
		strconv.FormatFloat(o.TotalArea, 'f', 2, 64),
		strconv.FormatFloat(o.IntersectionArea, 'f', 2, 64),
		strconv.FormatFloat(o.Fraction, 'f', 6, 64),
		strconv.FormatFloat(o.Population, 'f', 2, 64),
		strconv.FormatFloat(o.PopulationWithin, 'f', 2, 64),
	}
}

// WriteOverlapsCSV writes per-unit overlap rows as CSV with a header row.
func WriteOverlapsCSV(w io.Writer, overlaps []geospatial.UnitOverlap) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(overlapHeader); err != nil {
		return eris.Wrap(err, "pipeline: write csv header")
	}
	for _, o := range overlaps {
		if err := cw.Write(overlapRow(o)); err != nil {
			return eris.Wrapf(err, "pipeline: write csv row for unit %s", o.UnitID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "pipeline: flush csv")
	}
	return nil
}

// WriteRunXLSX writes a two-sheet workbook: a Summary sheet with the run's
// headline numbers and an Overlaps sheet with the per-unit detail.
func WriteRunXLSX(path string, run *model.Run, overlaps []geospatial.UnitOverlap) error {
	if run == nil || run.Result == nil {
		return eris.New("pipeline: run has no result to export")
	}
	r := run.Result

	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "pipeline: add summary sheet")
	}
	addKV := func(key string, value interface{}) {
		row := summary.AddRow()
		row.AddCell().SetString(key)
		switch v := value.(type) {
		case string:
			row.AddCell().SetString(v)
		case int:
			row.AddCell().SetInt(v)
		case float64:
			row.AddCell().SetFloat(v)
		}
	}
	addKV("Run ID", run.ID)
	addKV("Label", run.Params.Label)
	addKV("States", strings.Join(run.Params.States, ", "))
	addKV("Drive time (minutes)", r.RangeMinutes)
	addKV("Profile", run.Params.Profile)
	addKV("Facilities", r.FacilityCount)
	addKV("Isochrones", r.IsochroneCount)
	addKV("Areal units", r.UnitCount)
	addKV("Population total", r.PopulationTotal)
	addKV("Population within", r.PopulationWithin)
	addKV("Population outside", r.PopulationOutside)
	addKV("Fraction within", r.FractionWithin)
	addKV("Projection", r.Projection)

	detail, err := f.AddSheet("Overlaps")
	if err != nil {
		return eris.Wrap(err, "pipeline: add overlaps sheet")
	}
	header := detail.AddRow()
	for _, h := range overlapHeader {
		header.AddCell().SetString(h)
	}
	for _, o := range overlaps {
		row := detail.AddRow()
		row.AddCell().SetString(o.UnitID)
		row.AddCell().SetFloat(o.TotalArea)
		row.AddCell().SetFloat(o.IntersectionArea)
		row.AddCell().SetFloat(o.Fraction)
		row.AddCell().SetFloat(o.Population)
		row.AddCell().SetFloat(o.PopulationWithin)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "pipeline: save workbook %s", path)
	}
	return nil
}
