package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/pipeline"
	"github.com/careatlas/reachstat/internal/store"
)

var (
	runsStatus string
	runsLabel  string
	runsSince  string
	runsLimit  int
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past analysis runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.RunFilter{
			Status: model.RunStatus(runsStatus),
			Label:  runsLabel,
			Limit:  runsLimit,
		}
		if runsSince != "" {
			since, parseErr := time.Parse("2006-01-02", runsSince)
			if parseErr != nil {
				return fmt.Errorf("invalid --since date %q (want YYYY-MM-DD)", runsSince)
			}
			filter.CreatedAfter = since
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return err
		}
		if runsJSON {
			return json.NewEncoder(os.Stdout).Encode(runs)
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		if runsJSON {
			return json.NewEncoder(os.Stdout).Encode(run)
		}
		summary, err := pipeline.RenderSummary(run)
		if err != nil {
			return err
		}
		fmt.Print(summary)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate statistics across runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: runsLimit})
		if err != nil {
			return err
		}
		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func formatRunsList(out io.Writer, runs []model.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tSTATUS\tFACILITIES\tFRACTION\tCREATED")
	for _, r := range runs {
		label := r.Params.Label
		if label == "" {
			label = "-"
		}
		facilities, fraction := "-", "-"
		if r.Result != nil {
			facilities = fmt.Sprintf("%d", r.Result.FacilityCount)
			fraction = fmt.Sprintf("%.2f%%", r.Result.FractionWithin*100)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, label, r.Status, facilities, fraction,
			r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

type runStats struct {
	Total    int
	Complete int
	Failed   int
	Other    int

	AvgFraction   float64
	AvgFacilities float64
}

func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)
	var fracSum, facSum float64
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			if r.Result != nil {
				fracSum += r.Result.FractionWithin
				facSum += float64(r.Result.FacilityCount)
			}
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Other++
		}
	}
	if s.Complete > 0 {
		s.AvgFraction = fracSum / float64(s.Complete)
		s.AvgFacilities = facSum / float64(s.Complete)
	}
	return s
}

func formatRunStats(out io.Writer, s runStats) {
	fmt.Fprintf(out, "Total runs:      %d\n", s.Total)
	fmt.Fprintf(out, "  Complete:      %d\n", s.Complete)
	fmt.Fprintf(out, "  Failed:        %d\n", s.Failed)
	fmt.Fprintf(out, "  In progress:   %d\n", s.Other)
	if s.Complete > 0 {
		fmt.Fprintf(out, "Avg fraction:    %.2f%%\n", s.AvgFraction*100)
		fmt.Fprintf(out, "Avg facilities:  %.1f\n", s.AvgFacilities)
	}
}

func init() {
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status (queued, running, complete, failed)")
	runsListCmd.Flags().StringVar(&runsLabel, "label", "", "Filter by label")
	runsListCmd.Flags().StringVar(&runsSince, "since", "", "Only runs created after this date (YYYY-MM-DD)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
	runsListCmd.Flags().BoolVar(&runsJSON, "json", false, "Output as JSON")
	runsShowCmd.Flags().BoolVar(&runsJSON, "json", false, "Output as JSON")
	runsStatsCmd.Flags().IntVar(&runsLimit, "limit", 200, "Runs to include in stats")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}
