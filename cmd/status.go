package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/careatlas/reachstat/internal/monitoring"
	"github.com/careatlas/reachstat/internal/tiger"
)

var (
	statusLookback int
	statusJSON     bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline health metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var boundaries monitoring.BoundaryStatusQuerier
		if cfg.Database.URL != "" {
			pool, poolErr := geoPool(ctx)
			if poolErr != nil {
				return poolErr
			}
			defer pool.Close()
			boundaries = monitoring.BoundaryStatusFunc(func(ctx context.Context) ([]tiger.StatusRow, error) {
				return tiger.LoadStatus(ctx, pool)
			})
		}

		snap, err := monitoring.NewCollector(st, boundaries).Collect(ctx, statusLookback)
		if err != nil {
			return err
		}
		if statusJSON {
			return json.NewEncoder(os.Stdout).Encode(snap)
		}
		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func formatSnapshot(out io.Writer, s *monitoring.MetricsSnapshot) {
	fmt.Fprintf(out, "Runs (last %dh):   %d\n", s.LookbackHours, s.RunsTotal)
	fmt.Fprintf(out, "  Complete:        %d\n", s.RunsComplete)
	fmt.Fprintf(out, "  Failed:          %d\n", s.RunsFailed)
	fmt.Fprintf(out, "  Running:         %d\n", s.RunsRunning)
	fmt.Fprintf(out, "  Queued:          %d\n", s.RunsQueued)
	fmt.Fprintf(out, "  Fail rate:       %.1f%%\n", s.RunFailRate*100)
	if s.RunsComplete > 0 {
		fmt.Fprintf(out, "Avg fraction:      %.2f%%\n", s.AvgFractionWithin*100)
		fmt.Fprintf(out, "Avg run time:      %.1fs\n", s.AvgRunSeconds)
	}
	fmt.Fprintf(out, "DLQ depth:         %d\n", s.DLQDepth)
	if s.BoundaryTables > 0 {
		fmt.Fprintf(out, "Boundary tables:   %d\n", s.BoundaryTables)
		fmt.Fprintf(out, "Oldest boundary:   %s\n", s.OldestBoundaryAt.Local().Format("2006-01-02"))
	}
}

func init() {
	statusCmd.Flags().IntVar(&statusLookback, "lookback", 24, "Lookback window in hours")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}
