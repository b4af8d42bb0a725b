package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/pipeline"
)

var computeRunID string

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Recompute overlap results for a run from stored data",
	Long: `Recompute the geometric overlap for an existing run using isochrones
and boundaries already in PostGIS. Useful after reloading boundary data
or changing analysis settings; no upstream APIs are called except the
Census population fetch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("compute"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		geo, pool, err := initGeoStore(ctx)
		if err != nil {
			return err
		}
		if geo == nil {
			return fmt.Errorf("compute requires database.url (REACHSTAT_DATABASE_URL)")
		}
		defer pool.Close()

		run, err := st.GetRun(ctx, computeRunID)
		if err != nil {
			return err
		}

		if len(run.Params.States) == 0 {
			return fmt.Errorf("run %s has no states recorded; recompute needs them for the population fetch", run.ID)
		}
		fips, err := statesToFIPS(run.Params.States)
		if err != nil {
			return err
		}

		stored, err := geo.ListIsochrones(ctx, run.Params.Profile, run.Params.RangeMinutes*60)
		if err != nil {
			return err
		}
		if len(stored) == 0 {
			return fmt.Errorf("no stored isochrones for profile %s at %d minutes",
				run.Params.Profile, run.Params.RangeMinutes)
		}
		regions := make([]coverage.ReachabilityRegion, 0, len(stored))
		for _, iso := range stored {
			regions = append(regions, coverage.ReachabilityRegion{
				LocationID: iso.FacilityID,
				Minutes:    iso.RangeSeconds / 60,
				Geom:       iso.Geom,
			})
		}

		units, err := geo.LoadUnits(ctx, fips)
		if err != nil {
			return err
		}
		pops, err := initCensusClient().ForStates(ctx, fips)
		if err != nil {
			return err
		}

		out, err := pipeline.Compute(ctx, cfg, pipeline.ComputeInput{
			Units:   units,
			Regions: regions,
			Pops:    pops,
		})
		if err != nil {
			return err
		}

		run.Result = resultFromCompute(run, out, len(stored))
		if err := pipeline.PersistResults(ctx, geo, run, out.Overlaps, pops); err != nil {
			return err
		}
		if err := st.UpdateRunResult(ctx, run.ID, run.Result); err != nil {
			return err
		}

		summary, err := pipeline.RenderSummary(run)
		if err != nil {
			return err
		}
		fmt.Print(summary)
		return nil
	},
}

func resultFromCompute(run *model.Run, out *pipeline.ComputeOutput, isochrones int) *model.RunResult {
	res := &model.RunResult{
		PopulationWithin:   out.Aggregate.PopulationWithin,
		PopulationTotal:    out.Aggregate.PopulationTotal,
		PopulationOutside:  out.Aggregate.PopulationOutside,
		FractionWithin:     out.Aggregate.FractionWithin,
		UnitCount:          len(out.Overlaps),
		IsochroneCount:     isochrones,
		ExcludedInvalid:    out.Report.Count(coverage.ErrInvalidGeometry),
		ExcludedDegenerate: out.Report.Count(coverage.ErrDegenerateUnit),
		ExcludedMissingPop: out.Report.Count(coverage.ErrMissingPopulation),
		RangeMinutes:       run.Params.RangeMinutes,
		Projection:         cfg.Projection.Name,
	}
	if run.Result != nil {
		res.FacilityCount = run.Result.FacilityCount
		res.FailedFetches = run.Result.FailedFetches
		res.PhaseSeconds = run.Result.PhaseSeconds
	}
	return res
}

func init() {
	computeCmd.Flags().StringVar(&computeRunID, "run", "", "Run ID to recompute")
	computeCmd.MarkFlagRequired("run")
	rootCmd.AddCommand(computeCmd)
}
