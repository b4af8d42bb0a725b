package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/pipeline"
)

var (
	runRoster     string
	runLabel      string
	runStates     string
	runRange      int
	runProfile    string
	runResumeID   string
	runUnitSource string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a coverage analysis",
	Long: `Run the full coverage pipeline: read a facility roster, geocode missing
coordinates, fetch drive-time isochrones, load block group boundaries and
population, and compute the fraction of the population within reach.

An interrupted run can be picked up with --resume <run-id>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("run"); err != nil {
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
		if pool != nil {
			defer pool.Close()
		}

		var units pipeline.UnitSource
		switch runUnitSource {
		case "store":
			if geo == nil {
				return fmt.Errorf("--units-source store requires database.url")
			}
			units = &pipeline.StoreUnitSource{Geo: geo}
		case "shapefile":
			units = initUnitSource(nil)
		case "":
			units = initUnitSource(geo)
		default:
			return fmt.Errorf("unknown units source: %s", runUnitSource)
		}

		p := pipeline.New(cfg, st, geo,
			initIsochroneClient(st), initCensusClient(), initGeocodeClient(pool), units)

		var run *model.Run
		if runResumeID != "" {
			run, err = p.Resume(ctx, runResumeID)
		} else {
			run, err = p.Run(ctx, model.AnalysisParams{
				Label:        runLabel,
				RosterPath:   runRoster,
				States:       toUpper(splitAndTrim(runStates)),
				RangeMinutes: runRange,
				Profile:      runProfile,
			})
		}
		if run != nil {
			if summary, sumErr := pipeline.RenderSummary(run); sumErr == nil {
				fmt.Fprint(os.Stdout, summary)
			}
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runRoster, "roster", "", "Facility roster file (csv, xlsx, json, kml)")
	runCmd.Flags().StringVar(&runLabel, "label", "", "Label for this run")
	runCmd.Flags().StringVar(&runStates, "states", "", "Comma-separated state abbreviations (default: inferred from facilities)")
	runCmd.Flags().IntVar(&runRange, "range", 0, "Drive-time range in minutes (default from config)")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "Routing profile (default from config)")
	runCmd.Flags().StringVar(&runResumeID, "resume", "", "Resume an interrupted run by ID")
	runCmd.Flags().StringVar(&runUnitSource, "units-source", "", "Boundary source: store or shapefile (default: store when PostGIS is configured)")
	rootCmd.AddCommand(runCmd)
}
