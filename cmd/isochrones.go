package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/pipeline"
	"github.com/careatlas/reachstat/internal/resilience"
)

var (
	dlqErrorType  string
	dlqIncludeAll bool
	dlqLimit      int

	fetchProfile string
	fetchRange   int
	fetchState   string
)

var isochronesCmd = &cobra.Command{
	Use:   "isochrones",
	Short: "Manage the isochrone cache and retry queue",
}

var isochronesFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch isochrones for stored facilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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
			return fmt.Errorf("isochrones fetch requires database.url (REACHSTAT_DATABASE_URL)")
		}
		defer pool.Close()

		facilities, err := geo.ListFacilities(ctx, fetchState)
		if err != nil {
			return err
		}
		if len(facilities) == 0 {
			return fmt.Errorf("no stored facilities; run locations load first")
		}
		locs := make([]model.Location, 0, len(facilities))
		for i := range facilities {
			locs = append(locs, facilities[i].Location())
		}

		profile := fetchProfile
		if profile == "" {
			profile = cfg.Isochrone.Profile
		}
		rangeMinutes := fetchRange
		if rangeMinutes == 0 {
			rangeMinutes = cfg.Isochrone.RangeMinutes
		}

		batch, err := pipeline.FetchIsochrones(ctx, initIsochroneClient(st), st, geo,
			locs, profile, rangeMinutes, cfg.Isochrone.MaxAttempts)
		if err != nil {
			return err
		}
		fmt.Printf("Fetched %d isochrones (%d failed and queued for retry).\n",
			len(batch.Isochrones), len(batch.Failed))
		return nil
	},
}

var isochronesRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry failed isochrone fetches from the dead letter queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		res, err := pipeline.RetryDLQ(ctx, initIsochroneClient(st), st, geo, resilience.DLQFilter{
			ErrorType:  dlqErrorType,
			IncludeAll: dlqIncludeAll,
			Limit:      dlqLimit,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Attempted: %d\n", res.Attempted)
		fmt.Printf("Succeeded: %d\n", res.Succeeded)
		fmt.Printf("Requeued:  %d\n", res.Requeued)
		fmt.Printf("Exhausted: %d\n", res.Exhausted)
		return nil
	},
}

var isochronesCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Evict expired entries from the isochrone cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.DeleteExpiredIsochrones(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Evicted %d expired isochrones.\n", n)
		return nil
	},
}

var isochronesDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Show dead letter queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.CountDLQ(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Dead letter queue: %d entries\n", n)
		return nil
	},
}

func init() {
	isochronesFetchCmd.Flags().StringVar(&fetchProfile, "profile", "", "Routing profile (default from config)")
	isochronesFetchCmd.Flags().IntVar(&fetchRange, "range", 0, "Drive-time range in minutes (default from config)")
	isochronesFetchCmd.Flags().StringVar(&fetchState, "state", "", "Only facilities in this state FIPS code")
	isochronesRetryCmd.Flags().StringVar(&dlqErrorType, "error-type", "", "Only retry entries of this type (transient, permanent)")
	isochronesRetryCmd.Flags().BoolVar(&dlqIncludeAll, "all", false, "Retry entries not yet due for backoff")
	isochronesRetryCmd.Flags().IntVar(&dlqLimit, "limit", 0, "Maximum entries to retry")
	isochronesCmd.AddCommand(isochronesFetchCmd, isochronesRetryCmd, isochronesCleanCmd, isochronesDLQCmd)
	rootCmd.AddCommand(isochronesCmd)
}
