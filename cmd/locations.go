package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/careatlas/reachstat/internal/geospatial"
	"github.com/careatlas/reachstat/internal/pipeline"
)

var (
	locationsRoster string
	locationsState  string
)

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "Manage the facility roster",
}

var locationsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Read a roster, geocode missing coordinates, and store facilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		geo, pool, err := initGeoStore(ctx)
		if err != nil {
			return err
		}
		if geo == nil {
			return fmt.Errorf("locations load requires database.url (REACHSTAT_DATABASE_URL)")
		}
		defer pool.Close()

		locs, err := pipeline.ReadRoster(ctx, locationsRoster)
		if err != nil {
			return err
		}
		locs, geocoded, err := pipeline.GeocodeMissing(ctx, locs, initGeocodeClient(pool))
		if err != nil {
			return err
		}

		facilities := make([]geospatial.Facility, 0, len(locs))
		for _, loc := range locs {
			facilities = append(facilities, *geospatial.FacilityFromLocation(loc))
		}
		n, err := geo.BulkUpsertFacilities(ctx, facilities)
		if err != nil {
			return err
		}
		fmt.Printf("Stored %d facilities (%d geocoded).\n", n, geocoded)
		return nil
	},
}

var locationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored facilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		geo, pool, err := initGeoStore(ctx)
		if err != nil {
			return err
		}
		if geo == nil {
			return fmt.Errorf("locations list requires database.url (REACHSTAT_DATABASE_URL)")
		}
		defer pool.Close()

		facilities, err := geo.ListFacilities(ctx, locationsState)
		if err != nil {
			return err
		}
		if len(facilities) == 0 {
			fmt.Println("No facilities stored.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATE\tLON\tLAT")
		for _, f := range facilities {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.5f\t%.5f\n", f.ID, f.Name, f.State, f.Longitude, f.Latitude)
		}
		return w.Flush()
	},
}

func init() {
	locationsLoadCmd.Flags().StringVar(&locationsRoster, "roster", "", "Facility roster file (csv, xlsx, json, kml)")
	locationsLoadCmd.MarkFlagRequired("roster")
	locationsListCmd.Flags().StringVar(&locationsState, "state", "", "Filter by state FIPS code")
	locationsCmd.AddCommand(locationsLoadCmd, locationsListCmd)
	rootCmd.AddCommand(locationsCmd)
}
