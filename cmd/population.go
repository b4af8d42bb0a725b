package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	populationStates string
	populationOut    string
)

var populationCmd = &cobra.Command{
	Use:   "population",
	Short: "Work with ACS population data",
}

var populationFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch ACS block group populations for a set of states",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fips, err := statesToFIPS(splitAndTrim(populationStates))
		if err != nil {
			return err
		}
		if len(fips) == 0 {
			return fmt.Errorf("--states is required")
		}

		records, err := initCensusClient().ForStates(ctx, fips)
		if err != nil {
			return err
		}

		out := os.Stdout
		if populationOut != "" {
			f, createErr := os.Create(populationOut)
			if createErr != nil {
				return createErr
			}
			defer f.Close()
			out = f
		}

		w := csv.NewWriter(out)
		if err := w.Write([]string{"geoid", "population"}); err != nil {
			return err
		}
		var total float64
		for _, rec := range records {
			total += rec.Population
			if err := w.Write([]string{rec.UnitID, strconv.FormatFloat(rec.Population, 'f', 0, 64)}); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		if populationOut != "" {
			fmt.Printf("Wrote %d block groups (total population %.0f) to %s\n",
				len(records), total, populationOut)
		}
		return nil
	},
}

func init() {
	populationFetchCmd.Flags().StringVar(&populationStates, "states", "", "Comma-separated state abbreviations")
	populationFetchCmd.Flags().StringVar(&populationOut, "out", "", "Write CSV to this path instead of stdout")
	populationFetchCmd.MarkFlagRequired("states")
	populationCmd.AddCommand(populationFetchCmd)
	rootCmd.AddCommand(populationCmd)
}
