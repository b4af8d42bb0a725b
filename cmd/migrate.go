package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/careatlas/reachstat/internal/geospatial"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("Run store schema up to date.")

		if cfg.Database.URL != "" {
			pool, poolErr := geoPool(ctx)
			if poolErr != nil {
				return poolErr
			}
			defer pool.Close()
			if err := geospatial.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Println("Geospatial schema up to date.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
