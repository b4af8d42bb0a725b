package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/careatlas/reachstat/internal/pipeline"
)

var (
	exportRunID  string
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export per-unit overlap results for a run",
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
			return fmt.Errorf("export requires database.url (REACHSTAT_DATABASE_URL)")
		}
		defer pool.Close()

		run, err := st.GetRun(ctx, exportRunID)
		if err != nil {
			return err
		}
		overlaps, err := geo.ListRunOverlaps(ctx, exportRunID)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			dir := cfg.Export.Dir
			if dir == "" {
				dir = "."
			}
			out = filepath.Join(dir, fmt.Sprintf("%s.%s", run.ID, exportFormat))
		}
		if dir := filepath.Dir(out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}

		switch exportFormat {
		case "csv":
			f, createErr := os.Create(out)
			if createErr != nil {
				return createErr
			}
			defer f.Close()
			if err := pipeline.WriteOverlapsCSV(f, overlaps); err != nil {
				return err
			}
		case "xlsx":
			if err := pipeline.WriteRunXLSX(out, run, overlaps); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown export format: %s", exportFormat)
		}

		fmt.Printf("Wrote %d overlaps to %s\n", len(overlaps), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "run", "", "Run ID to export")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv or xlsx")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output path (default: <export.dir>/<run-id>.<format>)")
	exportCmd.MarkFlagRequired("run")
	rootCmd.AddCommand(exportCmd)
}
