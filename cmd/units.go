package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/careatlas/reachstat/internal/tiger"
)

var (
	unitsYear        int
	unitsStates      string
	unitsProducts    string
	unitsTransport   string
	unitsConcurrency int
	unitsIncremental bool
	unitsDryRun      bool
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Manage census boundary data",
}

var unitsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Download and load TIGER/Line boundaries into PostGIS",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("units"); err != nil {
			return err
		}

		pool, err := geoPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		year := unitsYear
		if year == 0 {
			year = cfg.Tiger.Year
		}
		transport := unitsTransport
		if transport == "" {
			transport = cfg.Tiger.Transport
		}
		concurrency := unitsConcurrency
		if concurrency == 0 {
			concurrency = cfg.Tiger.Concurrency
		}

		return tiger.Load(ctx, pool, tiger.LoadOptions{
			Year:        year,
			States:      toUpper(splitAndTrim(unitsStates)),
			Products:    splitAndTrim(unitsProducts),
			Transport:   transport,
			CacheDir:    cfg.Tiger.CacheDir,
			Concurrency: concurrency,
			Incremental: unitsIncremental,
			DryRun:      unitsDryRun,
		})
	},
}

var unitsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which boundary tables are loaded",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := geoPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		rows, err := tiger.LoadStatus(ctx, pool)
		if err != nil {
			return err
		}
		formatBoundaryStatus(os.Stdout, rows)
		return nil
	},
}

func formatBoundaryStatus(out io.Writer, rows []tiger.StatusRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No boundary data loaded.")
		return
	}
	fmt.Fprintf(out, "%-6s %-6s %-22s %-6s %10s  %-16s %8s\n",
		"FIPS", "STATE", "TABLE", "YEAR", "ROWS", "LOADED", "TOOK")
	for _, r := range rows {
		fmt.Fprintf(out, "%-6s %-6s %-22s %-6d %10d  %-16s %7.1fs\n",
			r.StateFIPS, r.StateAbbr, r.TableName, r.Year, r.RowCount,
			r.LoadedAt.Local().Format("2006-01-02 15:04"),
			float64(r.DurationMs)/1000)
	}
}

func init() {
	unitsLoadCmd.Flags().IntVar(&unitsYear, "year", 0, "TIGER/Line year (default from config)")
	unitsLoadCmd.Flags().StringVar(&unitsStates, "states", "", "Comma-separated state abbreviations (default: all)")
	unitsLoadCmd.Flags().StringVar(&unitsProducts, "products", "", "Comma-separated products (default: all)")
	unitsLoadCmd.Flags().StringVar(&unitsTransport, "transport", "", "Download transport: https or ftp")
	unitsLoadCmd.Flags().IntVar(&unitsConcurrency, "concurrency", 0, "Parallel state loads")
	unitsLoadCmd.Flags().BoolVar(&unitsIncremental, "incremental", false, "Skip state/product combos already loaded")
	unitsLoadCmd.Flags().BoolVar(&unitsDryRun, "dry-run", false, "Download and parse without loading")
	unitsCmd.AddCommand(unitsLoadCmd, unitsStatusCmd)
	rootCmd.AddCommand(unitsCmd)
}
