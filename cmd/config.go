package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the merged configuration as YAML: defaults, config file, and
REACHSTAT_* environment overrides. API keys are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		redacted := *cfg
		if redacted.Isochrone.APIKey != "" {
			redacted.Isochrone.APIKey = "<redacted>"
		}
		if redacted.Census.APIKey != "" {
			redacted.Census.APIKey = "<redacted>"
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(&redacted)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
