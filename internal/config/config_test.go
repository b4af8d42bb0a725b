package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Serve.Port)
	assert.Equal(t, "https://api.census.gov/data", cfg.Census.BaseURL)
	assert.Equal(t, "acs/acs5", cfg.Census.Dataset)
	assert.Equal(t, 2023, cfg.Census.Year)
	assert.Equal(t, "driving-car", cfg.Isochrone.Profile)
	assert.Equal(t, 45, cfg.Isochrone.RangeMinutes)
	assert.Equal(t, 3, cfg.Isochrone.MaxAttempts)
	assert.Equal(t, "EPSG:5070", cfg.Projection.Name)
	assert.Contains(t, cfg.Projection.Proj4, "+proj=aea")
	assert.Equal(t, 2023, cfg.Tiger.Year)
	assert.Equal(t, "https", cfg.Tiger.Transport)
	assert.Equal(t, 8, cfg.Analysis.Concurrency)
	assert.InDelta(t, 1e-6, cfg.Analysis.AreaEpsilon, 1e-12)
	assert.False(t, cfg.Analysis.TolerateMissing)
	assert.Equal(t, 1024, cfg.Serve.TileCacheSize)
	assert.Equal(t, "png", cfg.Serve.BasemapFormat)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/reachstat
log:
  level: debug
  format: console
serve:
  port: 9090
isochrone:
  range_minutes: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Serve.Port)
	assert.Equal(t, 30, cfg.Isochrone.RangeMinutes)
	// Defaults still apply for unset values
	assert.Equal(t, "driving-car", cfg.Isochrone.Profile)
	assert.Equal(t, 2023, cfg.Tiger.Year)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("REACHSTAT_STORE_DRIVER", "postgres")
	t.Setenv("REACHSTAT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("REACHSTAT_SERVE_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Serve.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "reachstat.db"
	cfg.Isochrone.BaseURL = "https://api.openrouteservice.org"
	cfg.Isochrone.RangeMinutes = 45
	cfg.Analysis.Concurrency = 8
	cfg.Projection.Proj4 = "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +datum=NAD83 +units=m +no_defs"
	cfg.Tiger.Year = 2023
	cfg.Tiger.Transport = "https"
	cfg.Serve.Port = 8080
	cfg.Serve.TileCacheSize = 1024
	cfg.Database.URL = "postgres://localhost/reachstat"
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	cfg.Isochrone.BaseURL = ""
	cfg.Projection.Proj4 = ""

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "isochrone.base_url is required")
	assert.Contains(t, err.Error(), "projection.proj4 is required")
}

func TestValidateRun_RangeBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Isochrone.RangeMinutes = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "range_minutes must be between 1 and 180")

	cfg.Isochrone.RangeMinutes = 181
	err = cfg.Validate("run")
	assert.Error(t, err)

	cfg.Isochrone.RangeMinutes = 180
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Analysis.Concurrency = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "analysis.concurrency must be between 1 and 64")

	cfg.Analysis.Concurrency = 65
	err = cfg.Validate("run")
	assert.Error(t, err)

	cfg.Analysis.Concurrency = 64
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateUnits_NoDB(t *testing.T) {
	cfg := validDefaults()
	cfg.Database.URL = ""

	err := cfg.Validate("units")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")
}

func TestValidateUnits_BadTransport(t *testing.T) {
	cfg := validDefaults()
	cfg.Tiger.Transport = "gopher"

	err := cfg.Validate("units")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tiger.transport must be https or ftp")
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Serve.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Serve.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "serve.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
