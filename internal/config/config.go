package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Census     CensusConfig     `yaml:"census" mapstructure:"census"`
	Geocoder   GeocoderConfig   `yaml:"geocoder" mapstructure:"geocoder"`
	Isochrone  IsochroneConfig  `yaml:"isochrone" mapstructure:"isochrone"`
	Projection ProjectionConfig `yaml:"projection" mapstructure:"projection"`
	Tiger      TigerConfig      `yaml:"tiger" mapstructure:"tiger"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Serve      ServeConfig      `yaml:"serve" mapstructure:"serve"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path        string `yaml:"path" mapstructure:"path"`     // sqlite file path
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DatabaseConfig configures the PostGIS connection used for geometry storage
// and tile serving.
type DatabaseConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CensusConfig configures the ACS population API client.
type CensusConfig struct {
	APIKey     string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Dataset    string  `yaml:"dataset" mapstructure:"dataset"` // e.g. "acs/acs5"
	Year       int     `yaml:"year" mapstructure:"year"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// GeocoderConfig configures the Census Bureau geocoder used to resolve
// facility addresses that lack coordinates.
type GeocoderConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Benchmark    string  `yaml:"benchmark" mapstructure:"benchmark"`
	Vintage      string  `yaml:"vintage" mapstructure:"vintage"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CacheTTLDays int     `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
}

// IsochroneConfig configures the drive-time isochrone provider.
type IsochroneConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	Profile          string  `yaml:"profile" mapstructure:"profile"`
	RangeMinutes     int     `yaml:"range_minutes" mapstructure:"range_minutes"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	CacheTTLHours    int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ProjectionConfig fixes the working planar CRS for all area and overlap
// computation. The projection is configuration, never inferred from data.
type ProjectionConfig struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Proj4 string `yaml:"proj4" mapstructure:"proj4"`
}

// TigerConfig configures TIGER/Line shapefile acquisition.
type TigerConfig struct {
	Year        int    `yaml:"year" mapstructure:"year"`
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`
	Transport   string `yaml:"transport" mapstructure:"transport"` // "https" or "ftp"
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// AnalysisConfig tunes the apportionment core.
type AnalysisConfig struct {
	AreaEpsilon       float64 `yaml:"area_epsilon" mapstructure:"area_epsilon"` // m²
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	TolerateMissing   bool    `yaml:"tolerate_missing_population" mapstructure:"tolerate_missing_population"`
	RepairRingEpsilon float64 `yaml:"repair_ring_epsilon" mapstructure:"repair_ring_epsilon"` // m²
}

// ServeConfig configures the results/tile server.
type ServeConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	TileCacheSize    int      `yaml:"tile_cache_size" mapstructure:"tile_cache_size"`
	TileCacheTTLMins int      `yaml:"tile_cache_ttl_mins" mapstructure:"tile_cache_ttl_mins"`
	BasemapURL       string   `yaml:"basemap_url" mapstructure:"basemap_url"`
	BasemapFormat    string   `yaml:"basemap_format" mapstructure:"basemap_format"`
	AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ExportConfig configures result exports.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// MonitoringConfig configures run metrics collection and alerting.
type MonitoringConfig struct {
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	MaxDataAgeDays       int     `yaml:"max_data_age_days" mapstructure:"max_data_age_days"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml (when present) and the
// environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path; the file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("REACHSTAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "reachstat.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.dataset", "acs/acs5")
	v.SetDefault("census.year", 2023)
	v.SetDefault("census.rate_per_sec", 2)
	v.SetDefault("geocoder.base_url", "https://geocoding.geo.census.gov/geocoder")
	v.SetDefault("geocoder.benchmark", "Public_AR_Current")
	v.SetDefault("geocoder.vintage", "Current_Current")
	v.SetDefault("geocoder.rate_per_sec", 5)
	v.SetDefault("geocoder.cache_ttl_days", 90)
	v.SetDefault("isochrone.base_url", "https://api.openrouteservice.org")
	v.SetDefault("isochrone.profile", "driving-car")
	v.SetDefault("isochrone.range_minutes", 45)
	v.SetDefault("isochrone.concurrency", 4)
	v.SetDefault("isochrone.rate_per_sec", 2)
	v.SetDefault("isochrone.burst", 2)
	v.SetDefault("isochrone.max_attempts", 3)
	v.SetDefault("isochrone.cache_ttl_hours", 720)
	v.SetDefault("isochrone.breaker_threshold", 5)
	v.SetDefault("isochrone.breaker_reset_secs", 30)
	v.SetDefault("projection.name", "EPSG:5070")
	v.SetDefault("projection.proj4",
		"+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +datum=NAD83 +units=m +no_defs")
	v.SetDefault("tiger.year", 2023)
	v.SetDefault("tiger.cache_dir", "/tmp/reachstat/tiger")
	v.SetDefault("tiger.transport", "https")
	v.SetDefault("tiger.concurrency", 4)
	v.SetDefault("analysis.area_epsilon", 1e-6)
	v.SetDefault("analysis.concurrency", 8)
	v.SetDefault("analysis.repair_ring_epsilon", 1e-6)
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.tile_cache_size", 1024)
	v.SetDefault("serve.tile_cache_ttl_mins", 60)
	v.SetDefault("serve.basemap_url", "https://tile.openstreetmap.org")
	v.SetDefault("serve.basemap_format", "png")
	v.SetDefault("export.dir", "exports")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.max_data_age_days", 400)
	v.SetDefault("monitoring.dlq_depth_threshold", 25)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// The default lookup tolerates a missing file; an explicit path does not.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); path != "" || !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode.
// Modes: "run" (full pipeline), "units" (TIGER load), "serve" (tile server),
// "compute" (core-only run). Collects all problems rather than stopping at
// the first.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run":
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Isochrone.BaseURL == "" {
			problems = append(problems, "isochrone.base_url is required")
		}
		if c.Isochrone.RangeMinutes < 1 || c.Isochrone.RangeMinutes > 180 {
			problems = append(problems, "isochrone.range_minutes must be between 1 and 180")
		}
		if c.Analysis.Concurrency < 1 || c.Analysis.Concurrency > 64 {
			problems = append(problems, "analysis.concurrency must be between 1 and 64")
		}
		if c.Projection.Proj4 == "" {
			problems = append(problems, "projection.proj4 is required")
		}
	case "units":
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required")
		}
		if c.Tiger.Year < 2010 {
			problems = append(problems, "tiger.year must be 2010 or later")
		}
		if c.Tiger.Transport != "https" && c.Tiger.Transport != "ftp" {
			problems = append(problems, "tiger.transport must be https or ftp")
		}
	case "serve":
		if c.Serve.Port <= 0 {
			problems = append(problems, "serve.port must be > 0")
		}
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required")
		}
		if c.Serve.TileCacheSize < 1 {
			problems = append(problems, "serve.tile_cache_size must be >= 1")
		}
	case "compute":
		if c.Analysis.Concurrency < 1 || c.Analysis.Concurrency > 64 {
			problems = append(problems, "analysis.concurrency must be between 1 and 64")
		}
		if c.Projection.Proj4 == "" {
			problems = append(problems, "projection.proj4 is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for mode %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
