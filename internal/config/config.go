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
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Review     ReviewConfig     `yaml:"review" mapstructure:"review"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GeocodeConfig configures the geocoding backends and the guards around them.
type GeocodeConfig struct {
	Primary     string          `yaml:"primary" mapstructure:"primary"`
	Fallback    string          `yaml:"fallback" mapstructure:"fallback"`
	CountryBias string          `yaml:"country_bias" mapstructure:"country_bias"`
	TimeoutSecs int             `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Google      GoogleConfig    `yaml:"google" mapstructure:"google"`
	Nominatim   NominatimConfig `yaml:"nominatim" mapstructure:"nominatim"`
	Cache       CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Retry       RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`

	// Pricing is USD per thousand requests, keyed by backend name.
	Pricing map[string]float64 `yaml:"pricing" mapstructure:"pricing"`
}

// GoogleConfig holds Google Geocoding API settings.
type GoogleConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Region    string  `yaml:"region" mapstructure:"region"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// NominatimConfig holds Nominatim settings. The public instance requires an
// identifying user agent and at most one request per second.
type NominatimConfig struct {
	URL          string  `yaml:"url" mapstructure:"url"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	Email        string  `yaml:"email" mapstructure:"email"`
	CountryCodes string  `yaml:"country_codes" mapstructure:"country_codes"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// CacheConfig configures the persistent geocode cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	TTLDays int  `yaml:"ttl_days" mapstructure:"ttl_days"`
}

// RetryConfig configures retries of transient backend errors.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-backend circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// NormalizeConfig points at an optional lookup-table file.
type NormalizeConfig struct {
	TablesPath string `yaml:"tables_path" mapstructure:"tables_path"`
}

// ReviewConfig lists what makes a provider high priority.
type ReviewConfig struct {
	HighPrioritySpecialties []string `yaml:"high_priority_specialties" mapstructure:"high_priority_specialties"`
	HighPriorityProviderIDs []string `yaml:"high_priority_provider_ids" mapstructure:"high_priority_provider_ids"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency           int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxConsecutiveOutages int `yaml:"max_consecutive_outages" mapstructure:"max_consecutive_outages"`
}

// OutputConfig configures the files written after a run.
type OutputConfig struct {
	EnrichedPath string `yaml:"enriched_path" mapstructure:"enriched_path"`
	ReviewPath   string `yaml:"review_path" mapstructure:"review_path"`
	GeoJSONPath  string `yaml:"geojson_path" mapstructure:"geojson_path"`
	SummaryPath  string `yaml:"summary_path" mapstructure:"summary_path"`
	H3Resolution int    `yaml:"h3_resolution" mapstructure:"h3_resolution"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the snapshot thresholds and alert delivery.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
	MinRecords             int     `yaml:"min_records" mapstructure:"min_records"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PANEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "provider-geocoder.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("geocode.primary", "google")
	v.SetDefault("geocode.fallback", "nominatim")
	v.SetDefault("geocode.country_bias", "Kenya")
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("geocode.google.key", "")
	v.SetDefault("geocode.google.region", "ke")
	v.SetDefault("geocode.google.rate_limit", 10)
	v.SetDefault("geocode.nominatim.url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocode.nominatim.user_agent", "provider-geocoder/1.0")
	v.SetDefault("geocode.nominatim.email", "")
	v.SetDefault("geocode.nominatim.country_codes", "ke")
	v.SetDefault("geocode.nominatim.rate_limit", 1)
	v.SetDefault("geocode.cache.enabled", true)
	v.SetDefault("geocode.cache.ttl_days", 90)
	v.SetDefault("geocode.retry.max_attempts", 3)
	v.SetDefault("geocode.retry.initial_backoff_ms", 500)
	v.SetDefault("geocode.retry.max_backoff_ms", 10000)
	v.SetDefault("geocode.retry.multiplier", 2.0)
	v.SetDefault("geocode.retry.jitter_fraction", 0.25)
	v.SetDefault("geocode.circuit.failure_threshold", 5)
	v.SetDefault("geocode.circuit.reset_timeout_secs", 30)
	v.SetDefault("geocode.pricing", map[string]float64{"google": 5.0, "nominatim": 0})
	v.SetDefault("normalize.tables_path", "")
	v.SetDefault("review.high_priority_specialties", []string{})
	v.SetDefault("review.high_priority_provider_ids", []string{})
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.max_consecutive_outages", 25)
	v.SetDefault("output.enriched_path", "providers_geocoded.xlsx")
	v.SetDefault("output.review_path", "providers_needs_review.xlsx")
	v.SetDefault("output.geojson_path", "")
	v.SetDefault("output.summary_path", "county_summary.md")
	v.SetDefault("output.h3_resolution", 8)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.review_backlog_threshold", 100)
	v.SetDefault("monitoring.min_records", 20)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command depends on. mode is the command
// name: resolve, correct, review, summary or serve.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "resolve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateGeocode()...)
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 32 {
			errs = append(errs, "batch.concurrency must be between 1 and 32")
		}
		if c.Output.H3Resolution > 15 {
			errs = append(errs, "output.h3_resolution must be <= 15")
		}
	case "correct", "review", "summary":
		errs = append(errs, c.validateStore()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.Enabled {
			if c.Monitoring.FailureRateThreshold <= 0 || c.Monitoring.FailureRateThreshold > 1 {
				errs = append(errs, "monitoring.failure_rate_threshold must be in (0, 1]")
			}
			if c.Monitoring.ReviewBacklogThreshold < 0 {
				errs = append(errs, "monitoring.review_backlog_threshold must be >= 0")
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
		return nil
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
}

func (c *Config) validateGeocode() []string {
	var errs []string
	if c.Geocode.Primary == "" {
		errs = append(errs, "geocode.primary is required")
	}
	for _, name := range []string{c.Geocode.Primary, c.Geocode.Fallback} {
		switch name {
		case "":
		case "google":
			if c.Geocode.Google.Key == "" {
				errs = append(errs, "geocode.google.key is required")
			}
		case "nominatim":
			if c.Geocode.Nominatim.UserAgent == "" {
				errs = append(errs, "geocode.nominatim.user_agent is required")
			}
		default:
			errs = append(errs, "unknown geocode backend "+name)
		}
	}
	if c.Geocode.Primary != "" && c.Geocode.Primary == c.Geocode.Fallback {
		errs = append(errs, "geocode.fallback must differ from geocode.primary")
	}
	if c.Geocode.TimeoutSecs <= 0 {
		errs = append(errs, "geocode.timeout_secs must be > 0")
	}
	return errs
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
