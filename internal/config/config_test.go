package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "provider-geocoder.db", cfg.Store.DSN)
	assert.Equal(t, "google", cfg.Geocode.Primary)
	assert.Equal(t, "nominatim", cfg.Geocode.Fallback)
	assert.Equal(t, "Kenya", cfg.Geocode.CountryBias)
	assert.Equal(t, 10, cfg.Geocode.TimeoutSecs)
	assert.Equal(t, "https://nominatim.openstreetmap.org/search", cfg.Geocode.Nominatim.URL)
	assert.InDelta(t, 1.0, cfg.Geocode.Nominatim.RateLimit, 0.001)
	assert.True(t, cfg.Geocode.Cache.Enabled)
	assert.Equal(t, 90, cfg.Geocode.Cache.TTLDays)
	assert.Equal(t, 3, cfg.Geocode.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Geocode.Circuit.FailureThreshold)
	assert.InDelta(t, 5.0, cfg.Geocode.Pricing["google"], 0.001)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, 25, cfg.Batch.MaxConsecutiveOutages)
	assert.Equal(t, 8, cfg.Output.H3Resolution)
	assert.Equal(t, "providers_geocoded.xlsx", cfg.Output.EnrichedPath)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.2, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/panel
geocode:
  primary: nominatim
  fallback: ""
  nominatim:
    email: ops@example.org
normalize:
  tables_path: tables.yaml
review:
  high_priority_specialties:
    - Oncology
    - Dialysis
log:
  level: debug
  format: console
batch:
  concurrency: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/panel", cfg.Store.DatabaseURL)
	assert.Equal(t, "nominatim", cfg.Geocode.Primary)
	assert.Empty(t, cfg.Geocode.Fallback)
	assert.Equal(t, "ops@example.org", cfg.Geocode.Nominatim.Email)
	assert.Equal(t, "tables.yaml", cfg.Normalize.TablesPath)
	assert.Equal(t, []string{"Oncology", "Dialysis"}, cfg.Review.HighPrioritySpecialties)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 2, cfg.Batch.Concurrency)
	// Defaults still apply for unset values
	assert.Equal(t, 25, cfg.Batch.MaxConsecutiveOutages)
	assert.Equal(t, "provider-geocoder/1.0", cfg.Geocode.Nominatim.UserAgent)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("PANEL_STORE_DRIVER", "postgres")
	t.Setenv("PANEL_LOG_LEVEL", "warn")
	t.Setenv("PANEL_GEOCODE_GOOGLE_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "test-key", cfg.Geocode.Google.Key)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config that passes validation in every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Geocode.Primary = "google"
	cfg.Geocode.Fallback = "nominatim"
	cfg.Geocode.Google.Key = "key"
	cfg.Geocode.Nominatim.UserAgent = "provider-geocoder/1.0"
	cfg.Geocode.TimeoutSecs = 10
	cfg.Batch.Concurrency = 4
	cfg.Output.H3Resolution = 8
	cfg.Server.Port = 8080
	cfg.Monitoring.FailureRateThreshold = 0.2
	return cfg
}

func TestValidate(t *testing.T) {
	for _, mode := range []string{"resolve", "correct", "review", "summary", "serve"} {
		assert.NoError(t, validDefaults().Validate(mode), mode)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", "unknown", func(*Config) {}, "unknown mode"},
		{"postgres without url", "review", func(c *Config) { c.Store.Driver = "postgres" }, "store.database_url is required"},
		{"bad driver", "correct", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver must be sqlite or postgres"},
		{"google without key", "resolve", func(c *Config) { c.Geocode.Google.Key = "" }, "geocode.google.key is required"},
		{"unknown backend", "resolve", func(c *Config) { c.Geocode.Fallback = "bing" }, "unknown geocode backend bing"},
		{"same backend twice", "resolve", func(c *Config) { c.Geocode.Fallback = "google" }, "must differ"},
		{"no primary", "resolve", func(c *Config) { c.Geocode.Primary = "" }, "geocode.primary is required"},
		{"zero timeout", "resolve", func(c *Config) { c.Geocode.TimeoutSecs = 0 }, "geocode.timeout_secs"},
		{"concurrency", "resolve", func(c *Config) { c.Batch.Concurrency = 0 }, "batch.concurrency must be between 1 and 32"},
		{"h3 resolution", "resolve", func(c *Config) { c.Output.H3Resolution = 16 }, "output.h3_resolution"},
		{"port", "serve", func(c *Config) { c.Server.Port = 0 }, "server.port must be > 0"},
		{"failure rate", "serve", func(c *Config) {
			c.Monitoring.Enabled = true
			c.Monitoring.FailureRateThreshold = 1.5
		}, "monitoring.failure_rate_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_NominatimOnly(t *testing.T) {
	cfg := validDefaults()
	cfg.Geocode.Primary = "nominatim"
	cfg.Geocode.Fallback = ""
	cfg.Geocode.Google.Key = ""
	assert.NoError(t, cfg.Validate("resolve"))
}
