// Package store persists ResolutionRecords and the geocode cache.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/medpanel/provider-geocoder/internal/db"
	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/pkg/geocode"
)

var (
	// ErrNotFound is returned when no record exists for a provider.
	ErrNotFound = eris.New("store: record not found")

	// ErrCorrected is returned by SaveCorrection when the stored record has
	// already been manually corrected.
	ErrCorrected = eris.New("store: record already manually corrected")
)

// Filter specifies criteria for listing resolution records.
type Filter struct {
	Status model.ReviewStatus `json:"status,omitempty"`
	Tier   model.Tier         `json:"tier,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for resolution records.
type Store interface {
	// SaveResolution upserts rec with its attempts and audit notes in one
	// transaction.
	SaveResolution(ctx context.Context, rec model.ResolutionRecord) error
	// SaveCorrection saves rec like SaveResolution, but only over a stored
	// record that is not yet MANUALLY_CORRECTED. The check and the write are
	// one statement, so concurrent corrections cannot both succeed.
	SaveCorrection(ctx context.Context, rec model.ResolutionRecord) error
	GetResolution(ctx context.Context, providerID string) (*model.ResolutionRecord, error)
	ListResolutions(ctx context.Context, filter Filter) ([]model.ResolutionRecord, error)
	// ResolvedIDs returns the outcome of every stored record by provider id.
	ResolvedIDs(ctx context.Context) (map[string]model.Outcome, error)

	// Geocode cache
	GetGeocode(ctx context.Context, key string, maxAge time.Duration) (*geocode.Result, bool, error)
	PutGeocode(ctx context.Context, key string, r *geocode.Result) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a store backend.
type Config struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DSN         string        `yaml:"dsn" mapstructure:"dsn"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open creates the configured store and runs its migration.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

const defaultListLimit = 1000

func listLimit(f Filter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
