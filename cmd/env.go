package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/db"
	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/normalize"
	"github.com/medpanel/provider-geocoder/internal/resilience"
	"github.com/medpanel/provider-geocoder/internal/resolve"
	"github.com/medpanel/provider-geocoder/internal/review"
	"github.com/medpanel/provider-geocoder/internal/store"
	"github.com/medpanel/provider-geocoder/internal/virtual"
	"github.com/medpanel/provider-geocoder/pkg/geocode"
)

// resolveEnv holds everything the resolve and serve commands share.
type resolveEnv struct {
	Store    store.Store
	Resolver *resolve.Resolver
	Breakers *resilience.Breakers
	Metrics  *geocode.Metrics
	RunID    string
}

// Close releases resources held by the environment.
func (e *resolveEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		DatabaseURL: cfg.Store.DatabaseURL,
		Pool: db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

func loadTables() (normalize.Tables, error) {
	if cfg.Normalize.TablesPath == "" {
		return normalize.DefaultTables(), nil
	}
	t, err := normalize.LoadTables(cfg.Normalize.TablesPath)
	if err != nil {
		return normalize.Tables{}, err
	}
	zap.L().Info("lookup tables loaded", zap.String("path", cfg.Normalize.TablesPath))
	return t, nil
}

// buildGeocoders wraps the configured primary and fallback backends in
// guarded clients sharing one breaker set and the store's cache.
func buildGeocoders(cache geocode.Cache, breakers *resilience.Breakers, metrics *geocode.Metrics) ([]geocode.Geocoder, error) {
	gc := cfg.Geocode
	retry := resilience.RetryFromConfig(gc.Retry.MaxAttempts, gc.Retry.InitialBackoffMs,
		gc.Retry.MaxBackoffMs, gc.Retry.Multiplier, gc.Retry.JitterFraction)

	var out []geocode.Geocoder
	for _, name := range []string{gc.Primary, gc.Fallback} {
		if name == "" {
			continue
		}
		var backend geocode.Geocoder
		switch name {
		case "google":
			backend = geocode.NewGoogle(gc.Google.Key,
				geocode.WithGoogleRegion(gc.Google.Region),
				geocode.WithGoogleRateLimit(gc.Google.RateLimit),
			)
		case "nominatim":
			backend = geocode.NewNominatim(
				geocode.WithNominatimURL(gc.Nominatim.URL),
				geocode.WithNominatimUserAgent(gc.Nominatim.UserAgent),
				geocode.WithNominatimEmail(gc.Nominatim.Email),
				geocode.WithNominatimCountryCodes(gc.Nominatim.CountryCodes),
				geocode.WithNominatimRateLimit(gc.Nominatim.RateLimit),
			)
		default:
			return nil, eris.Errorf("unknown geocode backend %q", name)
		}

		opts := []geocode.Option{
			geocode.WithTimeout(time.Duration(gc.TimeoutSecs) * time.Second),
			geocode.WithRetry(retry),
			geocode.WithBreaker(breakers.Get(name)),
			geocode.WithMetrics(metrics),
		}
		if gc.Cache.Enabled && cache != nil {
			opts = append(opts, geocode.WithCache(cache, time.Duration(gc.Cache.TTLDays)*24*time.Hour))
		}
		out = append(out, geocode.NewClient(backend, opts...))
	}
	if len(out) == 0 {
		return nil, eris.New("no geocode backend configured")
	}
	return out, nil
}

// initResolver opens the store and builds the resolver around it. Callers
// should defer env.Close().
func initResolver(ctx context.Context, reg prometheus.Registerer) (*resolveEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	tables, err := loadTables()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	gc := cfg.Geocode
	breakers := resilience.NewBreakers(resilience.CircuitFromConfig(gc.Circuit.FailureThreshold, gc.Circuit.ResetTimeoutSecs))
	metrics := geocode.NewMetrics(reg)
	geocoders, err := buildGeocoders(st, breakers, metrics)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	runID := uuid.NewString()
	cascade := geocode.NewCascade(geocoders...)
	r := resolve.New(
		normalize.New(tables),
		virtual.New(tables.VirtualKeywords),
		cascade,
		resolve.WithCountryBias(gc.CountryBias),
		resolve.WithRunID(runID),
		resolve.WithMetrics(resolve.NewMetrics(reg)),
	)

	zap.L().Info("resolver ready",
		zap.String("run_id", runID),
		zap.Strings("backends", cascade.Backends()),
		zap.String("store", cfg.Store.Driver),
	)

	return &resolveEnv{Store: st, Resolver: r, Breakers: breakers, Metrics: metrics, RunID: runID}, nil
}

// correctionResolver builds a resolver used only for manual corrections,
// which never reach a backend.
func correctionResolver() *resolve.Resolver {
	tables := normalize.DefaultTables()
	return resolve.New(normalize.New(tables), virtual.New(tables.VirtualKeywords), geocode.NewCascade())
}

// buildPolicy assembles the high-priority policy from configuration. The
// specialty rule needs the panel rows; raws may be nil.
func buildPolicy(raws []model.RawAddressRecord) review.Policy {
	var policies []review.Policy
	if ids := cfg.Review.HighPriorityProviderIDs; len(ids) > 0 {
		policies = append(policies, review.ProviderIDs(ids...))
	}
	if names := cfg.Review.HighPrioritySpecialties; len(names) > 0 && raws != nil {
		policies = append(policies, review.Specialties(review.SpecialtyIndex(raws), names...))
	}
	if len(policies) == 0 {
		return review.Never
	}
	return review.Any(policies...)
}

// loadAllRecords pages through every stored record.
func loadAllRecords(ctx context.Context, st store.Store, filter store.Filter) ([]model.ResolutionRecord, error) {
	const page = 1000
	var out []model.ResolutionRecord
	for offset := 0; ; offset += page {
		filter.Limit, filter.Offset = page, offset
		recs, err := st.ListResolutions(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "list resolutions")
		}
		out = append(out, recs...)
		if len(recs) < page {
			return out, nil
		}
	}
}

func recordsByID(recs []model.ResolutionRecord) map[string]model.ResolutionRecord {
	out := make(map[string]model.ResolutionRecord, len(recs))
	for _, r := range recs {
		out[r.ProviderID] = r
	}
	return out
}
