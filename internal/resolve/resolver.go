// Package resolve turns raw provider addresses into ResolutionRecords by
// walking a fixed ladder of geocoding passes, from full street address down
// to town centroid, with a separate proxy strategy for virtual providers.
package resolve

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/normalize"
	"github.com/medpanel/provider-geocoder/internal/virtual"
	"github.com/medpanel/provider-geocoder/pkg/geocode"
)

const defaultCountryBias = "Kenya"

// Resolver produces exactly one ResolutionRecord per provider. It holds no
// per-provider state and is safe for concurrent use.
type Resolver struct {
	normalizer  *normalize.Normalizer
	classifier  *virtual.Classifier
	cascade     *geocode.Cascade
	countryBias string
	runID       string
	now         func() time.Time
	metrics     *Metrics
	passes      []pass
	log         *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCountryBias sets the country appended to physical-pass queries.
// An empty string disables the bias.
func WithCountryBias(country string) Option {
	return func(r *Resolver) {
		r.countryBias = country
	}
}

// WithRunID stamps every record produced with id.
func WithRunID(id string) Option {
	return func(r *Resolver) {
		r.runID = id
	}
}

// WithClock sets the time source for record and attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithMetrics records resolution outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// New creates a Resolver. cascade lists the backends each pass tries, primary
// first.
func New(n *normalize.Normalizer, c *virtual.Classifier, cascade *geocode.Cascade, opts ...Option) *Resolver {
	r := &Resolver{
		normalizer:  n,
		classifier:  c,
		cascade:     cascade,
		countryBias: defaultCountryBias,
		now:         time.Now,
		log:         zap.L().With(zap.String("component", "resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.passes = r.physicalPasses()
	return r
}

func streetTier(*geocode.Result) model.Tier { return model.TierStreet }

func centroidTier(*geocode.Result) model.Tier { return model.TierTownCentroid }

// landmarkTier counts a landmark match as street-level only when the backend
// reported rooftop or range quality.
func landmarkTier(r *geocode.Result) model.Tier {
	if geocode.IsStreetLevel(r.Quality) {
		return model.TierStreet
	}
	return model.TierTownCentroid
}

func (r *Resolver) physicalPasses() []pass {
	return []pass{
		{
			number:    1,
			precision: geocode.PrecisionFullAddress,
			skip:      "no street address",
			tier:      streetTier,
			query: func(n model.NormalizedAddress) string {
				if n.Street == "" {
					return ""
				}
				return joinQuery(r.countryBias, n.Street, n.Town, n.County)
			},
		},
		{
			number:    2,
			precision: geocode.PrecisionTownLandmark,
			skip:      "no landmark",
			tier:      landmarkTier,
			query: func(n model.NormalizedAddress) string {
				if n.Landmark == "" {
					return ""
				}
				return joinQuery(r.countryBias, n.Landmark, n.Town, n.County)
			},
		},
		{
			number:    3,
			precision: geocode.PrecisionTownCentroid,
			skip:      "no town or county",
			tier:      centroidTier,
			query: func(n model.NormalizedAddress) string {
				if n.Town == "" && n.County == "" {
					return ""
				}
				return joinQuery(r.countryBias, n.Town, n.County)
			},
		},
	}
}

// proxyPasses builds the location hints for a virtual provider: where it
// operates, then its head office. Neither gets the configured country bias.
func (r *Resolver) proxyPasses(raw model.RawAddressRecord) []pass {
	country := normalize.Fold(raw.Country)
	headOffice := ""
	if raw.HeadOffice != "" {
		headOffice = r.normalizer.Normalize(model.RawAddressRecord{PhysicalAddress: raw.HeadOffice}).Street
	}
	return []pass{
		{
			number:    1,
			precision: geocode.PrecisionCountryProxy,
			skip:      "no registered town or country",
			tier:      proxyTier,
			query: func(n model.NormalizedAddress) string {
				return joinQuery("", n.Town, n.County, country)
			},
		},
		{
			number:    2,
			precision: geocode.PrecisionCountryProxy,
			skip:      "no head office",
			tier:      proxyTier,
			query: func(model.NormalizedAddress) string {
				if headOffice == "" {
					return ""
				}
				return joinQuery("", headOffice, country)
			},
		},
	}
}

func proxyTier(*geocode.Result) model.Tier { return model.TierCountryProxy }

// Resolve normalises and classifies raw, then resolves it. The only error is
// ctx.Err() when the context ends mid-resolution; the partial record must
// then be discarded.
func (r *Resolver) Resolve(ctx context.Context, raw model.RawAddressRecord) (model.ResolutionRecord, error) {
	n := r.normalizer.Normalize(raw)
	n = r.classifier.Apply(raw, n)
	return r.ResolveNormalized(ctx, raw, n)
}

// ResolveNormalized resolves an already normalised address.
func (r *Resolver) ResolveNormalized(ctx context.Context, raw model.RawAddressRecord, n model.NormalizedAddress) (model.ResolutionRecord, error) {
	log := r.log.With(zap.String("provider_id", raw.ProviderID))
	rec := model.ResolutionRecord{
		ProviderID: raw.ProviderID,
		Address:    n.Address,
		Tier:       model.TierFailed,
		IsPhysical: !n.IsVirtual,
		Status:     model.StatusPending,
		RunID:      r.runID,
	}

	if n.Malformed() {
		rec.Outcome = model.OutcomeMalformedInput
		rec.Note = "malformed input: no street address or town"
		return r.finish(log, rec), nil
	}

	passes := r.passes
	if n.IsVirtual {
		passes = r.proxyPasses(raw)
	}

	m := &machine{
		state:   StatePending,
		passes:  passes,
		cascade: r.cascade,
		now:     r.now,
		log:     log,
	}
	if err := m.run(ctx, n); err != nil {
		return model.ResolutionRecord{}, err
	}

	rec.Attempts = m.attempts
	rec.Tier = m.tier()
	rec.Outcome = m.outcome()

	switch {
	case rec.Outcome == model.OutcomeResolved:
		rec.Latitude = model.Float(m.result.Latitude)
		rec.Longitude = model.Float(m.result.Longitude)
		rec.Source = m.result.Source
		rec.Precision = m.won.precision
		rec.Quality = m.result.Quality
		rec.MatchQuality = m.result.MatchQuality
		rec.Note = fmt.Sprintf("resolved at %s by %s (%s)", m.won.precision, m.result.Source, m.result.Quality)
	case n.IsVirtual && allSkipped(m.attempts):
		rec.Outcome = model.OutcomeNoLocationHint
		rec.Note = "virtual provider without location hint"
	case rec.Outcome == model.OutcomeBackendOutage:
		rec.Note = "all geocoder backends unavailable"
	default:
		rec.Note = "no pass returned coordinates"
	}
	return r.finish(log, rec), nil
}

func (r *Resolver) finish(log *zap.Logger, rec model.ResolutionRecord) model.ResolutionRecord {
	rec.ResolvedAt = r.now()
	r.metrics.observe(rec)
	log.Debug("provider resolved",
		zap.String("tier", string(rec.Tier)),
		zap.String("outcome", string(rec.Outcome)),
		zap.String("source", rec.Source),
		zap.Int("attempts", len(rec.Attempts)),
	)
	return rec
}

func allSkipped(attempts []model.Attempt) bool {
	for _, a := range attempts {
		if a.Outcome != model.AttemptSkipped {
			return false
		}
	}
	return true
}
