package resolve

import (
	"math"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/model"
)

var (
	// ErrAlreadyCorrected rejects a second manual correction of one record.
	ErrAlreadyCorrected = eris.New("resolve: record already manually corrected")

	// ErrInvalidCorrection rejects corrections with bad coordinates or tier.
	ErrInvalidCorrection = eris.New("resolve: invalid correction")
)

// ValidateCorrection checks c on its own, without the record it applies to.
func ValidateCorrection(c model.Correction) error {
	switch {
	case c.ProviderID == "":
		return eris.Wrap(ErrInvalidCorrection, "provider id is required")
	case math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90:
		return eris.Wrapf(ErrInvalidCorrection, "latitude %v out of range", c.Latitude)
	case math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180:
		return eris.Wrapf(ErrInvalidCorrection, "longitude %v out of range", c.Longitude)
	case !c.Tier.Valid():
		return eris.Wrapf(ErrInvalidCorrection, "unknown tier %q", c.Tier)
	case c.Tier == model.TierFailed:
		return eris.Wrap(ErrInvalidCorrection, "a correction cannot set tier FAILED")
	}
	return nil
}

// Correct applies an operator correction to prior, bypassing every pass. The
// automated values are kept as an audit note on the returned record, so they
// stay retrievable through LastAutomated.
func (r *Resolver) Correct(prior model.ResolutionRecord, c model.Correction) (model.ResolutionRecord, error) {
	if err := ValidateCorrection(c); err != nil {
		return model.ResolutionRecord{}, err
	}
	if c.ProviderID != prior.ProviderID {
		return model.ResolutionRecord{}, eris.Wrapf(ErrInvalidCorrection,
			"correction for %q applied to record %q", c.ProviderID, prior.ProviderID)
	}
	if prior.Status == model.StatusManuallyCorrected {
		return model.ResolutionRecord{}, eris.Wrapf(ErrAlreadyCorrected, "provider %s", prior.ProviderID)
	}
	if c.Tier == model.TierCountryProxy && prior.IsPhysical {
		return model.ResolutionRecord{}, eris.Wrapf(ErrInvalidCorrection,
			"tier COUNTRY_PROXY is reserved for virtual providers, %s is physical", prior.ProviderID)
	}

	now := r.now()
	next := prior
	next.Attempts = append([]model.Attempt(nil), prior.Attempts...)
	next.Audit = append(append([]model.AuditNote(nil), prior.Audit...), model.AuditNote{
		ID:        uuid.NewString(),
		Kind:      model.AuditKindManualCorrection,
		Prior:     prior.Snapshot(),
		CreatedAt: now,
	})
	next.Latitude = model.Float(c.Latitude)
	next.Longitude = model.Float(c.Longitude)
	next.Tier = c.Tier
	next.Source = model.SourceManual
	next.Status = model.StatusManuallyCorrected
	next.Outcome = model.OutcomeManual
	next.Precision = ""
	next.Quality = ""
	next.MatchQuality = ""
	next.ResolvedAt = now
	next.Note = "manually corrected"

	r.log.Info("manual correction applied",
		zap.String("provider_id", prior.ProviderID),
		zap.String("prior_tier", string(prior.Tier)),
		zap.String("tier", string(c.Tier)),
	)
	return next, nil
}
