package model

import (
	"time"

	"github.com/medpanel/provider-geocoder/pkg/geocode"
)

// Tier is the confidence tier of a resolved coordinate.
type Tier string

const (
	TierStreet       Tier = "STREET"
	TierTownCentroid Tier = "TOWN_CENTROID"
	TierCountryProxy Tier = "COUNTRY_PROXY"
	TierFailed       Tier = "FAILED"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierStreet, TierTownCentroid, TierCountryProxy, TierFailed:
		return true
	default:
		return false
	}
}

// ReviewStatus is the quality-review state of a ResolutionRecord.
type ReviewStatus string

const (
	StatusPending           ReviewStatus = "PENDING" // Not yet seen by the reviewer
	StatusAccepted          ReviewStatus = "ACCEPTED"
	StatusNeedsReview       ReviewStatus = "NEEDS_REVIEW"
	StatusManuallyCorrected ReviewStatus = "MANUALLY_CORRECTED"
)

// Outcome explains how a resolution ended. It lets summaries separate
// "geocoder could not resolve" from "input was unusable".
type Outcome string

const (
	OutcomeResolved       Outcome = "resolved"
	OutcomeExhausted      Outcome = "exhausted"
	OutcomeMalformedInput Outcome = "malformed_input"
	OutcomeNoLocationHint Outcome = "no_location_hint"
	OutcomeBackendOutage  Outcome = "backend_outage"
	OutcomeManual         Outcome = "manual"
)

// SourceManual is the geocoding source of operator-corrected records.
const SourceManual = "MANUAL"

// AttemptOutcome is the result of a single query against a single backend.
type AttemptOutcome string

const (
	AttemptMatched     AttemptOutcome = "matched"
	AttemptNoMatch     AttemptOutcome = "no_match"
	AttemptUnavailable AttemptOutcome = "unavailable"
	AttemptSkipped     AttemptOutcome = "skipped"
)

// Attempt is one audit-trail entry: a pass that was skipped, or one query
// sent to one backend.
type Attempt struct {
	Pass         int               `json:"pass"`
	Precision    geocode.Precision `json:"precision"`
	Query        string            `json:"query,omitempty"`
	Backend      string            `json:"backend,omitempty"`
	Outcome      AttemptOutcome    `json:"outcome"`
	Quality      string            `json:"quality,omitempty"`
	MatchQuality string            `json:"match_quality,omitempty"`
	Latitude     float64           `json:"latitude,omitempty"`
	Longitude    float64           `json:"longitude,omitempty"`
	Error        string            `json:"error,omitempty"`
	At           time.Time         `json:"at"`
}

// Snapshot captures the resolution values replaced by a manual correction.
type Snapshot struct {
	Latitude   *float64     `json:"latitude,omitempty"`
	Longitude  *float64     `json:"longitude,omitempty"`
	Tier       Tier         `json:"tier"`
	Source     string       `json:"source"`
	Status     ReviewStatus `json:"status"`
	Outcome    Outcome      `json:"outcome"`
	Note       string       `json:"note,omitempty"`
	ResolvedAt time.Time    `json:"resolved_at"`
}

// AuditNote keeps a superseded automated result retrievable after a
// correction.
type AuditNote struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Prior     Snapshot  `json:"prior"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditKindManualCorrection marks notes written by a manual correction.
const AuditKindManualCorrection = "manual_correction"

// ResolutionRecord is the terminal artifact of the pipeline, one per provider.
type ResolutionRecord struct {
	ProviderID   string            `json:"provider_id"`
	Address      string            `json:"address"`
	Latitude     *float64          `json:"latitude"`
	Longitude    *float64          `json:"longitude"`
	Tier         Tier              `json:"tier"`
	Source       string            `json:"source"`
	Precision    geocode.Precision `json:"precision,omitempty"`
	Quality      string            `json:"quality,omitempty"`
	MatchQuality string            `json:"match_quality,omitempty"`
	ResolvedAt   time.Time         `json:"resolved_at"`
	IsPhysical   bool              `json:"is_physical"`
	Status       ReviewStatus      `json:"status"`
	Outcome      Outcome           `json:"outcome"`
	Note         string            `json:"note,omitempty"`
	RunID        string            `json:"run_id,omitempty"`
	Attempts     []Attempt         `json:"attempts,omitempty"`
	Audit        []AuditNote       `json:"audit,omitempty"`
}

// Coordinates returns the resolved point, if any.
func (r ResolutionRecord) Coordinates() (lat, lon float64, ok bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return 0, 0, false
	}
	return *r.Latitude, *r.Longitude, true
}

// Snapshot returns the resolution values of r.
func (r ResolutionRecord) Snapshot() Snapshot {
	return Snapshot{
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Tier:       r.Tier,
		Source:     r.Source,
		Status:     r.Status,
		Outcome:    r.Outcome,
		Note:       r.Note,
		ResolvedAt: r.ResolvedAt,
	}
}

// LastAutomated returns the automated result preserved by the most recent
// manual correction.
func (r ResolutionRecord) LastAutomated() (Snapshot, bool) {
	for i := len(r.Audit) - 1; i >= 0; i-- {
		if r.Audit[i].Kind == AuditKindManualCorrection {
			return r.Audit[i].Prior, true
		}
	}
	return Snapshot{}, false
}

// Correction is an operator-supplied fix for a single provider.
type Correction struct {
	ProviderID string  `json:"provider_id"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	Tier       Tier    `json:"tier"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
