// Package review assigns review statuses to resolved records and collects
// the ones that need a human to look at them.
package review

import (
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/model"
)

// Reviewer classifies ResolutionRecords. Only the Status field is changed.
type Reviewer struct {
	policy Policy
	queue  *Queue
}

// Option configures a Reviewer.
type Option func(*Reviewer)

// WithQueue enqueues every record classified NEEDS_REVIEW into q.
func WithQueue(q *Queue) Option {
	return func(r *Reviewer) {
		r.queue = q
	}
}

// New creates a Reviewer using policy to decide high priority. A nil policy
// is Never.
func New(policy Policy, opts ...Option) *Reviewer {
	if policy == nil {
		policy = Never
	}
	r := &Reviewer{policy: policy}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify returns the status rec should have, without changing it.
func (r *Reviewer) Classify(rec model.ResolutionRecord) model.ReviewStatus {
	switch {
	case rec.Status == model.StatusManuallyCorrected:
		return rec.Status
	case rec.Tier == model.TierFailed:
		return model.StatusNeedsReview
	case rec.Tier == model.TierTownCentroid && r.policy.HighPriority(rec):
		return model.StatusNeedsReview
	default:
		return model.StatusAccepted
	}
}

// Review sets rec's status and enqueues it when it needs review. Manually
// corrected records are returned unchanged.
func (r *Reviewer) Review(rec model.ResolutionRecord) model.ResolutionRecord {
	rec.Status = r.Classify(rec)
	if rec.Status == model.StatusNeedsReview {
		zap.L().Debug("record needs review",
			zap.String("provider_id", rec.ProviderID),
			zap.String("tier", string(rec.Tier)),
			zap.String("outcome", string(rec.Outcome)),
		)
		if r.queue != nil {
			r.queue.Add(rec)
		}
	}
	return rec
}
