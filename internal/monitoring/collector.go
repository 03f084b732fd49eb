// Package monitoring summarises stored resolution records and raises
// threshold alerts over a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/store"
)

const pageSize = 1000

// Snapshot holds a point-in-time view of resolution quality.
type Snapshot struct {
	Total    int                        `json:"total"`
	ByTier   map[model.Tier]int         `json:"by_tier"`
	ByStatus map[model.ReviewStatus]int `json:"by_status"`
	BySource map[string]int             `json:"by_source"`

	Failed        int     `json:"failed"`
	FailureRate   float64 `json:"failure_rate"`
	ReviewBacklog int     `json:"review_backlog"`

	CollectedAt time.Time `json:"collected_at"`
}

// RecordLister abstracts the store method the collector needs.
type RecordLister interface {
	ListResolutions(ctx context.Context, filter store.Filter) ([]model.ResolutionRecord, error)
}

// Collector gathers snapshots from the store.
type Collector struct {
	store RecordLister
	now   func() time.Time
}

// NewCollector creates a new snapshot collector.
func NewCollector(st RecordLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect pages through every stored record and summarises them.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	var all []model.ResolutionRecord
	for offset := 0; ; offset += pageSize {
		page, err := c.store.ListResolutions(ctx, store.Filter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list resolutions")
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}

	snap := Summarize(all)
	snap.CollectedAt = c.now().UTC()
	return snap, nil
}

// Summarize builds a Snapshot from records. Records without a source are
// counted under "none".
func Summarize(records []model.ResolutionRecord) *Snapshot {
	snap := &Snapshot{
		ByTier:   make(map[model.Tier]int),
		ByStatus: make(map[model.ReviewStatus]int),
		BySource: make(map[string]int),
	}
	for _, rec := range records {
		snap.Total++
		snap.ByTier[rec.Tier]++
		snap.ByStatus[rec.Status]++
		source := rec.Source
		if source == "" {
			source = "none"
		}
		snap.BySource[source]++
	}

	snap.Failed = snap.ByTier[model.TierFailed]
	snap.ReviewBacklog = snap.ByStatus[model.StatusNeedsReview]
	if snap.Total > 0 {
		snap.FailureRate = float64(snap.Failed) / float64(snap.Total)
	}
	return snap
}
