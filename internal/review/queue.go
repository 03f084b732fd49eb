package review

import (
	"sort"
	"sync"

	"github.com/medpanel/provider-geocoder/internal/model"
)

// Queue holds the records flagged NEEDS_REVIEW in this process, keyed by
// provider id. It is safe for concurrent use.
type Queue struct {
	mu      sync.RWMutex
	records map[string]model.ResolutionRecord
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{records: make(map[string]model.ResolutionRecord)}
}

// Add enqueues rec, replacing any earlier entry for the same provider.
func (q *Queue) Add(rec model.ResolutionRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records[rec.ProviderID] = rec
}

// Remove drops a provider, typically after a manual correction.
func (q *Queue) Remove(providerID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.records, providerID)
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.records)
}

// Snapshot returns a copy of the queued records ordered by provider id.
func (q *Queue) Snapshot() []model.ResolutionRecord {
	q.mu.RLock()
	out := make([]model.ResolutionRecord, 0, len(q.records))
	for _, rec := range q.records {
		out = append(out, rec)
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}
