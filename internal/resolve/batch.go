package resolve

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/medpanel/provider-geocoder/internal/model"
)

// ErrSystemicOutage aborts a batch when consecutive providers all failed
// because no backend could be reached. Records already saved stay valid; a
// later run re-resolves the outage records and everything not yet saved.
var ErrSystemicOutage = eris.New("resolve: geocoder backends unreachable")

const (
	defaultConcurrency = 4
	defaultMaxOutages  = 25
)

// RecordStore persists ResolutionRecords. SaveResolution must be atomic per
// record.
type RecordStore interface {
	SaveResolution(ctx context.Context, rec model.ResolutionRecord) error
	ResolvedIDs(ctx context.Context) (map[string]model.Outcome, error)
}

// Reviewer assigns a review status to a freshly resolved record.
type Reviewer interface {
	Review(rec model.ResolutionRecord) model.ResolutionRecord
}

// RunStats summarises a batch run.
type RunStats struct {
	RunID       string
	Input       int
	Duplicates  int
	Skipped     int // already had a record
	Resolved    int // records written this run
	Mapped      int // records with coordinates
	NeedsReview int
	ByTier      map[model.Tier]int
	ByOutcome   map[model.Outcome]int
	Started     time.Time
	Finished    time.Time
}

// Runner resolves a provider set with a bounded worker pool.
type Runner struct {
	resolver    *Resolver
	reviewer    Reviewer
	store       RecordStore
	concurrency int
	maxOutages  int
	progress    func(done, total int)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency sets the number of providers resolved in parallel.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithMaxConsecutiveOutages sets how many consecutive backend_outage
// records abort the run. Zero or less disables the check.
func WithMaxConsecutiveOutages(n int) RunnerOption {
	return func(r *Runner) {
		r.maxOutages = n
	}
}

// WithProgress registers a callback invoked after each saved record.
func WithProgress(fn func(done, total int)) RunnerOption {
	return func(r *Runner) {
		r.progress = fn
	}
}

// NewRunner creates a Runner.
func NewRunner(resolver *Resolver, reviewer Reviewer, store RecordStore, opts ...RunnerOption) *Runner {
	r := &Runner{
		resolver:    resolver,
		reviewer:    reviewer,
		store:       store,
		concurrency: defaultConcurrency,
		maxOutages:  defaultMaxOutages,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pending returns the providers of raws that still need resolving: those
// without a record, or whose record was an outage. Later duplicates of a
// provider id are dropped and counted.
func Pending(raws []model.RawAddressRecord, existing map[string]model.Outcome) (pending []model.RawAddressRecord, skipped, duplicates int) {
	seen := make(map[string]bool, len(raws))
	for _, raw := range raws {
		if seen[raw.ProviderID] {
			duplicates++
			zap.L().Warn("duplicate provider id skipped", zap.String("provider_id", raw.ProviderID))
			continue
		}
		seen[raw.ProviderID] = true
		if outcome, ok := existing[raw.ProviderID]; ok && outcome != model.OutcomeBackendOutage {
			skipped++
			continue
		}
		pending = append(pending, raw)
	}
	return pending, skipped, duplicates
}

// Run resolves, reviews and saves every pending provider in raws. Per-provider
// failures are encoded in the records; only a store failure, a systemic outage
// or cancellation ends the run early. Cancellation stops between providers and
// never saves a partial record.
func (r *Runner) Run(ctx context.Context, raws []model.RawAddressRecord) (RunStats, error) {
	stats := RunStats{
		RunID:     r.resolver.runID,
		Input:     len(raws),
		ByTier:    make(map[model.Tier]int),
		ByOutcome: make(map[model.Outcome]int),
		Started:   time.Now(),
	}
	log := zap.L().With(zap.String("component", "runner"), zap.String("run_id", stats.RunID))

	existing, err := r.store.ResolvedIDs(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "resolve: load resolved ids")
	}
	pending, skipped, dups := Pending(raws, existing)
	stats.Skipped = skipped
	stats.Duplicates = dups

	log.Info("starting resolution run",
		zap.Int("input", len(raws)),
		zap.Int("pending", len(pending)),
		zap.Int("skipped", skipped),
		zap.Int("duplicates", dups),
		zap.Int("concurrency", r.concurrency),
	)

	var (
		mu          sync.Mutex
		consecutive int
		done        int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, raw := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			rec, err := r.resolver.Resolve(gctx, raw)
			if err != nil {
				return nil //nolint:nilerr // cancelled mid-provider; nothing is saved
			}
			if r.reviewer != nil {
				rec = r.reviewer.Review(rec)
			}
			if err := r.store.SaveResolution(gctx, rec); err != nil {
				return eris.Wrapf(err, "resolve: save %s", rec.ProviderID)
			}

			mu.Lock()
			defer mu.Unlock()
			stats.Resolved++
			stats.ByTier[rec.Tier]++
			stats.ByOutcome[rec.Outcome]++
			if rec.Latitude != nil {
				stats.Mapped++
			}
			if rec.Status == model.StatusNeedsReview {
				stats.NeedsReview++
			}
			done++
			if r.progress != nil {
				r.progress(done, len(pending))
			}

			if rec.Outcome == model.OutcomeBackendOutage {
				consecutive++
			} else {
				consecutive = 0
			}
			if r.maxOutages > 0 && consecutive >= r.maxOutages {
				return ErrSystemicOutage
			}
			return nil
		})
	}

	err = g.Wait()
	stats.Finished = time.Now()

	switch {
	case errors.Is(err, ErrSystemicOutage):
		r.resolver.metrics.systemicOutage()
		log.Error("aborting run: geocoder backends unreachable",
			zap.Int("consecutive_outages", r.maxOutages),
			zap.Int("saved", stats.Resolved),
		)
		return stats, err
	case err != nil:
		return stats, err
	case ctx.Err() != nil:
		log.Warn("resolution run interrupted", zap.Int("saved", stats.Resolved), zap.Int("pending", len(pending)))
		return stats, eris.Wrap(ctx.Err(), "resolve: run interrupted")
	}

	log.Info("resolution run complete",
		zap.Int("input", stats.Input),
		zap.Int("mapped", stats.Mapped),
		zap.Int("street", stats.ByTier[model.TierStreet]),
		zap.Int("centroid", stats.ByTier[model.TierTownCentroid]),
		zap.Int("country_proxy", stats.ByTier[model.TierCountryProxy]),
		zap.Int("failed", stats.ByTier[model.TierFailed]),
		zap.Int("needs_review", stats.NeedsReview),
		zap.Duration("elapsed", stats.Finished.Sub(stats.Started)),
	)
	return stats, nil
}
