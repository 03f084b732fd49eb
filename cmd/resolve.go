package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/cost"
	"github.com/medpanel/provider-geocoder/internal/enrich"
	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/panel"
	"github.com/medpanel/provider-geocoder/internal/resolve"
	"github.com/medpanel/provider-geocoder/internal/review"
	"github.com/medpanel/provider-geocoder/internal/store"
)

var (
	resolveOutput      string
	resolveReview      string
	resolveGeoJSON     string
	resolveSummary     string
	resolveLimit       int
	resolveConcurrency int
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <panel.xlsx>",
	Short: "Geocode every provider in the panel and write the enriched outputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("resolve"); err != nil {
			return err
		}
		return runResolve(ctx, args[0], prometheus.NewRegistry())
	},
}

func init() {
	f := resolveCmd.Flags()
	f.StringVar(&resolveOutput, "output", "", "enriched panel path (default from config)")
	f.StringVar(&resolveReview, "review-output", "", "review export path (default from config)")
	f.StringVar(&resolveGeoJSON, "geojson", "", "write a GeoJSON map layer to this path")
	f.StringVar(&resolveSummary, "summary", "", "county summary markdown path (default from config)")
	f.IntVar(&resolveLimit, "limit", 0, "resolve at most this many providers (0 = all)")
	f.IntVar(&resolveConcurrency, "concurrency", 0, "providers resolved in parallel (default from config)")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(ctx context.Context, input string, reg prometheus.Registerer) error {
	log := zap.L().With(zap.String("command", "resolve"))
	start := time.Now()

	p, err := panel.Load(input)
	if err != nil {
		return err
	}
	raws := p.Records
	if resolveLimit > 0 && len(raws) > resolveLimit {
		raws = raws[:resolveLimit]
	}
	log.Info("panel loaded", zap.String("input", input), zap.Int("providers", len(p.Records)))

	env, err := initResolver(ctx, reg)
	if err != nil {
		return err
	}
	defer env.Close()

	concurrency := firstPositive(resolveConcurrency, cfg.Batch.Concurrency)
	queue := review.NewQueue()
	runner := resolve.NewRunner(env.Resolver,
		review.New(buildPolicy(p.Records), review.WithQueue(queue)),
		env.Store,
		resolve.WithConcurrency(concurrency),
		resolve.WithMaxConsecutiveOutages(cfg.Batch.MaxConsecutiveOutages),
		resolve.WithProgress(newProgress()),
	)

	stats, err := runner.Run(ctx, raws)
	if err != nil {
		if open := env.Breakers.Open(); len(open) > 0 {
			log.Warn("circuit breakers open", zap.Strings("backends", open))
		}
		return err
	}

	recs, err := loadAllRecords(ctx, env.Store, store.Filter{})
	if err != nil {
		return err
	}
	byID := recordsByID(recs)

	paths, err := writeOutputs(p, raws, byID)
	if err != nil {
		return err
	}

	fmt.Printf("\nResolve complete (run %s):\n", stats.RunID)
	fmt.Printf("  Providers input:  %d\n", stats.Input)
	fmt.Printf("  Skipped (stored): %d\n", stats.Skipped)
	fmt.Printf("  Duplicates:       %d\n", stats.Duplicates)
	fmt.Printf("  Resolved:         %d\n", stats.Resolved)
	fmt.Printf("  Mapped:           %d\n", stats.Mapped)
	fmt.Printf("  Street:           %d\n", stats.ByTier[model.TierStreet])
	fmt.Printf("  Town centroid:    %d\n", stats.ByTier[model.TierTownCentroid])
	fmt.Printf("  Country proxy:    %d\n", stats.ByTier[model.TierCountryProxy])
	fmt.Printf("  Failed:           %d\n", stats.ByTier[model.TierFailed])
	fmt.Printf("  Needs review:     %d (queued this run: %d)\n", stats.NeedsReview, queue.Len())
	fmt.Printf("  Duration:         %s\n", time.Since(start).Round(time.Millisecond))
	printSpend(env.Metrics.Usage())
	for _, path := range paths {
		fmt.Printf("  Wrote:            %s\n", path)
	}
	return nil
}

func printSpend(usage map[string]int) {
	calc := cost.NewCalculator(cfg.Geocode.Pricing)
	items := calc.Breakdown(usage)
	if len(items) == 0 {
		return
	}
	for _, it := range items {
		fmt.Printf("  %-17s %d requests, $%.2f\n", it.Backend+":", it.Requests, it.CostUSD)
	}
	fmt.Printf("  Estimated spend:  $%.2f\n", calc.Total(usage))
}

// writeOutputs writes the enriched panel, the review export, the optional
// GeoJSON layer and the county summary, returning the paths written.
func writeOutputs(p *panel.Panel, raws []model.RawAddressRecord, byID map[string]model.ResolutionRecord) ([]string, error) {
	w := enrich.NewWriter(enrich.WithH3Resolution(cfg.Output.H3Resolution))
	var written []string

	if path := firstNonEmpty(resolveOutput, cfg.Output.EnrichedPath); path != "" {
		if err := w.WriteEnriched(path, p, byID); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if path := firstNonEmpty(resolveReview, cfg.Output.ReviewPath); path != "" {
		var pending []model.ResolutionRecord
		for _, raw := range raws {
			if rec, ok := byID[raw.ProviderID]; ok && rec.Status == model.StatusNeedsReview {
				pending = append(pending, rec)
			}
		}
		if err := w.WriteReview(path, pending, rawsByID(raws)); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if path := firstNonEmpty(resolveGeoJSON, cfg.Output.GeoJSONPath); path != "" {
		n, err := enrich.WriteGeoJSON(path, raws, byID)
		if err != nil {
			return written, err
		}
		zap.L().Info("geojson written", zap.String("path", path), zap.Int("features", n))
		written = append(written, path)
	}

	if path := firstNonEmpty(resolveSummary, cfg.Output.SummaryPath); path != "" {
		if err := writeSummaryFile(path, raws, byID); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeSummaryFile(path string, raws []model.RawAddressRecord, byID map[string]model.ResolutionRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := enrich.WriteSummaryMarkdown(f, enrich.CountySummary(raws, byID, nil)); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

// newProgress returns a progress callback drawing a bar on an interactive
// stderr, and logging every 100 providers otherwise.
func newProgress() func(done, total int) {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return func(done, total int) {
			if done%100 == 0 || done == total {
				zap.L().Info("resolve progress", zap.Int("done", done), zap.Int("total", total))
			}
		}
	}

	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Geocoding providers"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
	}
}

func rawsByID(raws []model.RawAddressRecord) map[string]model.RawAddressRecord {
	out := make(map[string]model.RawAddressRecord, len(raws))
	for _, r := range raws {
		if _, ok := out[r.ProviderID]; !ok {
			out[r.ProviderID] = r
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
