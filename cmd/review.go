package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/enrich"
	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/panel"
	"github.com/medpanel/provider-geocoder/internal/store"
)

var (
	reviewInput  string
	reviewOutput string
	reviewTier   string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Export the providers awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("review"); err != nil {
			return err
		}
		return runReviewExport(cmd.Context())
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewInput, "input", "", "panel to take provider names and addresses from")
	reviewCmd.Flags().StringVar(&reviewOutput, "output", "", "review export path (default from config)")
	reviewCmd.Flags().StringVar(&reviewTier, "tier", "", "only export records of this tier")
	rootCmd.AddCommand(reviewCmd)
}

func runReviewExport(ctx context.Context) error {
	log := zap.L().With(zap.String("command", "review"))

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	recs, err := loadAllRecords(ctx, st, store.Filter{
		Status: model.StatusNeedsReview,
		Tier:   model.Tier(reviewTier),
	})
	if err != nil {
		return err
	}

	raws := map[string]model.RawAddressRecord{}
	if reviewInput != "" {
		p, err := panel.Load(reviewInput)
		if err != nil {
			return err
		}
		raws = rawsByID(p.Records)
	}

	path := firstNonEmpty(reviewOutput, cfg.Output.ReviewPath)
	if err := enrich.NewWriter(enrich.WithH3Resolution(cfg.Output.H3Resolution)).WriteReview(path, recs, raws); err != nil {
		return err
	}

	log.Info("review export written", zap.String("path", path), zap.Int("records", len(recs)))
	fmt.Printf("Exported %d providers awaiting review to %s\n", len(recs), path)
	return nil
}
