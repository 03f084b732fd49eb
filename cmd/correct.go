package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/resolve"
	"github.com/medpanel/provider-geocoder/internal/store"
)

var (
	correctProvider string
	correctLat      float64
	correctLon      float64
	correctTier     string
	correctFile     string
)

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Apply manual coordinate corrections",
	Long:  "Overrides the automated result of one provider (flags) or many (--file, a JSON array of {provider_id, lat, lon, tier}). The automated result stays in the record's audit trail.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("correct"); err != nil {
			return err
		}

		corrections, err := correctionsFromFlags()
		if err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		applied, failed := applyCorrections(cmd.Context(), st, correctionResolver(), corrections)
		fmt.Printf("Corrections applied: %d, rejected: %d\n", applied, failed)
		if failed > 0 {
			return eris.Errorf("%d corrections rejected", failed)
		}
		return nil
	},
}

func init() {
	f := correctCmd.Flags()
	f.StringVar(&correctProvider, "provider", "", "provider id")
	f.Float64Var(&correctLat, "lat", 0, "latitude")
	f.Float64Var(&correctLon, "lon", 0, "longitude")
	f.StringVar(&correctTier, "tier", string(model.TierStreet), "confidence tier of the corrected point")
	f.StringVar(&correctFile, "file", "", "JSON file with an array of corrections")
	rootCmd.AddCommand(correctCmd)
}

func correctionsFromFlags() ([]model.Correction, error) {
	if correctFile != "" {
		return readCorrections(correctFile)
	}
	if correctProvider == "" {
		return nil, eris.New("either --provider or --file is required")
	}
	return []model.Correction{{
		ProviderID: correctProvider,
		Latitude:   correctLat,
		Longitude:  correctLon,
		Tier:       model.Tier(correctTier),
	}}, nil
}

func readCorrections(path string) ([]model.Correction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var out []model.Correction
	if err := dec.Decode(&out); err != nil {
		return nil, eris.Wrapf(err, "decode %s", path)
	}
	return out, nil
}

func applyCorrections(ctx context.Context, st store.Store, r *resolve.Resolver, corrections []model.Correction) (applied, failed int) {
	log := zap.L().With(zap.String("command", "correct"))
	for _, c := range corrections {
		if _, err := applyCorrection(ctx, st, r, c); err != nil {
			log.Error("correction rejected", zap.String("provider_id", c.ProviderID), zap.Error(err))
			failed++
			continue
		}
		applied++
	}
	return applied, failed
}

// applyCorrection loads the stored record, applies c and saves the result.
// The save is conditional, so a correction racing another one for the same
// provider fails with ErrAlreadyCorrected instead of overwriting it.
func applyCorrection(ctx context.Context, st store.Store, r *resolve.Resolver, c model.Correction) (model.ResolutionRecord, error) {
	if err := resolve.ValidateCorrection(c); err != nil {
		return model.ResolutionRecord{}, err
	}
	prior, err := st.GetResolution(ctx, c.ProviderID)
	if err != nil {
		return model.ResolutionRecord{}, err
	}
	next, err := r.Correct(*prior, c)
	if err != nil {
		return model.ResolutionRecord{}, err
	}
	if err := st.SaveCorrection(ctx, next); err != nil {
		if errors.Is(err, store.ErrCorrected) {
			return model.ResolutionRecord{}, eris.Wrapf(resolve.ErrAlreadyCorrected, "provider %s", c.ProviderID)
		}
		return model.ResolutionRecord{}, eris.Wrapf(err, "save correction for %s", c.ProviderID)
	}
	return next, nil
}
