package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/resolve"
	"github.com/medpanel/provider-geocoder/internal/store"
)

func TestApplyCorrections(t *testing.T) {
	setTestConfig(t, "")
	st := seedStore(t,
		model.ResolutionRecord{ProviderID: "P-1", Tier: model.TierFailed, Status: model.StatusNeedsReview,
			Outcome: model.OutcomeExhausted, IsPhysical: true, ResolvedAt: seededAt},
	)

	applied, failed := applyCorrections(context.Background(), st, correctionResolver(), []model.Correction{
		{ProviderID: "P-1", Latitude: -1.29, Longitude: 36.82, Tier: model.TierTownCentroid},
		{ProviderID: "P-1", Latitude: -1.29, Longitude: 36.82, Tier: model.TierStreet},
		{ProviderID: "P-2", Latitude: -1.29, Longitude: 36.82, Tier: model.TierStreet},
	})
	assert.Equal(t, 1, applied)
	assert.Equal(t, 2, failed)

	got, err := st.GetResolution(context.Background(), "P-1")
	require.NoError(t, err)
	assert.Equal(t, model.TierTownCentroid, got.Tier)
	assert.Equal(t, model.StatusManuallyCorrected, got.Status)
	require.Len(t, got.Audit, 1)
}

func TestApplyCorrection_Errors(t *testing.T) {
	setTestConfig(t, "")
	st := seedStore(t)
	r := correctionResolver()

	_, err := applyCorrection(context.Background(), st, r, model.Correction{ProviderID: "P-1", Latitude: 95, Tier: model.TierStreet})
	assert.ErrorIs(t, err, resolve.ErrInvalidCorrection)

	_, err = applyCorrection(context.Background(), st, r, model.Correction{ProviderID: "P-1", Tier: model.TierStreet})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// staleStore serves the record as it was before any correction, the view a
// request racing another correction would have read.
type staleStore struct {
	store.Store
	prior model.ResolutionRecord
}

func (s staleStore) GetResolution(context.Context, string) (*model.ResolutionRecord, error) {
	rec := s.prior
	return &rec, nil
}

func TestApplyCorrection_StaleReadDoesNotOverwrite(t *testing.T) {
	setTestConfig(t, "")
	prior := model.ResolutionRecord{ProviderID: "P-1", Tier: model.TierFailed, Status: model.StatusNeedsReview,
		Outcome: model.OutcomeExhausted, IsPhysical: true, ResolvedAt: seededAt}
	st := seedStore(t, prior)
	r := correctionResolver()

	_, err := applyCorrection(context.Background(), st, r,
		model.Correction{ProviderID: "P-1", Latitude: -1.29, Longitude: 36.82, Tier: model.TierTownCentroid})
	require.NoError(t, err)

	_, err = applyCorrection(context.Background(), staleStore{Store: st, prior: prior}, r,
		model.Correction{ProviderID: "P-1", Latitude: -0.1, Longitude: 34.75, Tier: model.TierStreet})
	require.ErrorIs(t, err, resolve.ErrAlreadyCorrected)

	got, err := st.GetResolution(context.Background(), "P-1")
	require.NoError(t, err)
	assert.Equal(t, model.TierTownCentroid, got.Tier)
	lat, _, ok := got.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, -1.29, lat, 1e-9)
	assert.Len(t, got.Audit, 1)
}

func TestApplyCorrection_ConcurrentOnlyOneWins(t *testing.T) {
	setTestConfig(t, "")
	st := seedStore(t, model.ResolutionRecord{ProviderID: "P-1", Tier: model.TierFailed, Status: model.StatusNeedsReview,
		Outcome: model.OutcomeExhausted, IsPhysical: true, ResolvedAt: seededAt})
	r := correctionResolver()

	const workers = 6
	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := model.Correction{ProviderID: "P-1", Latitude: -1 - float64(i)/100, Longitude: 36.8, Tier: model.TierStreet}
			if _, err := applyCorrection(context.Background(), st, r, c); err == nil {
				won.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	got, err := st.GetResolution(context.Background(), "P-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusManuallyCorrected, got.Status)
	assert.Len(t, got.Audit, 1)
}

func TestCorrectionsFromFlags(t *testing.T) {
	t.Cleanup(func() { correctFile, correctProvider = "", "" })

	correctFile, correctProvider = "", ""
	_, err := correctionsFromFlags()
	require.Error(t, err)

	correctProvider, correctLat, correctLon, correctTier = "P-7", -4.05, 39.66, "TOWN_CENTROID"
	got, err := correctionsFromFlags()
	require.NoError(t, err)
	assert.Equal(t, []model.Correction{{ProviderID: "P-7", Latitude: -4.05, Longitude: 39.66, Tier: model.TierTownCentroid}}, got)

	path := filepath.Join(t.TempDir(), "corrections.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"provider_id":"P-1","lat":-1.3,"lon":36.8,"tier":"STREET"}]`), 0o600))
	correctFile = path
	got, err = correctionsFromFlags()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "P-1", got[0].ProviderID)

	require.NoError(t, os.WriteFile(path, []byte(`[{"provider_id":"P-1","latitude":-1.3}]`), 0o600))
	_, err = correctionsFromFlags()
	require.Error(t, err)
}
