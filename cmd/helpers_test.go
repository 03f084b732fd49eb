package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/medpanel/provider-geocoder/internal/config"
	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/store"
)

// setTestConfig points the global config at a temp SQLite database and the
// given Nominatim URL.
func setTestConfig(t *testing.T, nominatimURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(dir, "test.db")},
		Geocode: config.GeocodeConfig{
			Primary:     "nominatim",
			CountryBias: "Kenya",
			TimeoutSecs: 5,
			Nominatim: config.NominatimConfig{
				URL:       nominatimURL,
				UserAgent: "provider-geocoder-test",
			},
			Cache: config.CacheConfig{Enabled: true, TTLDays: 30},
			Retry: config.RetryConfig{MaxAttempts: 1},
		},
		Review: config.ReviewConfig{HighPrioritySpecialties: []string{"Oncology"}},
		Batch:  config.BatchConfig{Concurrency: 2, MaxConsecutiveOutages: 25},
		Output: config.OutputConfig{
			EnrichedPath: filepath.Join(dir, "enriched.xlsx"),
			ReviewPath:   filepath.Join(dir, "review.xlsx"),
			GeoJSONPath:  filepath.Join(dir, "providers.geojson"),
			SummaryPath:  filepath.Join(dir, "summary.md"),
			H3Resolution: 8,
		},
		Server: config.ServerConfig{Port: 8080},
	}
	return dir
}

// nominatimServer answers "Moi Avenue" queries at building level and the
// bare "Kisumu, Kenya" query at town level. Everything else has no match.
func nominatimServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(q, "Moi Avenue"):
			_ = json.NewEncoder(w).Encode([]map[string]any{{
				"lat": "-1.2841", "lon": "36.8155", "place_rank": 30, "class": "building", "type": "yes",
			}})
		case q == "Kisumu, Kenya":
			_ = json.NewEncoder(w).Encode([]map[string]any{{
				"lat": "-0.0917", "lon": "34.7680", "place_rank": 16, "class": "place", "type": "city",
			}})
		default:
			_, _ = w.Write([]byte("[]"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func writePanel(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Providers")
	require.NoError(t, err)
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	require.NoError(t, f.Save(path))
}

var samplePanel = [][]string{
	{"ID", "Name", "Physical Address", "Town", "County", "Specialty", "Status"},
	{"P-1", "City Clinic", "123 Moi Ave", "Nairobi", "", "General Practice", "Active"},
	{"P-2", "Lakeside Oncology", "Unknown Plaza", "Kisumu", "", "Oncology", "Active"},
	{"P-3", "Nowhere Dispensary", "", "", "", "General Practice", "Active"},
}

var seededAt = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func seedStore(t *testing.T, recs ...model.ResolutionRecord) store.Store {
	t.Helper()
	st, err := initStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	for _, rec := range recs {
		require.NoError(t, st.SaveResolution(context.Background(), rec))
	}
	return st
}
