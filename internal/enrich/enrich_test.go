package enrich

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/panel"
)

var resolvedAt = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func fixture(t *testing.T) (*panel.Panel, map[string]model.ResolutionRecord) {
	t.Helper()
	p, err := panel.Map([][]string{
		{"ID", "Name", "Town", "County", "Status", "Contract Ref"},
		{"P-1", "City Clinic", "Nairobi", "Nairobi", "Active", "C-1"},
		{"P-2", "Lakeside", "Kisumu", "Kisumu", "Active", ""},
		{"P-3", "Old Dispensary", "Kisumu", "Kisumu", "Inactive", ""},
		{"P-4", "TeleCare", "", "", "Active", ""},
	})
	require.NoError(t, err)

	records := map[string]model.ResolutionRecord{
		"P-1": {ProviderID: "P-1", Address: "Moi Avenue, Nairobi", Latitude: model.Float(-1.2841), Longitude: model.Float(36.8155),
			Tier: model.TierStreet, Source: "google", ResolvedAt: resolvedAt, IsPhysical: true, Status: model.StatusAccepted},
		"P-2": {ProviderID: "P-2", Latitude: model.Float(-0.0917), Longitude: model.Float(34.7680),
			Tier: model.TierTownCentroid, Source: "nominatim", ResolvedAt: resolvedAt, IsPhysical: true, Status: model.StatusAccepted},
		"P-3": {ProviderID: "P-3", Latitude: model.Float(-0.0917), Longitude: model.Float(34.7680),
			Tier: model.TierTownCentroid, Source: "google", ResolvedAt: resolvedAt, IsPhysical: true, Status: model.StatusAccepted},
		"P-4": {ProviderID: "P-4", Tier: model.TierFailed, ResolvedAt: resolvedAt, Status: model.StatusNeedsReview,
			Outcome: model.OutcomeNoLocationHint, Note: "virtual provider without location hint"},
	}
	return p, records
}

func TestWriteEnriched(t *testing.T) {
	p, records := fixture(t)
	delete(records, "P-3")
	path := filepath.Join(t.TempDir(), "enriched.xlsx")

	require.NoError(t, NewWriter().WriteEnriched(path, p, records))

	rows := readSheet(t, path)
	require.Len(t, rows, 5)

	header := rows[0]
	require.Len(t, header, 6+len(Columns))
	assert.Equal(t, "Contract Ref", header[5])
	assert.Equal(t, "Latitude", header[6])
	assert.Equal(t, "H3 Cell", header[len(header)-1])

	first := rows[1]
	assert.Equal(t, "P-1", cellAt(first, 0))
	assert.Equal(t, "C-1", cellAt(first, 5))
	lat, err := strconv.ParseFloat(cellAt(first, 6), 64)
	require.NoError(t, err)
	assert.InDelta(t, -1.2841, lat, 1e-9)
	assert.Equal(t, "STREET", cellAt(first, 8))
	assert.Equal(t, "google", cellAt(first, 9))
	assert.Equal(t, "2025-03-04T10:00:00Z", cellAt(first, 10))
	assert.Equal(t, "true", cellAt(first, 11))
	assert.Equal(t, "ACCEPTED", cellAt(first, 12))
	assert.Len(t, cellAt(first, 14), 15)

	failed := rows[4]
	assert.Empty(t, cellAt(failed, 6))
	assert.Equal(t, "FAILED", cellAt(failed, 8))
	assert.Empty(t, cellAt(failed, 14))

	assert.Equal(t, "P-3", cellAt(rows[3], 0))
	assert.Empty(t, cellAt(rows[3], 8))
}

func readSheet(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, f.Sheets)

	var out [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.String()
		}
		out = append(out, cells)
	}
	return out
}

func cellAt(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func TestWriteReview(t *testing.T) {
	p, records := fixture(t)
	raws := make(map[string]model.RawAddressRecord)
	for _, r := range p.Records {
		raws[r.ProviderID] = r
	}
	path := filepath.Join(t.TempDir(), "review.xlsx")

	require.NoError(t, NewWriter(WithH3Resolution(-1)).WriteReview(path, []model.ResolutionRecord{records["P-4"]}, raws))

	rows := readSheet(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "Provider ID", rows[0][0])
	assert.Equal(t, "P-4", cellAt(rows[1], 0))
	assert.Equal(t, "TeleCare", cellAt(rows[1], 1))
	assert.Equal(t, "no_location_hint", cellAt(rows[1], 5))
	assert.Equal(t, "0", cellAt(rows[1], 6))
}

func TestH3Cell(t *testing.T) {
	_, records := fixture(t)

	cell, err := H3Cell(records["P-1"], 8)
	require.NoError(t, err)
	assert.Len(t, cell, 15)

	coarse, err := H3Cell(records["P-1"], 5)
	require.NoError(t, err)
	assert.NotEqual(t, cell, coarse)

	none, err := H3Cell(records["P-4"], 8)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = H3Cell(records["P-1"], 16)
	require.Error(t, err)
}

func TestMarker(t *testing.T) {
	p, records := fixture(t)
	want := []string{MarkerPhysical, MarkerCentroid, MarkerInactive, ""}
	for i, raw := range p.Records {
		assert.Equal(t, want[i], Marker(raw, records[raw.ProviderID]), raw.ProviderID)
	}

	proxy := model.ResolutionRecord{Latitude: model.Float(0.02), Longitude: model.Float(37.9), Tier: model.TierCountryProxy}
	assert.Empty(t, Marker(model.RawAddressRecord{}, proxy))
}

func TestWriteGeoJSON(t *testing.T) {
	p, records := fixture(t)
	path := filepath.Join(t.TempDir(), "providers.geojson")

	n, err := WriteGeoJSON(path, p.Records, records)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 3)
	assert.Equal(t, "P-1", doc.Features[0].ID)
	assert.Equal(t, "Point", doc.Features[0].Geometry.Type)
	assert.InDeltaSlice(t, []float64{36.8155, -1.2841}, doc.Features[0].Geometry.Coordinates, 1e-9)
	assert.Equal(t, "physical", doc.Features[0].Properties["marker"])
	assert.Equal(t, "City Clinic", doc.Features[0].Properties["name"])
}

func TestCountySummary(t *testing.T) {
	p, records := fixture(t)

	rows := CountySummary(p.Records, records, nil)
	require.Len(t, rows, 3)
	assert.Equal(t, CountyRow{County: "Kisumu", Total: 2, Active: 1, Inactive: 1, TownCentroid: 2}, rows[0])
	assert.Equal(t, CountyRow{County: "Nairobi", Total: 1, Active: 1, Street: 1}, rows[1])
	assert.Equal(t, CountyRow{County: "Unknown", Total: 1, Active: 1, Failed: 1}, rows[2])

	var buf bytes.Buffer
	require.NoError(t, WriteSummaryMarkdown(&buf, rows))
	out := buf.String()
	assert.Contains(t, out, "# Provider Distribution by County")
	assert.Contains(t, out, "- Total providers in dataset: 4")
	assert.Contains(t, out, "- Counties covered: 3")
	assert.Contains(t, out, "| Kisumu | 2 | 1 | 1 | 0 | 2 | 0 | 0 |")
}
