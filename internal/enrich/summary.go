package enrich

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/medpanel/provider-geocoder/internal/model"
)

const unknownCounty = "Unknown"

// CountyRow is one line of the county summary.
type CountyRow struct {
	County       string
	Total        int
	Active       int
	Inactive     int
	Street       int
	TownCentroid int
	CountryProxy int
	Failed       int
}

// CountySummary groups providers by county. county maps a provider to its
// county name; nil uses the trimmed County column. Rows are sorted by county.
func CountySummary(raws []model.RawAddressRecord, records map[string]model.ResolutionRecord, county func(model.RawAddressRecord) string) []CountyRow {
	if county == nil {
		county = func(r model.RawAddressRecord) string { return strings.TrimSpace(r.County) }
	}

	byCounty := make(map[string]*CountyRow)
	for _, raw := range raws {
		name := county(raw)
		if name == "" {
			name = unknownCounty
		}
		row, ok := byCounty[name]
		if !ok {
			row = &CountyRow{County: name}
			byCounty[name] = row
		}
		row.Total++
		if raw.IsActive() {
			row.Active++
		} else {
			row.Inactive++
		}

		rec, ok := records[raw.ProviderID]
		if !ok {
			continue
		}
		switch rec.Tier {
		case model.TierStreet:
			row.Street++
		case model.TierTownCentroid:
			row.TownCentroid++
		case model.TierCountryProxy:
			row.CountryProxy++
		case model.TierFailed:
			row.Failed++
		}
	}

	out := make([]CountyRow, 0, len(byCounty))
	for _, row := range byCounty {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].County < out[j].County })
	return out
}

// WriteSummaryMarkdown renders rows as the county distribution report.
func WriteSummaryMarkdown(w io.Writer, rows []CountyRow) error {
	total := 0
	for _, r := range rows {
		total += r.Total
	}

	var b strings.Builder
	b.WriteString("# Provider Distribution by County\n\n")
	b.WriteString("This section summarizes the distribution of medical providers across counties, " +
		"based on the latest geocoded provider panel. Active providers represent facilities " +
		"currently operational, while inactive providers are retained for historical and " +
		"planning reference.\n\n")

	b.WriteString("**Key notes:**\n")
	fmt.Fprintf(&b, "- Total providers in dataset: %d\n", total)
	fmt.Fprintf(&b, "- Counties covered: %d\n", len(rows))
	b.WriteString("- Counts are based on provider records, not facility capacity.\n")
	b.WriteString("- Geocoding confidence columns count providers by resolution tier.\n\n")

	b.WriteString("## County-level Summary\n\n")
	b.WriteString("| County | Total Providers | Active Providers | Inactive Providers | Street | Town Centroid | Country Proxy | Failed |\n")
	b.WriteString("|:--|--:|--:|--:|--:|--:|--:|--:|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d | %d | %d |\n",
			escapeCell(r.County), r.Total, r.Active, r.Inactive, r.Street, r.TownCentroid, r.CountryProxy, r.Failed)
	}

	_, err := io.WriteString(w, b.String())
	return eris.Wrap(err, "enrich: write summary")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
