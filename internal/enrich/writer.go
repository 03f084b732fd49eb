// Package enrich writes resolution results back out: the enriched provider
// sheet, the review export, a GeoJSON layer and the county summary.
package enrich

import (
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/panel"
)

// Columns appended to the original sheet, in order.
var Columns = []string{
	"Latitude", "Longitude", "Geo Confidence", "Geo Source", "Geocoded At",
	"Is Physical", "Review Status", "Geo Note", "H3 Cell",
}

const defaultH3Resolution = 8

// Writer produces the output spreadsheets.
type Writer struct {
	h3Resolution int
}

// Option configures a Writer.
type Option func(*Writer)

// WithH3Resolution sets the resolution of the H3 Cell column (0-15). A
// negative value leaves the column empty.
func WithH3Resolution(res int) Option {
	return func(w *Writer) {
		w.h3Resolution = res
	}
}

// NewWriter creates a Writer.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{h3Resolution: defaultH3Resolution}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteEnriched writes every panel row with its original columns followed by
// Columns. Rows whose provider has no record get empty resolution cells.
func (w *Writer) WriteEnriched(path string, p *panel.Panel, records map[string]model.ResolutionRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Providers")
	if err != nil {
		return eris.Wrap(err, "enrich: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range p.Headers {
		header.AddCell().SetString(h)
	}
	for _, h := range Columns {
		header.AddCell().SetString(h)
	}

	missing := 0
	for i, raw := range p.Records {
		row := sheet.AddRow()
		orig := p.Rows[i]
		for j := range p.Headers {
			cell := row.AddCell()
			if j < len(orig) {
				cell.SetString(orig[j])
			}
		}
		rec, ok := records[raw.ProviderID]
		if !ok {
			missing++
			continue
		}
		w.appendResolution(row, rec)
	}

	if missing > 0 {
		zap.L().Warn("enrich: providers without a resolution record", zap.Int("missing", missing))
	}
	return eris.Wrapf(f.Save(path), "enrich: save %s", path)
}

// WriteReview writes the records awaiting review with their provider details.
func (w *Writer) WriteReview(path string, records []model.ResolutionRecord, raws map[string]model.RawAddressRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Needs Review")
	if err != nil {
		return eris.Wrap(err, "enrich: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range append([]string{"Provider ID", "Name", "Physical Address", "Town", "County", "Outcome", "Attempts"}, Columns...) {
		header.AddCell().SetString(h)
	}

	for _, rec := range records {
		raw := raws[rec.ProviderID]
		row := sheet.AddRow()
		for _, v := range []string{rec.ProviderID, raw.Name, raw.PhysicalAddress, raw.Town, raw.County, string(rec.Outcome)} {
			row.AddCell().SetString(v)
		}
		row.AddCell().SetInt(len(rec.Attempts))
		w.appendResolution(row, rec)
	}
	return eris.Wrapf(f.Save(path), "enrich: save %s", path)
}

func (w *Writer) appendResolution(row *xlsx.Row, rec model.ResolutionRecord) {
	lat, lon, ok := rec.Coordinates()
	if ok {
		row.AddCell().SetFloat(lat)
		row.AddCell().SetFloat(lon)
	} else {
		row.AddCell()
		row.AddCell()
	}
	row.AddCell().SetString(string(rec.Tier))
	row.AddCell().SetString(rec.Source)
	row.AddCell().SetString(rec.ResolvedAt.UTC().Format(time.RFC3339))
	row.AddCell().SetString(strconv.FormatBool(rec.IsPhysical))
	row.AddCell().SetString(string(rec.Status))
	row.AddCell().SetString(rec.Note)
	row.AddCell().SetString(w.cell(rec))
}

func (w *Writer) cell(rec model.ResolutionRecord) string {
	if w.h3Resolution < 0 {
		return ""
	}
	c, err := H3Cell(rec, w.h3Resolution)
	if err != nil {
		zap.L().Debug("enrich: h3 cell", zap.String("provider_id", rec.ProviderID), zap.Error(err))
		return ""
	}
	return c
}

// H3Cell returns the H3 index of rec's point at res, or "" when rec has no
// coordinates.
func H3Cell(rec model.ResolutionRecord, res int) (string, error) {
	lat, lon, ok := rec.Coordinates()
	if !ok {
		return "", nil
	}
	c, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if err != nil {
		return "", eris.Wrapf(err, "enrich: h3 cell at resolution %d", res)
	}
	return c.String(), nil
}
