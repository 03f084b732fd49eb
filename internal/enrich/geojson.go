package enrich

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/medpanel/provider-geocoder/internal/model"
)

// Marker classes for the map layer.
const (
	MarkerPhysical = "physical"
	MarkerCentroid = "centroid"
	MarkerInactive = "inactive"
)

// Marker returns the map class of a provider, or "" when it is not plotted.
// Inactive providers are always shown greyed out; virtual, failed and
// country-proxy records never appear on the map.
func Marker(raw model.RawAddressRecord, rec model.ResolutionRecord) string {
	if _, _, ok := rec.Coordinates(); !ok {
		return ""
	}
	switch {
	case !raw.IsActive():
		return MarkerInactive
	case rec.Tier == model.TierStreet:
		return MarkerPhysical
	case rec.Tier == model.TierTownCentroid:
		return MarkerCentroid
	default:
		return ""
	}
}

// FeatureCollection builds the map layer: one point feature per plotted
// provider, carrying the popup fields.
func FeatureCollection(raws []model.RawAddressRecord, records map[string]model.ResolutionRecord) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, raw := range raws {
		rec, ok := records[raw.ProviderID]
		if !ok {
			continue
		}
		marker := Marker(raw, rec)
		if marker == "" {
			continue
		}
		lat, lon, _ := rec.Coordinates()
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       raw.ProviderID,
			Geometry: geom.NewPointFlat(geom.XY, []float64{lon, lat}),
			Properties: map[string]any{
				"name":       raw.Name,
				"specialty":  raw.Specialty,
				"phone":      raw.Phone,
				"email":      raw.Email,
				"address":    rec.Address,
				"confidence": string(rec.Tier),
				"source":     rec.Source,
				"status":     string(rec.Status),
				"marker":     marker,
			},
		})
	}
	return fc
}

// WriteGeoJSON writes FeatureCollection to path.
func WriteGeoJSON(path string, raws []model.RawAddressRecord, records map[string]model.ResolutionRecord) (int, error) {
	fc := FeatureCollection(raws, records)
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return 0, eris.Wrap(err, "enrich: marshal geojson")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, eris.Wrapf(err, "enrich: write %s", path)
	}
	return len(fc.Features), nil
}
