package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpanel/provider-geocoder/internal/resilience"
)

func newTestNominatim(t *testing.T, handler http.HandlerFunc, opts ...NominatimOption) *Nominatim {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	n := NewNominatim(opts...)
	n.httpClient = redirectClient(t, srv.URL)
	n.limiter = unlimited()
	return n
}

func TestNominatimGeocode_Match(t *testing.T) {
	var req *http.Request
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		req = r
		_, _ = io.WriteString(w, `[{
			"lat": "-1.2864", "lon": "36.8172", "place_rank": 30,
			"class": "amenity", "type": "townhall",
			"display_name": "City Hall, Nairobi, Kenya"
		}]`)
	}, WithNominatimEmail("ops@example.org"), WithNominatimCountryCodes("ke"))

	result, err := n.Geocode(context.Background(), Query{
		Text: "City Hall, Nairobi, Kenya", Precision: PrecisionTownLandmark,
	})
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.InDelta(t, -1.2864, result.Latitude, 0.0001)
	assert.InDelta(t, 36.8172, result.Longitude, 0.0001)
	assert.Equal(t, "nominatim", result.Source)
	assert.Equal(t, QualityRooftop, result.Quality)
	assert.Equal(t, "place_rank=30 amenity/townhall", result.MatchQuality)

	require.NotNil(t, req)
	assert.Equal(t, defaultUserAgent, req.Header.Get("User-Agent"))
	assert.Equal(t, "City Hall, Nairobi, Kenya", req.URL.Query().Get("q"))
	assert.Equal(t, "ops@example.org", req.URL.Query().Get("email"))
	assert.Equal(t, "ke", req.URL.Query().Get("countrycodes"))
	assert.Equal(t, "1", req.URL.Query().Get("limit"))
}

func TestNominatimGeocode_Empty(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	result, err := n.Geocode(context.Background(), Query{Text: "Atlantis"})
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestNominatimGeocode_TooManyRequests(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := n.Geocode(context.Background(), Query{Text: "Nairobi"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestNominatimGeocode_BadCoordinates(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"lat": "north", "lon": "36.8", "place_rank": 16}]`)
	})

	_, err := n.Geocode(context.Background(), Query{Text: "Nairobi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse lat")
}

func TestNominatimCustomURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "panel-test", r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `[{"lat": "0.5143", "lon": "35.2698", "place_rank": 16, "class": "place", "type": "city"}]`)
	}))
	defer srv.Close()

	n := NewNominatim(WithNominatimURL(srv.URL+"/search"), WithNominatimUserAgent("panel-test"), WithNominatimRateLimit(0))
	result, err := n.Geocode(context.Background(), Query{Text: "Eldoret, Uasin Gishu, Kenya"})
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, QualityCentroid, result.Quality)
}

func TestPlaceRankToQuality(t *testing.T) {
	tests := []struct {
		rank int
		want string
	}{
		{30, QualityRooftop},
		{28, QualityRange},
		{26, QualityRange},
		{25, QualityCentroid},
		{16, QualityCentroid},
		{12, QualityApproximate},
		{4, QualityApproximate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, placeRankToQuality(tt.rank), "rank %d", tt.rank)
	}
}

func TestIsStreetLevel(t *testing.T) {
	assert.True(t, IsStreetLevel(QualityRooftop))
	assert.True(t, IsStreetLevel(QualityRange))
	assert.False(t, IsStreetLevel(QualityCentroid))
	assert.False(t, IsStreetLevel(QualityApproximate))
	assert.False(t, IsStreetLevel(""))
}
