package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/medpanel/provider-geocoder/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// Google geocodes through the Google Geocoding API.
type Google struct {
	httpClient *http.Client
	key        string
	region     string
	limiter    *rate.Limiter
	now        func() time.Time
}

// GoogleOption configures a Google backend.
type GoogleOption func(*Google)

// WithGoogleHTTPClient sets the HTTP client used for requests.
func WithGoogleHTTPClient(hc *http.Client) GoogleOption {
	return func(g *Google) {
		g.httpClient = hc
	}
}

// WithGoogleRegion biases results toward a ccTLD region code, e.g. "ke".
func WithGoogleRegion(region string) GoogleOption {
	return func(g *Google) {
		g.region = region
	}
}

// WithGoogleRateLimit sets the requests-per-second limit.
func WithGoogleRateLimit(rps float64) GoogleOption {
	return func(g *Google) {
		g.limiter = newLimiter(rps)
	}
}

// NewGoogle creates a Google backend for the given API key.
func NewGoogle(key string, opts ...GoogleOption) *Google {
	g := &Google{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		key:        key,
		limiter:    rate.NewLimiter(10, 10),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Geocoder.
func (g *Google) Name() string { return "google" }

// Geocode implements Geocoder.
func (g *Google) Geocode(ctx context.Context, q Query) (*Result, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.lookup(ctx, q)
}

func (g *Google) wait(ctx context.Context) error {
	return eris.Wrap(g.limiter.Wait(ctx), "geocode: google rate limit")
}

func (g *Google) lookup(ctx context.Context, q Query) (*Result, error) {
	if g.key == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	params := url.Values{
		"address": {q.Text},
		"key":     {g.key},
	}
	if g.region != "" {
		params.Set("region", g.region)
	}

	reqURL := googleGeocodeURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: google returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch googleResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return noMatch(g.Name(), g.now()), nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(
			eris.Errorf("geocode: google status %s", googleResp.Status), http.StatusTooManyRequests)
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", googleResp.Status, googleResp.ErrorMessage)
	}
	if len(googleResp.Results) == 0 {
		return noMatch(g.Name(), g.now()), nil
	}

	result := googleResp.Results[0]
	return &Result{
		Latitude:     result.Geometry.Location.Lat,
		Longitude:    result.Geometry.Location.Lng,
		Matched:      true,
		Quality:      googleLocationTypeToQuality(result.Geometry.LocationType),
		MatchQuality: result.Geometry.LocationType,
		Source:       g.Name(),
		Timestamp:    g.now(),
	}, nil
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return QualityRooftop
	case "RANGE_INTERPOLATED":
		return QualityRange
	case "GEOMETRIC_CENTER":
		return QualityCentroid
	default:
		return QualityApproximate
	}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
