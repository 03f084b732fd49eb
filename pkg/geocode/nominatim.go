package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/medpanel/provider-geocoder/internal/resilience"
)

const (
	nominatimSearchURL = "https://nominatim.openstreetmap.org/search"
	defaultUserAgent   = "medical_providers_panel"
)

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	PlaceRank   int    `json:"place_rank"`
	Class       string `json:"class"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

// Nominatim geocodes through an OpenStreetMap Nominatim instance. The public
// instance allows one request per second, which is the default limit.
type Nominatim struct {
	httpClient   *http.Client
	baseURL      string
	userAgent    string
	email        string
	countryCodes string
	limiter      *rate.Limiter
	now          func() time.Time
}

// NominatimOption configures a Nominatim backend.
type NominatimOption func(*Nominatim)

// WithNominatimHTTPClient sets the HTTP client used for requests.
func WithNominatimHTTPClient(hc *http.Client) NominatimOption {
	return func(n *Nominatim) {
		n.httpClient = hc
	}
}

// WithNominatimURL points the backend at a self-hosted instance.
func WithNominatimURL(u string) NominatimOption {
	return func(n *Nominatim) {
		if u != "" {
			n.baseURL = u
		}
	}
}

// WithNominatimUserAgent sets the User-Agent header required by the usage policy.
func WithNominatimUserAgent(ua string) NominatimOption {
	return func(n *Nominatim) {
		if ua != "" {
			n.userAgent = ua
		}
	}
}

// WithNominatimEmail sets the contact address sent with each request.
func WithNominatimEmail(email string) NominatimOption {
	return func(n *Nominatim) {
		n.email = email
	}
}

// WithNominatimCountryCodes restricts results to a comma-separated list of
// ISO 3166-1 alpha-2 codes.
func WithNominatimCountryCodes(codes string) NominatimOption {
	return func(n *Nominatim) {
		n.countryCodes = codes
	}
}

// WithNominatimRateLimit sets the requests-per-second limit.
func WithNominatimRateLimit(rps float64) NominatimOption {
	return func(n *Nominatim) {
		n.limiter = newLimiter(rps)
	}
}

// NewNominatim creates a Nominatim backend.
func NewNominatim(opts ...NominatimOption) *Nominatim {
	n := &Nominatim{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    nominatimSearchURL,
		userAgent:  defaultUserAgent,
		limiter:    rate.NewLimiter(1, 1),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements Geocoder.
func (n *Nominatim) Name() string { return "nominatim" }

// Geocode implements Geocoder.
func (n *Nominatim) Geocode(ctx context.Context, q Query) (*Result, error) {
	if err := n.wait(ctx); err != nil {
		return nil, err
	}
	return n.lookup(ctx, q)
}

func (n *Nominatim) wait(ctx context.Context) error {
	return eris.Wrap(n.limiter.Wait(ctx), "geocode: nominatim rate limit")
}

func (n *Nominatim) lookup(ctx context.Context, q Query) (*Result, error) {
	params := url.Values{
		"q":      {q.Text},
		"format": {"json"},
		"limit":  {"1"},
	}
	if n.email != "" {
		params.Set("email", n.email)
	}
	if n.countryCodes != "" {
		params.Set("countrycodes", n.countryCodes)
	}

	reqURL := n.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim read body")
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	if len(places) == 0 {
		return noMatch(n.Name(), n.now()), nil
	}

	p := places[0]
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: nominatim parse lat %q", p.Lat)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: nominatim parse lon %q", p.Lon)
	}

	return &Result{
		Latitude:     lat,
		Longitude:    lon,
		Matched:      true,
		Quality:      placeRankToQuality(p.PlaceRank),
		MatchQuality: fmt.Sprintf("place_rank=%d %s/%s", p.PlaceRank, p.Class, p.Type),
		Source:       n.Name(),
		Timestamp:    n.now(),
	}, nil
}

// placeRankToQuality maps Nominatim's place_rank onto our quality taxonomy.
// 30 is a building or POI, 26-29 a street or named feature along one, 16-25
// a town, suburb or village, anything coarser a county or region.
func placeRankToQuality(rank int) string {
	switch {
	case rank >= 30:
		return QualityRooftop
	case rank >= 26:
		return QualityRange
	case rank >= 16:
		return QualityCentroid
	default:
		return QualityApproximate
	}
}
