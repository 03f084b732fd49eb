package resolve

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/medpanel/provider-geocoder/internal/normalize"
	"github.com/medpanel/provider-geocoder/internal/virtual"
	"github.com/medpanel/provider-geocoder/pkg/geocode"
)

var fixedNow = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

// fakeGeocoder answers queries from a table keyed by query text. Unknown
// queries are a no-match; down makes every call fail.
type fakeGeocoder struct {
	name    string
	matches map[string]geocode.Result
	down    bool

	mu    sync.Mutex
	calls []geocode.Query
}

func newFake(name string) *fakeGeocoder {
	return &fakeGeocoder{name: name, matches: make(map[string]geocode.Result)}
}

func (f *fakeGeocoder) on(text string, lat, lon float64, quality string) *fakeGeocoder {
	f.matches[text] = geocode.Result{Latitude: lat, Longitude: lon, Matched: true, Quality: quality, Source: f.name}
	return f
}

func (f *fakeGeocoder) Name() string { return f.name }

func (f *fakeGeocoder) Geocode(_ context.Context, q geocode.Query) (*geocode.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()

	if f.down {
		return nil, errors.New("connection refused")
	}
	if r, ok := f.matches[q.Text]; ok {
		return &r, nil
	}
	return &geocode.Result{Source: f.name}, nil
}

func (f *fakeGeocoder) queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, q := range f.calls {
		out[i] = q.Text
	}
	return out
}

func newTestResolver(backends ...geocode.Geocoder) *Resolver {
	tables := normalize.DefaultTables()
	return New(
		normalize.New(tables),
		virtual.New(tables.VirtualKeywords),
		geocode.NewCascade(backends...),
		WithRunID("run-test"),
		WithClock(func() time.Time { return fixedNow }),
	)
}
