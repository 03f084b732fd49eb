package geocode

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded by Metrics.
const (
	OutcomeMatched     = "matched"
	OutcomeNoMatch     = "no_match"
	OutcomeUnavailable = "unavailable"
	OutcomeCircuitOpen = "circuit_open"
)

// Metrics counts geocoder requests per backend. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	cacheHits *prometheus.CounterVec

	mu    sync.Mutex
	usage map[string]int
}

// NewMetrics creates the geocoder collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocoder_requests_total",
			Help: "Geocoder requests by backend and outcome.",
		}, []string{"backend", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocoder_request_duration_seconds",
			Help:    "Geocoder request latency including retries.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"backend"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocoder_cache_hits_total",
			Help: "Geocoder answers served from cache.",
		}, []string{"backend"}),
		usage: make(map[string]int),
	}
	reg.MustRegister(m.requests, m.latency, m.cacheHits)
	return m
}

func (m *Metrics) observe(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(backend, outcome).Inc()
	m.latency.WithLabelValues(backend).Observe(d.Seconds())
	if outcome != OutcomeCircuitOpen {
		m.mu.Lock()
		m.usage[backend]++
		m.mu.Unlock()
	}
}

// Usage returns the number of requests that reached each backend. Cache hits
// and calls refused by an open circuit are not counted.
func (m *Metrics) Usage() map[string]int {
	out := make(map[string]int)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.usage {
		out[k] = v
	}
	return out
}

func (m *Metrics) cacheHit(backend string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(backend).Inc()
}
