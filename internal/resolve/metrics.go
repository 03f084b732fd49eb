package resolve

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medpanel/provider-geocoder/internal/model"
)

// Metrics counts resolution results. A nil *Metrics records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	outages     prometheus.Counter
}

// NewMetrics creates the resolver collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_resolutions_total",
			Help: "Provider resolutions by confidence tier and outcome.",
		}, []string{"tier", "outcome", "physical"}),
		outages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provider_resolution_systemic_outages_total",
			Help: "Batch runs aborted because every backend was unreachable.",
		}),
	}
	reg.MustRegister(m.resolutions, m.outages)
	return m
}

func (m *Metrics) observe(rec model.ResolutionRecord) {
	if m == nil {
		return
	}
	physical := "false"
	if rec.IsPhysical {
		physical = "true"
	}
	m.resolutions.WithLabelValues(string(rec.Tier), string(rec.Outcome), physical).Inc()
}

func (m *Metrics) systemicOutage() {
	if m == nil {
		return
	}
	m.outages.Inc()
}
