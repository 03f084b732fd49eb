// Package cost estimates the API spend of a geocoding run.
package cost

import "sort"

// Rates holds per-backend pricing in USD per thousand requests.
type Rates map[string]float64

// LineItem is the spend of one backend.
type LineItem struct {
	Backend  string  `json:"backend"`
	Requests int     `json:"requests"`
	CostUSD  float64 `json:"cost_usd"`
}

// Calculator computes costs for geocoder usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Nil rates use
// DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Calculator{rates: rates}
}

// Requests computes the cost of n requests to backend. Unknown backends are
// free.
func (c *Calculator) Requests(backend string, n int) float64 {
	return (float64(n) / 1000) * c.rates[backend]
}

// Breakdown prices usage (requests by backend), sorted by backend name.
func (c *Calculator) Breakdown(usage map[string]int) []LineItem {
	items := make([]LineItem, 0, len(usage))
	for backend, n := range usage {
		items = append(items, LineItem{
			Backend:  backend,
			Requests: n,
			CostUSD:  c.Requests(backend, n),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Backend < items[j].Backend })
	return items
}

// Total returns the summed cost of usage.
func (c *Calculator) Total(usage map[string]int) float64 {
	var total float64
	for backend, n := range usage {
		total += c.Requests(backend, n)
	}
	return total
}

// DefaultRates returns the list prices of the supported backends.
func DefaultRates() Rates {
	return Rates{
		"google":    5.00,
		"nominatim": 0,
	}
}
