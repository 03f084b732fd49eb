package review

import (
	"strings"

	"github.com/medpanel/provider-geocoder/internal/model"
)

// Policy decides whether a provider is operationally high priority. A
// high-priority provider resolved only to a town centroid is sent for review.
type Policy interface {
	HighPriority(rec model.ResolutionRecord) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(rec model.ResolutionRecord) bool

// HighPriority implements Policy.
func (f PolicyFunc) HighPriority(rec model.ResolutionRecord) bool { return f(rec) }

// Never treats no provider as high priority.
var Never Policy = PolicyFunc(func(model.ResolutionRecord) bool { return false })

// ProviderIDs marks the listed providers as high priority.
func ProviderIDs(ids ...string) Policy {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = true
		}
	}
	return PolicyFunc(func(rec model.ResolutionRecord) bool { return set[rec.ProviderID] })
}

// Specialties marks providers whose specialty is one of names. index maps
// provider id to specialty; comparison ignores case and surrounding space.
func Specialties(index map[string]string, names ...string) Policy {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			set[n] = true
		}
	}
	return PolicyFunc(func(rec model.ResolutionRecord) bool {
		return set[strings.ToLower(strings.TrimSpace(index[rec.ProviderID]))]
	})
}

// SpecialtyIndex builds the provider id to specialty map Specialties needs.
func SpecialtyIndex(raws []model.RawAddressRecord) map[string]string {
	index := make(map[string]string, len(raws))
	for _, raw := range raws {
		if raw.Specialty != "" {
			index[raw.ProviderID] = raw.Specialty
		}
	}
	return index
}

// Any is high priority when any of policies is.
func Any(policies ...Policy) Policy {
	return PolicyFunc(func(rec model.ResolutionRecord) bool {
		for _, p := range policies {
			if p != nil && p.HighPriority(rec) {
				return true
			}
		}
		return false
	})
}
