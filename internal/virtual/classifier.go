// Package virtual detects providers without a physical location.
package virtual

import (
	"regexp"
	"strings"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/normalize"
)

// Classifier flags virtual and online providers.
type Classifier struct {
	keywordRe *regexp.Regexp
}

// New builds a Classifier matching any of keywords as whole words,
// case-insensitively.
func New(keywords []string) *Classifier {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(normalize.Fold(k)); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	c := &Classifier{}
	if len(quoted) > 0 {
		c.keywordRe = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return c
}

// Classify reports whether the provider is virtual: the explicit flag is set,
// or the normalised address text contains a virtual keyword.
func (c *Classifier) Classify(raw model.RawAddressRecord, n model.NormalizedAddress) bool {
	if raw.VirtualFlag {
		return true
	}
	if c.keywordRe == nil {
		return false
	}
	return c.keywordRe.MatchString(n.Street) || c.keywordRe.MatchString(n.Address)
}

// Apply returns n with IsVirtual set. A virtual provider's canonical address
// is its website, or empty when none is known.
func (c *Classifier) Apply(raw model.RawAddressRecord, n model.NormalizedAddress) model.NormalizedAddress {
	n.IsVirtual = c.Classify(raw, n)
	if n.IsVirtual {
		n.Address = strings.TrimSpace(raw.Website)
	}
	return n
}

// ParseFlag interprets the free-text virtual/online column.
func ParseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true", "1", "x", "virtual", "online", "telehealth":
		return true
	default:
		return false
	}
}
