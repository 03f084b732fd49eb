// Package normalize canonicalises raw provider address text before geocoding.
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/medpanel/provider-geocoder/internal/model"
)

var (
	multiSpaceRe = regexp.MustCompile(`\s+`)

	// "2nd Floor", "Ground Floor", "3rd flr".
	ordinalFloorRe = regexp.MustCompile(`(?i)\b(?:\d+(?:st|nd|rd|th)?|ground|first|second|third|fourth|fifth|top|upper|lower|basement)\s+(?:floor|flr)\b\.?`)

	// "P.O. Box 1234-00100".
	poBoxRe = regexp.MustCompile(`(?i)\bp\.?\s*o\.?\s*box\s*\d+(?:\s*-\s*\d+)?`)
)

// Normalizer canonicalises RawAddressRecords using injected Tables. It holds
// no mutable state and is safe for concurrent use.
type Normalizer struct {
	suffixes     map[string]string
	towns        map[string]string
	canonTowns   map[string]bool
	counties     map[string]string
	relWords     map[string]bool
	descriptorRe *regexp.Regexp
	relationalRe *regexp.Regexp
}

// New builds a Normalizer from t.
func New(t Tables) *Normalizer {
	n := &Normalizer{
		suffixes:   foldKeys(t.Suffixes),
		towns:      foldKeys(t.Towns),
		canonTowns: make(map[string]bool, len(t.Towns)),
		counties:   foldKeys(t.Counties),
		relWords:   make(map[string]bool),
	}
	for _, v := range t.Towns {
		n.canonTowns[key(v)] = true
	}

	if len(t.Descriptors) > 0 {
		// Keyword, separator, then an id that starts with a digit or is a
		// single letter. Building names ("Unity House") never match.
		n.descriptorRe = regexp.MustCompile(`(?i)\b(?:` + alternation(t.Descriptors) +
			`)(?:\.\s*|\s+)(?:no\.?\s*)?#?\s*(?:\d[\w/-]*|[a-z])\b`)
	}
	if len(t.Relational) > 0 {
		n.relationalRe = regexp.MustCompile(`(?i)(?:^|\s)(?:` + alternation(t.Relational) + `)\.?(?:\s+|$)`)
		for _, r := range t.Relational {
			if f := strings.Fields(r); len(f) > 0 {
				n.relWords[key(f[0])] = true
			}
		}
	}
	return n
}

// Normalize returns the canonical form of raw. It never fails: unusable input
// yields empty fields. The result depends only on raw and the tables, and
// feeding the normalised street back in yields the same street.
func (n *Normalizer) Normalize(raw model.RawAddressRecord) model.NormalizedAddress {
	out := model.NormalizedAddress{
		Town:   n.canonicalTown(fold(raw.Town)),
		County: n.canonicalCounty(fold(raw.County)),
	}

	var segments []string
	var landmark, addrTown string
	for _, seg := range strings.Split(fold(raw.PhysicalAddress), ",") {
		seg = cleanSegment(seg)
		if seg == "" {
			continue
		}
		seg = n.expandSuffixes(seg)
		seg = cleanSegment(n.stripDescriptors(seg))
		if seg == "" {
			continue
		}
		pieces, lm := n.splitRelational(seg)
		for i, p := range pieces {
			pieces[i] = n.expandTown(p)
			if addrTown == "" && n.canonTowns[key(pieces[i])] {
				addrTown = pieces[i]
			}
		}
		if landmark == "" && lm != "" {
			landmark = n.expandTown(lm)
		}
		segments = append(segments, pieces...)
	}

	out.Street = strings.Join(dedupe(segments), ", ")
	if out.Town == "" {
		out.Town = addrTown
	}

	if lm := strings.TrimSpace(raw.Landmark); lm != "" {
		pieces, ref := n.splitRelational(cleanSegment(fold(lm)))
		switch {
		case ref != "":
			out.Landmark = n.expandTown(ref)
		case len(pieces) > 0:
			for i, p := range pieces {
				pieces[i] = n.expandTown(p)
			}
			out.Landmark = strings.Join(pieces, ", ")
		}
	} else {
		out.Landmark = landmark
	}

	out.Address = out.Street
	if out.Address == "" {
		out.Address = out.Town
	}
	return out
}

// expandSuffixes expands an abbreviated road type when it ends the segment
// or is followed by a relational phrase. The first token is never expanded
// so "St Luke's" keeps its meaning.
func (n *Normalizer) expandSuffixes(seg string) string {
	tokens := strings.Fields(seg)
	for i := 1; i < len(tokens); i++ {
		last := i == len(tokens)-1
		if !last && !n.relWords[key(tokens[i+1])] {
			continue
		}
		if full, ok := n.suffixes[key(tokens[i])]; ok {
			tokens[i] = full
		}
	}
	return strings.Join(tokens, " ")
}

func (n *Normalizer) stripDescriptors(seg string) string {
	seg = poBoxRe.ReplaceAllString(seg, " ")
	seg = ordinalFloorRe.ReplaceAllString(seg, " ")
	if n.descriptorRe != nil {
		seg = n.descriptorRe.ReplaceAllString(seg, " ")
	}
	return seg
}

// splitRelational rewrites "X near Y" into the pieces "X" and "Y" and reports
// Y as the landmark. A phrase with nothing after it is dropped.
func (n *Normalizer) splitRelational(seg string) (pieces []string, landmark string) {
	if n.relationalRe == nil {
		if seg != "" {
			pieces = append(pieces, seg)
		}
		return pieces, ""
	}

	referenced := false
	for {
		loc := n.relationalRe.FindStringIndex(seg)
		head := seg
		if loc != nil {
			head = seg[:loc[0]]
		}
		if head = cleanSegment(head); head != "" {
			pieces = append(pieces, head)
			if referenced && landmark == "" {
				landmark = head
			}
		}
		if loc == nil {
			return pieces, landmark
		}
		referenced = true
		seg = seg[loc[1]:]
		if cleanSegment(seg) == "" {
			return pieces, landmark
		}
	}
}

// expandTown replaces a piece that is exactly a known town short form.
func (n *Normalizer) expandTown(piece string) string {
	if town, ok := n.towns[key(piece)]; ok {
		return town
	}
	return piece
}

func (n *Normalizer) canonicalTown(town string) string {
	town = cleanSegment(town)
	if canon, ok := n.towns[key(town)]; ok {
		return canon
	}
	return town
}

func (n *Normalizer) canonicalCounty(county string) string {
	county = cleanSegment(county)
	if fields := strings.Fields(county); len(fields) > 1 && strings.EqualFold(fields[len(fields)-1], "county") {
		county = strings.Join(fields[:len(fields)-1], " ")
	}
	if canon, ok := n.counties[key(county)]; ok {
		return canon
	}
	return county
}

var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold removes diacritics and collapses whitespace. Case is preserved.
func fold(s string) string {
	if s == "" {
		return ""
	}
	out, _, err := transform.String(foldChain, s)
	if err != nil {
		out = s
	}
	return multiSpaceRe.ReplaceAllString(strings.TrimSpace(out), " ")
}

// Fold is the accent folding applied to every address field, exported for
// callers that match against normalised text.
func Fold(s string) string { return fold(s) }

func key(s string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(s), "."))
}

func cleanSegment(s string) string {
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.Trim(s, " .;:-/")
}

func foldKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[key(fold(k))] = v
	}
	return out
}

// alternation quotes words for a regexp alternation, longest first so
// "next to" wins over a shorter prefix.
func alternation(words []string) string {
	sorted := append([]string(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, 0, len(sorted))
	for _, w := range sorted {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`))
	}
	return strings.Join(quoted, "|")
}

func dedupe(parts []string) []string {
	seen := make(map[string]bool, len(parts))
	out := parts[:0]
	for _, p := range parts {
		k := strings.ToLower(p)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	return out
}
