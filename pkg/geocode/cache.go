package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Cache stores geocode results, including non-matches, by CacheKey.
type Cache interface {
	// GetGeocode returns the cached result for key. Entries older than maxAge
	// are ignored; maxAge <= 0 disables expiry.
	GetGeocode(ctx context.Context, key string, maxAge time.Duration) (*Result, bool, error)

	// PutGeocode stores r under key, replacing any previous entry.
	PutGeocode(ctx context.Context, key string, r *Result) error
}

// CacheKey returns SHA-256 hex of backend, precision and the normalised query
// text. Precision is part of the key so a town-level answer is never reused
// for a street-level question with the same text.
func CacheKey(backend string, q Query) string {
	normalized := fmt.Sprintf("%s|%s|%s",
		strings.ToLower(backend),
		q.Precision,
		strings.ToLower(strings.TrimSpace(q.Text)),
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}
