package geocode

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Attempt records what one backend answered for one query.
type Attempt struct {
	Backend string
	Result  *Result // nil when Err is set
	Err     error
}

// Matched reports whether the attempt produced coordinates.
func (a Attempt) Matched() bool { return a.Err == nil && a.Result != nil && a.Result.Matched }

// Cascade tries geocoders in order until one matches.
type Cascade struct {
	geocoders []Geocoder
}

// NewCascade creates a Cascade over geocoders, primary first.
func NewCascade(geocoders ...Geocoder) *Cascade {
	return &Cascade{geocoders: geocoders}
}

// Backends returns the backend names in the order they are tried.
func (c *Cascade) Backends() []string {
	names := make([]string, len(c.geocoders))
	for i, g := range c.geocoders {
		names[i] = g.Name()
	}
	return names
}

// Geocode sends q to each geocoder in turn and returns the first match, or nil
// when none matched. Every backend tried is reported in attempts, in order.
// Backend errors never stop the cascade; a cancelled ctx does.
func (c *Cascade) Geocode(ctx context.Context, q Query) (*Result, []Attempt) {
	attempts := make([]Attempt, 0, len(c.geocoders))
	for _, g := range c.geocoders {
		if ctx.Err() != nil {
			break
		}
		result, err := g.Geocode(ctx, q)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			err = &UnavailableError{Backend: g.Name(), Err: err}
		}
		attempts = append(attempts, Attempt{Backend: g.Name(), Result: result, Err: err})
		if err != nil {
			zap.L().Debug("cascade: backend error, trying next",
				zap.String("backend", g.Name()),
				zap.String("precision", string(q.Precision)),
				zap.Error(err),
			)
			continue
		}
		if result != nil && result.Matched {
			return result, attempts
		}
		zap.L().Debug("cascade: no match, trying next",
			zap.String("backend", g.Name()),
			zap.String("precision", string(q.Precision)),
		)
	}
	return nil, attempts
}
