package resolve

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/pkg/geocode"
)

// State is a state of the per-provider resolution machine.
type State string

const (
	StatePending    State = "PENDING"
	StateAttempting State = "ATTEMPTING"
	StateResolved   State = "RESOLVED"
	StateExhausted  State = "EXHAUSTED"
)

// pass is one fixed step of the fallback ladder. query returns the query
// text, or "" when the pass has no input and must be skipped.
type pass struct {
	number    int
	precision geocode.Precision
	query     func(n model.NormalizedAddress) string
	skip      string
	tier      func(r *geocode.Result) model.Tier
}

// machine walks passes in order and stops at the first one that returns
// coordinates. It is not safe for concurrent use; each provider gets its own.
type machine struct {
	state    State
	next     int
	passes   []pass
	cascade  *geocode.Cascade
	now      func() time.Time
	log      *zap.Logger
	attempts []model.Attempt

	result *geocode.Result
	won    *pass
}

func (m *machine) transition(to State) {
	m.log.Debug("resolution state change",
		zap.String("from", string(m.state)),
		zap.String("to", string(to)),
		zap.Int("pass", m.next),
	)
	m.state = to
}

// run drives the machine to a terminal state. It returns ctx.Err() if the
// context ends before a terminal state is reached.
func (m *machine) run(ctx context.Context, n model.NormalizedAddress) error {
	for m.state != StateResolved && m.state != StateExhausted {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch m.state {
		case StatePending:
			m.transition(StateAttempting)

		case StateAttempting:
			if m.next >= len(m.passes) {
				m.transition(StateExhausted)
				continue
			}
			p := m.passes[m.next]
			m.next++

			text := p.query(n)
			if text == "" {
				m.attempts = append(m.attempts, model.Attempt{
					Pass:      p.number,
					Precision: p.precision,
					Outcome:   model.AttemptSkipped,
					Error:     p.skip,
					At:        m.now(),
				})
				continue
			}

			q := geocode.Query{Text: text, Precision: p.precision}
			result, tried := m.cascade.Geocode(ctx, q)
			for _, a := range tried {
				m.attempts = append(m.attempts, toAttempt(p, q, a, m.now()))
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if result != nil {
				m.result = result
				m.won = &p
				m.transition(StateResolved)
			}
		}
	}
	return nil
}

// tier returns the confidence tier of a resolved machine.
func (m *machine) tier() model.Tier {
	if m.state != StateResolved {
		return model.TierFailed
	}
	return m.won.tier(m.result)
}

// outcome classifies a terminal machine. Exhaustion where every backend call
// failed with an error is reported as an outage rather than a miss.
func (m *machine) outcome() model.Outcome {
	if m.state == StateResolved {
		return model.OutcomeResolved
	}
	calls, unavailable := 0, 0
	for _, a := range m.attempts {
		switch a.Outcome {
		case model.AttemptSkipped:
		case model.AttemptUnavailable:
			calls++
			unavailable++
		default:
			calls++
		}
	}
	if calls > 0 && calls == unavailable {
		return model.OutcomeBackendOutage
	}
	return model.OutcomeExhausted
}

func toAttempt(p pass, q geocode.Query, a geocode.Attempt, now time.Time) model.Attempt {
	at := model.Attempt{
		Pass:      p.number,
		Precision: p.precision,
		Query:     q.Text,
		Backend:   a.Backend,
		At:        now,
	}
	switch {
	case a.Err != nil:
		at.Outcome = model.AttemptUnavailable
		at.Error = a.Err.Error()
	case a.Matched():
		at.Outcome = model.AttemptMatched
		at.Quality = a.Result.Quality
		at.MatchQuality = a.Result.MatchQuality
		at.Latitude = a.Result.Latitude
		at.Longitude = a.Result.Longitude
	default:
		at.Outcome = model.AttemptNoMatch
		at.Error = geocode.ErrNoMatch.Error()
	}
	if a.Result != nil && !a.Result.Timestamp.IsZero() {
		at.At = a.Result.Timestamp
	}
	return at
}

// joinQuery joins non-empty parts with ", ", splitting composite parts on
// commas and dropping case-insensitive repeats, then appends suffix (the
// country bias) unless it is already present.
func joinQuery(suffix string, parts ...string) string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, s)
	}
	for _, p := range parts {
		for _, piece := range strings.Split(p, ",") {
			add(piece)
		}
	}
	if len(out) == 0 {
		return ""
	}
	add(suffix)
	return strings.Join(out, ", ")
}
