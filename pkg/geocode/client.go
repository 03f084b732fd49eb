package geocode

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/resilience"
)

const defaultTimeout = 10 * time.Second

// Client guards a single backend with a per-query timeout, retry of transient
// failures, a circuit breaker and an optional result cache. It satisfies
// Geocoder, and every error it returns matches ErrUnavailable.
type Client struct {
	backend  Geocoder
	timeout  time.Duration
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
	cache    Cache
	cacheTTL time.Duration
	metrics  *Metrics
	log      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the deadline for a single backend call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets the retry policy for transient backend errors.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithBreaker guards the backend with cb. While cb is open the Client answers
// with an unavailable error without touching the network.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithCache enables result caching. ttl <= 0 keeps entries forever.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithMetrics records request outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient wraps backend.
func NewClient(backend Geocoder, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		timeout: defaultTimeout,
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger(backend.Name(), "geocode")
	}
	c.log = zap.L().With(zap.String("component", "geocode"), zap.String("backend", backend.Name()))
	return c
}

// Name implements Geocoder.
func (c *Client) Name() string { return c.backend.Name() }

// Geocode implements Geocoder.
func (c *Client) Geocode(ctx context.Context, q Query) (*Result, error) {
	name := c.backend.Name()
	key := CacheKey(name, q)

	if c.cache != nil {
		cached, ok, err := c.cache.GetGeocode(ctx, key, c.cacheTTL)
		if err != nil {
			c.log.Warn("geocode: cache lookup failed", zap.Error(err))
		} else if ok {
			c.metrics.cacheHit(name)
			c.log.Debug("geocode cache hit", zap.String("key", key[:12]), zap.Bool("matched", cached.Matched))
			return cached, nil
		}
	}

	start := time.Now()
	result, err := c.call(ctx, q)
	elapsed := time.Since(start)

	if err != nil {
		outcome := OutcomeUnavailable
		if errors.Is(err, resilience.ErrCircuitOpen) {
			outcome = OutcomeCircuitOpen
		}
		c.metrics.observe(name, outcome, elapsed)
		return nil, &UnavailableError{Backend: name, Err: err}
	}
	if result == nil {
		result = noMatch(name, time.Now())
	}
	if result.Source == "" {
		result.Source = name
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	outcome := OutcomeNoMatch
	if result.Matched {
		outcome = OutcomeMatched
	}
	c.metrics.observe(name, outcome, elapsed)

	if c.cache != nil {
		if err := c.cache.PutGeocode(ctx, key, result); err != nil {
			c.log.Warn("geocode: cache store failed", zap.Error(err))
		}
	}
	return result, nil
}

// throttled is a backend whose rate limit can be waited on apart from the
// request itself.
type throttled interface {
	wait(ctx context.Context) error
	lookup(ctx context.Context, q Query) (*Result, error)
}

// call runs one guarded lookup. Throttled backends wait for their limiter on
// the caller's context so the per-query timeout covers only the request.
func (c *Client) call(ctx context.Context, q Query) (*Result, error) {
	tb, isThrottled := c.backend.(throttled)

	once := func(ctx context.Context) (*Result, error) {
		if !isThrottled {
			qctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return c.backend.Geocode(qctx, q)
		}
		if err := tb.wait(ctx); err != nil {
			return nil, err
		}
		qctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return tb.lookup(qctx, q)
	}

	attempt := func(ctx context.Context) (*Result, error) {
		return resilience.DoVal(ctx, c.retry, once)
	}
	if c.breaker == nil {
		return attempt(ctx)
	}
	return resilience.ExecuteVal(ctx, c.breaker, attempt)
}
