package threat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"soctriage/core"
	"soctriage/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("soctriage/threat")

// ClientConfig tunes the live enrichment client
type ClientConfig struct {
	// Workers bounds the number of outstanding backend lookups
	Workers int
	// RequestsPerMinute paces backend calls; 0 disables pacing
	RequestsPerMinute int
	// RetryBackoff is the fixed wait before the single retry of a transient failure
	RetryBackoff time.Duration
	// RateLimitPause is the cool-down used when the backend gives no Retry-After
	RateLimitPause time.Duration
	// MaxRateLimitWaits bounds how often one lookup may be re-issued after a rate limit
	MaxRateLimitWaits int
	// LookupTimeout bounds a single backend call
	LookupTimeout time.Duration
	Breaker       core.BreakerConfig
}

// DefaultClientConfig returns the defaults used when nothing is configured
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Workers:           4,
		RequestsPerMinute: 0,
		RetryBackoff:      500 * time.Millisecond,
		RateLimitPause:    60 * time.Second,
		MaxRateLimitWaits: 3,
		LookupTimeout:     10 * time.Second,
		Breaker:           core.DefaultBreakerConfig(),
	}
}

// Client enriches indicators against a live backend. Lookups run on a bounded
// worker pool shared by every call; successful results are cached.
type Client struct {
	backend Backend
	cache   ResultCache
	pool    *core.WorkerPool
	flight  singleflight.Group
	limiter *rate.Limiter
	breaker *core.CircuitBreaker
	config  ClientConfig
	logger  *zap.SugaredLogger

	mu          sync.Mutex
	pausedUntil time.Time

	// lifetime bounds shared lookups, which outlive the caller that started them
	lifetime context.Context
	stop     context.CancelFunc

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	closeOnce sync.Once
}

// NewClient creates and starts a live enrichment client. cache may be nil.
func NewClient(backend Backend, cache ResultCache, config ClientConfig, logger *zap.SugaredLogger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("enrichment backend is required")
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.MaxRateLimitWaits < 0 {
		config.MaxRateLimitWaits = 0
	}

	breaker, err := core.NewCircuitBreaker(config.Breaker)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1)
	}

	pool := core.NewWorkerPoolWithContext(context.Background(), config.Workers, config.Workers, "enrichment", logger)
	if err := pool.Start(); err != nil {
		return nil, fmt.Errorf("failed to start enrichment workers: %w", err)
	}

	lifetime, stop := context.WithCancel(context.Background())

	return &Client{
		backend:  backend,
		cache:    cache,
		pool:     pool,
		limiter:  limiter,
		breaker:  breaker,
		config:   config,
		logger:   logger,
		lifetime: lifetime,
		stop:     stop,
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

// Enrich returns the enrichment result for one indicator. It never returns an
// error; failures are reported in the result.
func (c *Client) Enrich(ctx context.Context, ind core.Indicator) Result {
	key := ind.Key()

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warnw("Cache read failed, treating as miss", "key", key, "error", err)
		} else if ok {
			cached.Indicator = ind
			cached.Cached = true
			return cached
		}
	}

	// A joined caller must not inherit the deadline of the caller that started
	// the lookup, so the shared lookup runs detached and each caller waits on
	// its own ctx below.
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sharedLookupTimeout())
		defer cancel()
		stop := context.AfterFunc(c.lifetime, cancel)
		defer stop()
		return c.submit(lctx, ind), nil
	})

	select {
	case res := <-ch:
		r := res.Val.(Result)
		r.Indicator = ind
		return r
	case <-ctx.Done():
		return c.abandoned(ind, 0)
	}
}

// EnrichAll enriches a batch concurrently and returns results keyed by
// Indicator.Key. Indicators still outstanding when ctx ends are reported as
// deadline_exceeded failures.
func (c *Client) EnrichAll(ctx context.Context, indicators []core.Indicator) map[string]Result {
	results := make(map[string]Result, len(indicators))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ind := range indicators {
		key := ind.Key()
		mu.Lock()
		_, dup := results[key]
		if !dup {
			results[key] = c.abandoned(ind, 0)
		}
		mu.Unlock()
		if dup {
			continue
		}

		wg.Add(1)
		go func(ind core.Indicator) {
			defer wg.Done()
			r := c.Enrich(ctx, ind)
			mu.Lock()
			results[ind.Key()] = r
			mu.Unlock()
		}(ind)
	}

	wg.Wait()
	return results
}

// Close stops the worker pool and releases the cache
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stop()
		c.pool.Stop()
		if c.cache != nil {
			err = c.cache.Close()
		}
	})
	return err
}

// submit runs one lookup on the worker pool and waits for it or for ctx
func (c *Client) submit(ctx context.Context, ind core.Indicator) Result {
	done := make(chan Result, 1)
	err := c.pool.SubmitContext(ctx, func() {
		done <- c.tracedLookup(ctx, ind)
	})
	if err != nil {
		if ctx.Err() != nil {
			return c.abandoned(ind, 0)
		}
		return NewFailure(ind, fmt.Errorf("%w: %v", ErrPermanent, err), c.backend.Name())
	}

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return c.abandoned(ind, 0)
	}
}

// tracedLookup wraps lookup in a span carrying the outcome
func (c *Client) tracedLookup(ctx context.Context, ind core.Indicator) Result {
	ctx, span := tracer.Start(ctx, "threat.lookup", trace.WithAttributes(
		attribute.String("indicator.key", ind.Key()),
		attribute.String("enrichment.provider", c.backend.Name())))
	defer span.End()

	r := c.lookup(ctx, ind)
	span.SetAttributes(attribute.Int("enrichment.attempts", r.Attempts))
	if !r.Succeeded() {
		span.SetStatus(codes.Error, string(r.ErrorKind))
	}
	return r
}

// lookup calls the backend with one retry for transient failures and
// re-issues rate-limited calls after the cool-down
func (c *Client) lookup(ctx context.Context, ind core.Indicator) Result {
	provider := c.backend.Name()
	attempts := 0
	waits := 0

	for {
		if err := c.waitForPause(ctx); err != nil {
			return c.abandoned(ind, attempts)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return c.abandoned(ind, attempts)
			}
		}
		if err := c.breaker.Allow(); err != nil {
			metrics.EnrichmentLookups.WithLabelValues(provider, "circuit_open").Inc()
			r := NewFailure(ind, &BackendError{Provider: provider, Kind: ErrorKindPermanent, Err: err}, provider)
			r.Attempts = attempts
			return r
		}

		attempts++
		rep, err := c.call(ctx, ind)
		if err == nil {
			c.breaker.RecordSuccess()
			metrics.EnrichmentLookups.WithLabelValues(provider, "success").Inc()
			r := NewSuccess(ind, rep, provider)
			r.Attempts = attempts
			c.store(ctx, r)
			return r
		}

		kind := ErrorKindOf(err)
		if kind == ErrorKindTransient {
			c.breaker.RecordFailure()
		} else {
			// the backend answered, so it is reachable
			c.breaker.RecordSuccess()
		}
		if ctx.Err() != nil {
			return c.abandoned(ind, attempts)
		}
		metrics.EnrichmentLookups.WithLabelValues(provider, string(kind)).Inc()

		switch kind {
		case ErrorKindRateLimited:
			// not a failed attempt
			attempts--
			waits++
			if waits > c.config.MaxRateLimitWaits {
				c.logger.Warnw("Giving up on rate-limited lookup",
					"indicator", ind.Key(),
					"waits", waits-1)
				r := NewFailure(ind, fmt.Errorf("%w: still rate limited after %d cool-downs: %v", ErrPermanent, waits-1, err), provider)
				r.Attempts = attempts
				return r
			}
			var be *BackendError
			var retryAfter time.Duration
			if errors.As(err, &be) {
				retryAfter = be.RetryAfter
			}
			c.pause(retryAfter)
			continue

		case ErrorKindTransient:
			if attempts < 2 {
				c.logger.Debugw("Retrying transient lookup failure",
					"indicator", ind.Key(),
					"backoff", c.config.RetryBackoff,
					"error", err)
				if err := c.sleep(ctx, c.config.RetryBackoff); err != nil {
					return c.abandoned(ind, attempts)
				}
				continue
			}
			c.logger.Warnw("Lookup failed after retry",
				"indicator", ind.Key(),
				"attempts", attempts,
				"error", err)
			r := NewFailure(ind, fmt.Errorf("%w after %d attempts: %v", ErrPermanent, attempts, err), provider)
			r.Attempts = attempts
			return r

		default:
			c.logger.Warnw("Lookup failed",
				"indicator", ind.Key(),
				"error", err)
			r := NewFailure(ind, err, provider)
			r.ErrorKind = ErrorKindPermanent
			r.Attempts = attempts
			return r
		}
	}
}

// call performs a single backend request under the per-lookup timeout
func (c *Client) call(ctx context.Context, ind core.Indicator) (Reputation, error) {
	callCtx := ctx
	if c.config.LookupTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.LookupTimeout)
		defer cancel()
	}

	start := c.now()
	rep, err := c.backend.Lookup(callCtx, ind.Kind, ind.Value)
	metrics.EnrichmentDuration.WithLabelValues(c.backend.Name()).Observe(c.now().Sub(start).Seconds())

	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ErrorKindOf(err) != ErrorKindTransient {
		err = &BackendError{Provider: c.backend.Name(), Kind: ErrorKindTransient, Err: err}
	}
	return rep, err
}

func (c *Client) store(ctx context.Context, r Result) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, r.Indicator.Key(), r); err != nil {
		c.logger.Warnw("Failed to cache enrichment result", "key", r.Indicator.Key(), "error", err)
	}
}

// pause starts or extends the client-wide cool-down. In-flight calls are not interrupted.
func (c *Client) pause(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = c.config.RateLimitPause
	}
	until := c.now().Add(retryAfter)

	c.mu.Lock()
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
	c.mu.Unlock()

	metrics.RateLimitPauses.WithLabelValues(c.backend.Name()).Inc()
	c.logger.Warnw("Backend rate limited, pausing lookups",
		"provider", c.backend.Name(),
		"pause", retryAfter)
}

// waitForPause blocks until any active cool-down has elapsed
func (c *Client) waitForPause(ctx context.Context) error {
	for {
		c.mu.Lock()
		until := c.pausedUntil
		c.mu.Unlock()

		wait := until.Sub(c.now())
		if wait <= 0 {
			return nil
		}
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// sharedLookupTimeout bounds a detached lookup: two calls with the retry
// backoff, plus every permitted rate-limit cool-down
func (c *Client) sharedLookupTimeout() time.Duration {
	lookup := c.config.LookupTimeout
	if lookup <= 0 {
		lookup = DefaultClientConfig().LookupTimeout
	}
	waits := time.Duration(c.config.MaxRateLimitWaits + 1)
	return 2*lookup + c.config.RetryBackoff + waits*c.config.RateLimitPause
}

func (c *Client) abandoned(ind core.Indicator, attempts int) Result {
	r := NewFailure(ind, ErrDeadlineExceeded, c.backend.Name())
	r.Attempts = attempts
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
