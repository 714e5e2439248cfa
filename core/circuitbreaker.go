package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker
type BreakerState string

const (
	// BreakerClosed lets calls through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects calls until the cool-off elapses
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets a limited number of probe calls through
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrCircuitOpen is returned by Allow while the breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when the half-open probe budget is used up
	ErrTooManyProbes = errors.New("too many half-open probes")
	// ErrInvalidBreakerConfig wraps configuration validation failures
	ErrInvalidBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration
	// MaxProbes is how many calls may be in flight while half-open
	MaxProbes uint32
}

// Validate checks the configuration
func (c BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.OpenTimeout <= 0 {
		return errors.New("OpenTimeout must be greater than 0")
	}
	if c.MaxProbes == 0 {
		return errors.New("MaxProbes must be greater than 0")
	}
	return nil
}

// DefaultBreakerConfig is tuned for a slow external lookup API
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		OpenTimeout: 60 * time.Second,
		MaxProbes:   1,
	}
}

// CircuitBreaker stops calling a backend that keeps failing
type CircuitBreaker struct {
	config   BreakerConfig
	state    BreakerState
	failures uint32
	openedAt time.Time
	probes   uint32
	now      func() time.Time
	mu       sync.Mutex
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config BreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBreakerConfig, err)
	}
	return &CircuitBreaker{
		config: config,
		state:  BreakerClosed,
		now:    time.Now,
	}, nil
}

// Allow reports whether a call may proceed. Every allowed call must be followed
// by RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return ErrCircuitOpen
		}
		cb.state = BreakerHalfOpen
		cb.probes = 1
		return nil
	case BreakerHalfOpen:
		if cb.probes >= cb.config.MaxProbes {
			return ErrTooManyProbes
		}
		cb.probes++
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the circuit and clears the failure count
func (cb *CircuitBreaker) RecordSuccess() (oldState, newState BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probes = 0
	return oldState, cb.state
}

// RecordFailure counts a failure; a failed probe reopens the circuit immediately
func (cb *CircuitBreaker) RecordFailure() (oldState, newState BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.failures++

	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.trip()
		}
	case BreakerHalfOpen:
		cb.trip()
	}
	return oldState, cb.state
}

func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.probes = 0
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probes = 0
}
