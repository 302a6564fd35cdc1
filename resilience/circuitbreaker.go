package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker tuning.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit
	MaxFailures int `mapstructure:"MaxFailures"`
	// ResetTimeout is the cooldown before the circuit half-opens to probe recovery
	ResetTimeout time.Duration `mapstructure:"ResetTimeout"`
	// HalfOpenRequests is the number of probe requests allowed while half-open
	HalfOpenRequests int `mapstructure:"HalfOpenRequests"`
}

// DefaultCircuitBreakerConfig returns the default tuning: open after 5
// consecutive failures, cool down for a minute, probe with one request.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		ResetTimeout:     60 * time.Second,
		HalfOpenRequests: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern for one network's
// providers. While open, calls fail fast and the failover chain routes to
// the next source.
type CircuitBreaker struct {
	config          CircuitBreakerConfig
	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastStateChange time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Allow checks whether a request may proceed, transitioning open → half-open
// once the cooldown has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastStateChange) > cb.config.ResetTimeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			cb.lastStateChange = time.Now()
			return true
		}
		return false
	case CircuitHalfOpen:
		return cb.successes < cb.config.HalfOpenRequests
	default:
		return false
	}
}

// RecordSuccess resets the failure streak and closes the circuit when the
// half-open probes succeed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.HalfOpenRequests {
			cb.state = CircuitClosed
			cb.lastStateChange = time.Now()
		}
	}
}

// RecordFailure counts a failed or rate-limited request. A failure while
// half-open reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitClosed && cb.failures >= cb.config.MaxFailures {
		cb.state = CircuitOpen
		cb.lastStateChange = time.Now()
	} else if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.lastStateChange = time.Now()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
