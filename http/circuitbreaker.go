// Package http provides the outbound HTTP infrastructure shared by every
// upstream adapter: a retrying client, per-class circuit breaking and
// adaptive pacing.
package http

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state where calls are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen short-circuits every call until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen admits exactly one probe call.
	CircuitHalfOpen
)

// String returns the string representation of a circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the number of consecutive failures that opens the circuit.
	DefaultFailureThreshold = 5
	// DefaultResetTimeout is how long the circuit stays open before probing.
	DefaultResetTimeout = 60 * time.Second
)

// ErrCircuitOpen is returned when the circuit for an adapter class is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures to open the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before moving to half-open.
	ResetTimeout time.Duration
	// IsFailure decides whether an error counts against the circuit. Errors
	// it rejects (a channel that does not exist, for instance) prove the
	// upstream is answering and count as success. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called with the lock held whenever a class changes state.
	OnStateChange func(class string, state CircuitState)
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultCircuitBreakerConfig returns the default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		ResetTimeout:     DefaultResetTimeout,
	}
}

// circuit holds the state for a single adapter class.
type circuit struct {
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// CircuitStats is a point-in-time view of one circuit.
type CircuitStats struct {
	Class               string    `json:"class"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitempty"`
}

// CircuitBreaker tracks consecutive failures per adapter class and fails
// fast while a class is unhealthy. Circuits are created lazily in the
// closed state and are never persisted.
type CircuitBreaker struct {
	circuits map[string]*circuit
	mu       sync.Mutex
	config   CircuitBreakerConfig
}

// NewCircuitBreaker creates a circuit breaker with the given configuration.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		circuits: make(map[string]*circuit),
		config:   cfg,
	}
}

// Allow reports whether a call for class may proceed. It returns
// ErrCircuitOpen while the circuit is open, and while a half-open probe is
// already in flight.
func (cb *CircuitBreaker) Allow(class string) error {
	if cb == nil {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.getOrCreate(class)
	switch c.state {
	case CircuitOpen:
		if cb.config.Now().Sub(c.openedAt) < cb.config.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.transition(class, c, CircuitHalfOpen)
		c.probing = true
		return nil
	case CircuitHalfOpen:
		if c.probing {
			return ErrCircuitOpen
		}
		c.probing = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(class string) {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.getOrCreate(class)
	c.consecutiveFailures = 0
	c.probing = false
	if c.state != CircuitClosed {
		cb.transition(class, c, CircuitClosed)
	}
}

// RecordFailure records the outcome of a failed call. Errors rejected by
// IsFailure are recorded as successes.
func (cb *CircuitBreaker) RecordFailure(class string, err error) {
	if cb == nil {
		return
	}
	if cb.config.IsFailure != nil && !cb.config.IsFailure(err) {
		cb.RecordSuccess(class)
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.getOrCreate(class)
	c.consecutiveFailures++

	switch c.state {
	case CircuitHalfOpen:
		c.probing = false
		c.openedAt = cb.config.Now()
		cb.transition(class, c, CircuitOpen)
	case CircuitClosed:
		if c.consecutiveFailures >= cb.config.FailureThreshold {
			c.openedAt = cb.config.Now()
			cb.transition(class, c, CircuitOpen)
		}
	}
}

// Release gives back a half-open probe slot whose call was abandoned
// without an outcome, such as when the caller's context was cancelled.
func (cb *CircuitBreaker) Release(class string) {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if c, ok := cb.circuits[class]; ok && c.state == CircuitHalfOpen {
		c.probing = false
	}
}

// State returns the current state for class. Unknown classes are closed.
func (cb *CircuitBreaker) State(class string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if c, ok := cb.circuits[class]; ok {
		return c.state
	}
	return CircuitClosed
}

// Stats returns a snapshot of every known circuit, sorted by class.
func (cb *CircuitBreaker) Stats() []CircuitStats {
	if cb == nil {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := make([]CircuitStats, 0, len(cb.circuits))
	for class, c := range cb.circuits {
		stats = append(stats, CircuitStats{
			Class:               class,
			State:               c.state.String(),
			ConsecutiveFailures: c.consecutiveFailures,
			OpenedAt:            c.openedAt,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Class < stats[j].Class })
	return stats
}

// Reset forces class back to closed.
func (cb *CircuitBreaker) Reset(class string) {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if c, ok := cb.circuits[class]; ok {
		c.consecutiveFailures = 0
		c.probing = false
		c.openedAt = time.Time{}
		if c.state != CircuitClosed {
			cb.transition(class, c, CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) getOrCreate(class string) *circuit {
	c, ok := cb.circuits[class]
	if !ok {
		c = &circuit{state: CircuitClosed}
		cb.circuits[class] = c
	}
	return c
}

func (cb *CircuitBreaker) transition(class string, c *circuit, to CircuitState) {
	c.state = to
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(class, to)
	}
}
