package ops

import (
	"sync"
	"time"
)

// CircuitBreaker stops ops audit writes while the outbox store is failing.
// When the circuit is open, events are dropped without attempting persistence.
type CircuitBreaker struct {
	mu sync.RWMutex

	threshold int           // failures to trigger open
	cooldown  time.Duration // how long to stay open

	failures  int       // consecutive failures
	openUntil time.Time // when to transition from open to half-open
	isOpen    bool

	now func() time.Time
}

// NewCircuitBreaker creates a circuit breaker.
// threshold: number of consecutive failures to open the circuit
// cooldown: how long to stay open before trying again
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow returns true if the circuit is closed (healthy) or half-open (testing).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	if !cb.isOpen {
		cb.mu.RUnlock()
		return true
	}

	expired := cb.now().After(cb.openUntil)
	cb.mu.RUnlock()

	if expired {
		// half-open
		cb.mu.Lock()
		defer cb.mu.Unlock()

		if cb.isOpen && cb.now().After(cb.openUntil) {
			cb.isOpen = false
			cb.failures = 0
		}
		return !cb.isOpen
	}

	return false
}

// RecordSuccess records a successful operation, closing the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.isOpen = false
}

// RecordFailure records a failed operation, potentially opening the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.failures >= cb.threshold {
		cb.isOpen = true
		cb.openUntil = cb.now().Add(cb.cooldown)
	}
}

// IsOpen returns true if the circuit is currently open.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.isOpen
}

// Reset manually closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.isOpen = false
}
