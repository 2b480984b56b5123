// Package auction implements the Auction Engine (§4.3): PING fan-out,
// winner selection, and the sequential POST cascade. Grounded on the
// bidding engine's RunAuction/runUnifiedFirstPrice/runWaterfall and the
// timeout manager's CircuitBreaker/ParallelRequestManager.
package auction

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState mirrors the timeout manager's three-state circuit breaker.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitBreaker trips per-buyer after maxFailures consecutive failed
// calls, and probes again after resetTimeout — generalized from the
// per-adapter breaker keyed by network name into one keyed by buyerID.
// The Engine routes PING requests through it; POSTs bypass it.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu           sync.RWMutex
	failures     map[string]int
	lastFailTime map[string]time.Time
	state        map[string]CircuitState
}

// NewCircuitBreaker builds a breaker that opens after maxFailures
// consecutive failures and attempts recovery after resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		failures:     make(map[string]int),
		lastFailTime: make(map[string]time.Time),
		state:        make(map[string]CircuitState),
	}
}

// Allow reports whether a request to buyerID may proceed, moving an open
// breaker to half-open once resetTimeout has elapsed.
func (cb *CircuitBreaker) Allow(buyerID string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.getStateLocked(buyerID) {
	case StateOpen:
		if time.Since(cb.lastFailTime[buyerID]) > cb.resetTimeout {
			cb.state[buyerID] = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// Call executes fn under the breaker's protection for buyerID.
func (cb *CircuitBreaker) Call(buyerID string, fn func() error) error {
	if !cb.Allow(buyerID) {
		return fmt.Errorf("circuit breaker open for buyer %s", buyerID)
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailureLocked(buyerID)
		return err
	}
	cb.recordSuccessLocked(buyerID)
	return nil
}

func (cb *CircuitBreaker) getStateLocked(buyerID string) CircuitState {
	if s, ok := cb.state[buyerID]; ok {
		return s
	}
	return StateClosed
}

func (cb *CircuitBreaker) recordFailureLocked(buyerID string) {
	cb.failures[buyerID]++
	cb.lastFailTime[buyerID] = time.Now()
	if cb.failures[buyerID] >= cb.maxFailures {
		cb.state[buyerID] = StateOpen
	}
}

func (cb *CircuitBreaker) recordSuccessLocked(buyerID string) {
	cb.failures[buyerID] = 0
	cb.state[buyerID] = StateClosed
}

// State returns buyerID's current circuit state.
func (cb *CircuitBreaker) State(buyerID string) CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.getStateLocked(buyerID)
}

// Reset clears buyerID's failure history, returning it to closed.
func (cb *CircuitBreaker) Reset(buyerID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures[buyerID] = 0
	cb.state[buyerID] = StateClosed
	delete(cb.lastFailTime, buyerID)
}
