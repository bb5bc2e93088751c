package measure

import (
	"sync"
	"time"
)

// CircuitState is the state of a CircuitBreaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops calls to a daemon after repeated transport failures. While
// open every batch fails immediately; after the cooldown one probe is let through
// (half-open) and enough consecutive successes close the circuit again.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	now              func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastStateChange time.Time
}

// NewCircuitBreaker opens after failureThreshold consecutive failures and closes
// after successThreshold consecutive half-open successes.
func NewCircuitBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: max(failureThreshold, 1),
		successThreshold: max(successThreshold, 1),
		cooldown:         cooldown,
		now:              time.Now,
		lastStateChange:  time.Now(),
	}
}

// Allow reports whether a call may be made now
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state != CircuitOpen
}

// RecordSuccess notes a call that reached the daemon
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.transition(CircuitClosed)
		}
	case CircuitClosed:
		b.failureCount = 0
	}
}

// RecordFailure notes a call that did not reach the daemon
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	switch b.state {
	case CircuitHalfOpen:
		// any failure while probing reopens the circuit
		b.transition(CircuitOpen)
	case CircuitClosed:
		if b.failureCount >= b.failureThreshold {
			b.transition(CircuitOpen)
		}
	}
}

// State returns the current state
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// refresh moves an open circuit to half-open once the cooldown has passed
func (b *CircuitBreaker) refresh() {
	if b.state == CircuitOpen && b.now().Sub(b.lastStateChange) >= b.cooldown {
		b.transition(CircuitHalfOpen)
	}
}

func (b *CircuitBreaker) transition(s CircuitState) {
	b.state = s
	b.failureCount = 0
	b.successCount = 0
	b.lastStateChange = b.now()
}
