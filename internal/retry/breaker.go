package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call
var ErrOpen = errors.New("circuit breaker is open")

// BreakerState represents the state of the circuit breaker
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	mu sync.Mutex

	state           BreakerState
	failureCount    int
	successCount    int
	lastStateChange time.Time

	failureThreshold int           // failures before opening
	successThreshold int           // successes to close from half-open
	timeout          time.Duration // time before trying half-open
	now              func() time.Time
}

// NewBreaker creates a closed breaker
func NewBreaker(failureThreshold, successThreshold int, timeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	b := &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
	b.lastStateChange = b.now()
	return b
}

// Allow reports whether a call may be attempted
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastStateChange) >= b.timeout {
			b.setState(StateHalfOpen)
			return true
		}
	}
	return false
}

// Success records a successful call
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.setState(StateClosed)
		}
	}
}

// Failure records a failed call
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
}

func (b *Breaker) setState(s BreakerState) {
	b.state = s
	b.failureCount = 0
	b.successCount = 0
	b.lastStateChange = b.now()
}
