package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned without calling the guarded function while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Calls fail immediately
	StateHalfOpen                     // One probe call is let through
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops dialing a dependency that keeps failing and lets a
// single probe through once resetTimeout has passed.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	openedAt     time.Time
	probing      bool

	requestCount      int64
	failureCountTotal int64
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, logger zerolog.Logger) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		logger:       logger.With().Str("breaker", name).Logger(),
		now:          time.Now,
		state:        StateClosed,
	}
}

// Call executes fn unless the circuit is open
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.RecordResult(err == nil)
	return err
}

// allowRequest checks if a request should be allowed
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		return true

	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}

	return false
}

// RecordResult records the outcome of one guarded call
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestCount++
	cb.probing = false

	if success {
		cb.failureCount = 0
		if cb.state != StateClosed {
			cb.setState(StateClosed)
		}
		return
	}

	cb.failureCountTotal++
	cb.failureCount++

	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		cb.openedAt = cb.now()
		if cb.state != StateOpen {
			cb.setState(StateOpen)
		}
	}
}

// setState logs a transition; caller holds mu
func (cb *CircuitBreaker) setState(state CircuitState) {
	cb.logger.Info().
		Str("from", cb.state.String()).
		Str("to", state.String()).
		Int("consecutive_failures", cb.failureCount).
		Msg("Circuit breaker state changed")
	cb.state = state
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state = cb.state
	requestCount = cb.requestCount
	failureCount = cb.failureCountTotal

	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}

	return
}

// HealthCheck reports the breaker as unhealthy while it is open.
// It matches observability.HealthCheckFunc.
func (cb *CircuitBreaker) HealthCheck(ctx context.Context) (bool, error) {
	if cb.GetState() == StateOpen {
		return false, ErrCircuitOpen
	}
	return true, nil
}
