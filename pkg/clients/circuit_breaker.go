package clients

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/errors"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows probe requests to test recovery
	StateHalfOpen
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

// CircuitBreaker protects the enrichment service from request storms
// while it is failing. Consecutive failures open the circuit; after the
// cooldown a probe request is let through, and consecutive successes
// close it again.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	logger           *zap.Logger
	now              func() time.Time

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state
func NewCircuitBreaker(failureThreshold, successThreshold int, cooldown time.Duration, logger *zap.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		logger:           logger.With(zap.String("component", "circuit_breaker")),
		now:              time.Now,
		state:            StateClosed,
	}
}

// Execute runs fn under circuit breaker protection. While the circuit is
// open the call is rejected immediately with a retryable connection error.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return errors.New(errors.ErrorTypeConnection, "circuit breaker is open").
			WithDetail("cooldown", cb.cooldown.String())
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cooldown {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.successThreshold {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccesses = 0
	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// Any failure during probing reopens the circuit
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(next CircuitState) {
	if cb.state == next {
		return
	}
	cb.logger.Info("circuit state change",
		zap.String("from", cb.state.String()),
		zap.String("to", next.String()))
	cb.state = next
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}
