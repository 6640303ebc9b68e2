// Package circuitbreaker guards calls to an unreliable dependency.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tao-dividends/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the dependency has recovered
	StateHalfOpen State = "half_open"
)

// StateChangeFunc is called after every state transition, outside the breaker lock
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name             string
	maxFailures      int           // Minimum calls, and consecutive failures, before opening
	failureThreshold float64       // Failure rate that opens the circuit (0.0-1.0)
	timeout          time.Duration // Time to wait before attempting half-open
	halfOpenMaxCalls int           // Trial calls allowed in half-open state
	logger           *logging.Logger
	onStateChange    StateChangeFunc
	now              func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	totalCalls       int
	consecutiveFails int
	halfOpenInFlight int
	lastStateChange  time.Time
}

// Config configures a circuit breaker
type Config struct {
	Name             string
	MaxFailures      int
	FailureThreshold float64
	Timeout          time.Duration
	HalfOpenMaxCalls int
	Logger           *logging.Logger
	OnStateChange    StateChangeFunc
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      5,
		FailureThreshold: 0.5, // 50% failure rate
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	halfOpen := config.HalfOpenMaxCalls
	if halfOpen <= 0 {
		halfOpen = 1
	}
	return &CircuitBreaker{
		name:             config.Name,
		maxFailures:      config.MaxFailures,
		failureThreshold: config.FailureThreshold,
		timeout:          config.Timeout,
		halfOpenMaxCalls: halfOpen,
		logger:           logger.WithField("circuitBreaker", config.Name),
		onStateChange:    config.OnStateChange,
		now:              time.Now,
		state:            StateClosed,
		lastStateChange:  time.Now(),
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when too many requests are made in half-open state
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// transition records a pending state change for notification after unlock
type transition struct {
	from, to State
}

// Execute runs fn with circuit breaker protection. A canceled context is not
// counted as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	halfOpen, t, err := cb.beforeRequest()
	cb.notify(t)
	if err != nil {
		return err
	}

	err = fn()

	if err != nil && ctx.Err() != nil {
		cb.release(halfOpen)
		return err
	}
	cb.notify(cb.afterRequest(halfOpen, err))
	return err
}

// beforeRequest checks if a request can be executed
func (cb *CircuitBreaker) beforeRequest() (bool, *transition, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.timeout {
			return false, nil, ErrCircuitOpen
		}
		t := cb.setState(StateHalfOpen)
		cb.halfOpenInFlight = 1
		return true, t, nil

	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.halfOpenMaxCalls {
			return false, nil, ErrTooManyRequests
		}
		cb.halfOpenInFlight++
		return true, nil, nil

	default:
		return false, nil, nil
	}
}

func (cb *CircuitBreaker) release(halfOpen bool) {
	if !halfOpen {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// afterRequest records the result of a request
func (cb *CircuitBreaker) afterRequest(halfOpen bool, err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if halfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
	cb.totalCalls++

	if err != nil {
		return cb.onFailure()
	}
	return cb.onSuccess()
}

// onSuccess handles a successful request
func (cb *CircuitBreaker) onSuccess() *transition {
	cb.consecutiveFails = 0

	if cb.state == StateHalfOpen {
		t := cb.setState(StateClosed)
		cb.reset()
		cb.logger.WithField("state", StateClosed).Info("Circuit breaker closed after successful recovery")
		return t
	}
	return nil
}

// onFailure handles a failed request
func (cb *CircuitBreaker) onFailure() *transition {
	cb.failures++
	cb.consecutiveFails++

	switch cb.state {
	case StateClosed:
		if !cb.shouldOpen() {
			return nil
		}
		cb.logger.WithFields(map[string]interface{}{
			"state":            StateOpen,
			"failures":         cb.failures,
			"totalCalls":       cb.totalCalls,
			"failureRate":      cb.getFailureRate(),
			"consecutiveFails": cb.consecutiveFails,
		}).Warn("Circuit breaker opened due to failures")
		return cb.setState(StateOpen)

	case StateHalfOpen:
		// Any failure in half-open state reopens the circuit
		cb.logger.WithField("state", StateOpen).Warn("Circuit breaker reopened after failure in half-open state")
		return cb.setState(StateOpen)
	}
	return nil
}

// shouldOpen determines if the circuit should open
func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.consecutiveFails >= cb.maxFailures {
		return true
	}
	// Need minimum number of calls to judge the failure rate
	if cb.totalCalls < cb.maxFailures {
		return false
	}
	return cb.getFailureRate() >= cb.failureThreshold
}

// getFailureRate calculates the current failure rate
func (cb *CircuitBreaker) getFailureRate() float64 {
	if cb.totalCalls == 0 {
		return 0.0
	}
	return float64(cb.failures) / float64(cb.totalCalls)
}

// setState changes the circuit breaker state. Callers hold the lock.
func (cb *CircuitBreaker) setState(state State) *transition {
	if cb.state == state {
		return nil
	}
	t := &transition{from: cb.state, to: state}
	cb.state = state
	cb.lastStateChange = cb.now()
	if state != StateHalfOpen {
		cb.halfOpenInFlight = 0
	}
	return t
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t != nil && cb.onStateChange != nil {
		cb.onStateChange(cb.name, t.from, t.to)
	}
}

// reset resets the circuit breaker counters
func (cb *CircuitBreaker) reset() {
	cb.failures = 0
	cb.totalCalls = 0
	cb.consecutiveFails = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
