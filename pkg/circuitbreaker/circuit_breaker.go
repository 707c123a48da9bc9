package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	// Consecutive failures before opening
	FailureThreshold int64 `json:"failure_threshold"`

	// Consecutive half-open successes before closing
	SuccessThreshold int64 `json:"success_threshold"`

	// Open duration before a trial request is let through
	Timeout time.Duration `json:"timeout"`

	// Upper bound for the backed-off open duration
	MaxTimeout time.Duration `json:"max_timeout"`

	// Applied when the caller's context has no deadline
	RequestTimeout time.Duration `json:"request_timeout"`

	ExponentialBackoff bool `json:"exponential_backoff"`
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            60 * time.Second,
		MaxTimeout:         300 * time.Second,
		RequestTimeout:     30 * time.Second,
		ExponentialBackoff: true,
	}
}

// Statistics is a snapshot of breaker activity
type Statistics struct {
	State                string    `json:"state"`
	TotalRequests        int64     `json:"total_requests"`
	SuccessfulRequests   int64     `json:"successful_requests"`
	FailedRequests       int64     `json:"failed_requests"`
	RejectedRequests     int64     `json:"rejected_requests"`
	ConsecutiveFailures  int64     `json:"consecutive_failures"`
	ConsecutiveSuccesses int64     `json:"consecutive_successes"`
	StateTransitions     int64     `json:"state_transitions"`
	LastFailureTime      time.Time `json:"last_failure_time"`
	LastSuccessTime      time.Time `json:"last_success_time"`
	NextAttempt          time.Time `json:"next_attempt,omitempty"`
}

// CircuitBreaker guards calls to an unreliable dependency
type CircuitBreaker struct {
	name   string
	logger *logrus.Entry
	config *Config
	now    func() time.Time

	mutex       sync.Mutex
	state       State
	nextAttempt time.Time
	stats       Statistics

	onStateChange func(name string, from State, to State)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config *Config, logger *logrus.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}

	return &CircuitBreaker{
		name:   name,
		logger: logger.WithField("circuit_breaker", name),
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open. Context cancellation by the
// caller is not counted as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return NewCircuitBreakerOpenError(cb.name, StateOpen)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && cb.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.config.RequestTimeout)
		defer cancel()
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.recordSuccess()
	case errors.Is(err, context.Canceled):
		cb.releaseTrial()
	default:
		cb.recordFailure(err)
	}
	return err
}

// ExecuteWithFallback runs fallback when the circuit rejects the call
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(ctx context.Context) error, fallback func(ctx context.Context) error) error {
	err := cb.Execute(ctx, fn)
	if err != nil && IsCircuitBreakerError(err) && fallback != nil {
		cb.logger.WithError(err).Debug("Circuit breaker open, executing fallback")
		return fallback(ctx)
	}
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().After(cb.nextAttempt) {
			cb.setState(StateHalfOpen)
			return true
		}
		cb.stats.RejectedRequests++
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.stats.TotalRequests++
	cb.stats.SuccessfulRequests++
	cb.stats.ConsecutiveFailures = 0
	cb.stats.ConsecutiveSuccesses++
	cb.stats.LastSuccessTime = cb.now()

	if cb.state == StateHalfOpen && cb.stats.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.stats.TotalRequests++
	cb.stats.FailedRequests++
	cb.stats.ConsecutiveFailures++
	cb.stats.ConsecutiveSuccesses = 0
	cb.stats.LastFailureTime = cb.now()

	if cb.state == StateHalfOpen || cb.stats.ConsecutiveFailures >= cb.config.FailureThreshold {
		cb.setState(StateOpen)
	}

	cb.logger.WithError(err).WithFields(logrus.Fields{
		"failures": cb.stats.ConsecutiveFailures,
		"state":    cb.state.String(),
	}).Debug("Circuit breaker recorded failure")
}

// releaseTrial handles a canceled call; a half-open breaker goes back to
// open without extending the backoff so the next caller can retry.
func (cb *CircuitBreaker) releaseTrial() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.nextAttempt = cb.now()
	}
}

// setState assumes the lock is held
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.stats.StateTransitions++

	switch newState {
	case StateOpen:
		timeout := cb.config.Timeout
		if cb.config.ExponentialBackoff && cb.stats.ConsecutiveFailures > cb.config.FailureThreshold {
			shift := cb.stats.ConsecutiveFailures - cb.config.FailureThreshold
			if shift > 10 {
				shift = 10
			}
			timeout = cb.config.Timeout * time.Duration(int64(1)<<uint(shift))
			if cb.config.MaxTimeout > 0 && timeout > cb.config.MaxTimeout {
				timeout = cb.config.MaxTimeout
			}
		}
		cb.nextAttempt = cb.now().Add(timeout)
	case StateClosed:
		cb.nextAttempt = time.Time{}
		cb.stats.ConsecutiveFailures = 0
	case StateHalfOpen:
		cb.stats.ConsecutiveSuccesses = 0
	}

	cb.logger.WithFields(logrus.Fields{
		"from_state": oldState.String(),
		"to_state":   newState.String(),
	}).Info("Circuit breaker state changed")

	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// GetStatistics returns a copy of the breaker statistics
func (cb *CircuitBreaker) GetStatistics() Statistics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	stats := cb.stats
	stats.State = cb.state.String()
	stats.NextAttempt = cb.nextAttempt
	return stats
}

// Reset closes the circuit and clears statistics
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.stats = Statistics{}
	cb.logger.Info("Circuit breaker reset")
}

// SetStateChangeCallback sets a callback for state changes
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(name string, from State, to State)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// GetName returns the circuit breaker name
func (cb *CircuitBreaker) GetName() string {
	return cb.name
}

// IsOpen returns true if the circuit is open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.GetState() == StateOpen
}
