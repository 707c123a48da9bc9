package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

// CircuitBreakerError is returned when a call is rejected
type CircuitBreakerError struct {
	CircuitName string
	State       State
	Message     string
	Timestamp   time.Time
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s: %s", e.CircuitName, e.State.String(), e.Message)
}

// NewCircuitBreakerOpenError creates an error for a rejected call
func NewCircuitBreakerOpenError(name string, state State) *CircuitBreakerError {
	return &CircuitBreakerError{
		CircuitName: name,
		State:       state,
		Message:     "circuit breaker is open, request rejected",
		Timestamp:   time.Now(),
	}
}

// IsCircuitBreakerError reports whether err (or anything it wraps) is a rejection
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
