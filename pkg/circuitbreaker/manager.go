package circuitbreaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns the named breakers guarding each speech provider
type Manager struct {
	logger        *logrus.Entry
	breakers      map[string]*CircuitBreaker
	mutex         sync.RWMutex
	defaultConfig *Config
	enabled       bool
}

// NewManager creates a manager. When enabled is false Execute calls fn directly.
func NewManager(logger *logrus.Logger, defaultConfig *Config, enabled bool) *Manager {
	if defaultConfig == nil {
		defaultConfig = DefaultConfig()
	}

	return &Manager{
		logger:        logger.WithField("component", "circuit_breaker_manager"),
		breakers:      make(map[string]*CircuitBreaker),
		defaultConfig: defaultConfig,
		enabled:       enabled,
	}
}

// GetCircuitBreaker gets or creates the breaker called name
func (m *Manager) GetCircuitBreaker(name string, config *Config) *CircuitBreaker {
	m.mutex.RLock()
	if breaker, exists := m.breakers[name]; exists {
		m.mutex.RUnlock()
		return breaker
	}
	m.mutex.RUnlock()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	if config == nil {
		config = m.defaultConfig
	}

	breaker := NewCircuitBreaker(name, config, m.logger.Logger)
	breaker.SetStateChangeCallback(m.onStateChange)
	m.breakers[name] = breaker

	m.logger.WithFields(logrus.Fields{
		"circuit_name":      name,
		"failure_threshold": config.FailureThreshold,
		"timeout":           config.Timeout,
	}).Info("Created new circuit breaker")

	return breaker
}

// Execute runs fn through the breaker called name
func (m *Manager) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if !m.enabled {
		return fn(ctx)
	}
	return m.GetCircuitBreaker(name, nil).Execute(ctx, fn)
}

// GetAllStatistics returns statistics for every breaker
func (m *Manager) GetAllStatistics() map[string]Statistics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]Statistics, len(m.breakers))
	for name, breaker := range m.breakers {
		out[name] = breaker.GetStatistics()
	}
	return out
}

// OpenBreakers returns the sorted names of breakers currently open
func (m *Manager) OpenBreakers() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var open []string
	for name, breaker := range m.breakers {
		if breaker.IsOpen() {
			open = append(open, name)
		}
	}
	sort.Strings(open)
	return open
}

func (m *Manager) onStateChange(name string, from State, to State) {
	entry := m.logger.WithFields(logrus.Fields{
		"circuit_name": name,
		"from_state":   from.String(),
		"to_state":     to.String(),
		"at":           time.Now().Format(time.RFC3339),
	})
	if to == StateOpen {
		entry.Warn("Circuit breaker opened")
	} else {
		entry.Info("Circuit breaker state transition")
	}
}
