package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"estate-voice-server/pkg/version"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines     int    `json:"goroutines"`
	MemoryMB       uint64 `json:"memory_mb"`
	CPUCount       int    `json:"cpu_count"`
	ActiveSessions int    `json:"active_sessions"`
}

// check runs every component check. Open breakers and a failing session
// store make the service not ready; a lost analytics link only degrades it.
func (s *Server) check(ctx context.Context) HealthStatus {
	health := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	if s.deps.Sessions != nil {
		health.System.ActiveSessions = s.deps.Sessions.ActiveCount()
		if err := s.deps.Sessions.Health(ctx); err != nil {
			health.Checks["sessions"] = CheckResult{
				Status:  statusUnhealthy,
				Message: fmt.Sprintf("Session store unhealthy: %v", err),
			}
			health.Status = statusUnhealthy
		} else {
			health.Checks["sessions"] = CheckResult{
				Status:  statusHealthy,
				Message: "Session store operational",
			}
		}
	}

	if s.deps.Breakers != nil {
		if open := s.deps.Breakers.OpenBreakers(); len(open) > 0 {
			health.Checks["providers"] = CheckResult{
				Status:  statusUnhealthy,
				Message: "Circuit open: " + strings.Join(open, ", "),
			}
			health.Status = statusUnhealthy
		} else {
			health.Checks["providers"] = CheckResult{
				Status:  statusHealthy,
				Message: "All circuits closed",
			}
		}
	}

	if s.deps.Messaging != nil {
		if s.deps.Messaging.IsConnected() {
			health.Checks["amqp"] = CheckResult{Status: statusHealthy, Message: "AMQP connected"}
		} else {
			health.Checks["amqp"] = CheckResult{Status: statusDegraded, Message: "AMQP disconnected"}
			if health.Status == statusHealthy {
				health.Status = statusDegraded
			}
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = m.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	return health
}

// HealthHandler reports the state of every component
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	health := s.check(r.Context())

	if r.URL.Query().Get("detailed") == "true" {
		s.logger.WithField("status", health.Status).
			WithField("checks", health.Checks).
			WithField("duration", time.Since(startTime)).
			Debug("Health check performed")
	}

	statusCode := http.StatusOK
	if health.Status == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// LivenessHandler handles kubernetes liveness probe
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler handles kubernetes readiness probe
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.check(r.Context()).Status == statusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
