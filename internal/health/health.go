// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks for the streaming engine.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckFunc adapts a function to Checker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) CheckResult
}

func (c CheckFunc) Name() string                          { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }

// Manager manages health and readiness checks
type Manager struct {
	version  string
	checkers []Checker
	now      func() time.Time
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{version: version, now: time.Now}
}

// RegisterChecker adds a health checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// run executes every checker and folds the worst status.
func (m *Manager) run(ctx context.Context) (Status, map[string]CheckResult) {
	overall := StatusHealthy
	checks := make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		res := c.Check(ctx)
		checks[c.Name()] = res
		switch res.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return overall, checks
}

// Health performs a liveness check. The process is alive as long as it
// answers; component checks are only evaluated when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: m.now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Status, resp.Checks = m.run(ctx)
	}
	return resp
}

// Ready performs a readiness check. Degraded components still serve traffic.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	status, checks := m.run(ctx)
	return ReadinessResponse{
		Ready:     status != StatusUnhealthy,
		Status:    status,
		Timestamp: m.now(),
		Checks:    checks,
	}
}

// ServeHealth handles HTTP health check requests
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // Always 200 for liveness
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "health")
		logger.Error().
			Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")
	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}
