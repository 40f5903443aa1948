// SPDX-License-Identifier: MIT

package middleware

import (
	"github.com/go-chi/chi/v5"
)

// StackConfig configures the HTTP ingress middleware stack.
type StackConfig struct {
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool
}

// ApplyStack applies the middleware stack to r.
func ApplyStack(r chi.Router, cfg StackConfig) {
	// 1. Recoverer (outermost safety net)
	r.Use(Recoverer)
	// 2. RequestID (correlation early)
	r.Use(RequestID)
	// 3. Metrics
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	// 4. Tracing
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	// 5. Logging
	if cfg.EnableLogging {
		r.Use(AccessLog)
	}
}
