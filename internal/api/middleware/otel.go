// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request. Probes and scrapes are not traced.
func Tracing(service string) func(http.Handler) http.Handler {
	start := otelhttp.NewMiddleware(service, otelhttp.WithFilter(traced))
	return func(next http.Handler) http.Handler {
		return start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			// The route pattern is only known after routing. Raw paths carry
			// transcode ids and segment names.
			trace.SpanFromContext(r.Context()).SetName(r.Method + " " + routeLabel(r))
		}))
	}
}

func traced(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return false
	}
	return true
}
