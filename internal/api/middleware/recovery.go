// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
)

// Recoverer turns a handler panic into a JSON 500 carrying the request id.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			reqID := log.RequestIDFromContext(r.Context())
			if reqID == "" {
				// RequestID runs inside this handler; its header is already set.
				reqID = w.Header().Get(HeaderRequestID)
			}
			logger := log.WithComponentFromContext(r.Context(), "panic-recovery")
			logger.Error().
				Str(log.FieldEvent, "panic.recovered").
				Str(log.FieldRequestID, reqID).
				Str("method", r.Method).
				Str(log.FieldPath, strings.ToValidUTF8(r.URL.Path, "")).
				Interface("panic_value", rec).
				Bytes("stack_trace", debug.Stack()).
				Msg("panic recovered in HTTP handler")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":      "INTERNAL",
				"message":   "internal server error",
				"requestId": reqID,
			})
		}()
		next.ServeHTTP(w, r)
	})
}
