// SPDX-License-Identifier: MIT

package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
)

// DefaultControlLimit bounds control requests per client IP and minute.
const DefaultControlLimit = 600

// RateLimit allows limit requests per window and client IP. Rejections are
// JSON 429s carrying Retry-After, in the same shape as other API errors.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(int(window.Seconds()), 1))
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger := log.WithComponentFromContext(r.Context(), "ratelimit")
			logger.Debug().
				Str(log.FieldEvent, "http.rate_limited").
				Str(log.FieldPath, r.URL.Path).
				Msg("request rejected by rate limit")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":      "RATE_LIMITED",
				"message":   "too many requests",
				"requestId": log.RequestIDFromContext(r.Context()),
			})
		}),
	)
}
