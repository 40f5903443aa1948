// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/stream"
	"github.com/michaeldallariva/NexusM-sub001/internal/vod"
)

// busyRetryAfter is the Retry-After hint sent with 503 responses.
const busyRetryAfter = 5

// apiError is the JSON body of every error response.
type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, apiError{
		Code:      code,
		Message:   msg,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// writeServiceError maps engine errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, stream.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, stream.ErrInputNotFound):
		writeError(w, r, http.StatusNotFound, "INPUT_NOT_FOUND", err.Error())
	case errors.Is(err, stream.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, stream.ErrBusy):
		w.Header().Set("Retry-After", strconv.Itoa(busyRetryAfter))
		writeError(w, r, http.StatusServiceUnavailable, "BUSY", err.Error())
	case errors.Is(err, vod.ErrClosed):
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	case errors.Is(err, vod.ErrLaunch):
		writeError(w, r, http.StatusInternalServerError, "LAUNCH_FAILED", err.Error())
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		// Client went away; nobody reads the body.
		w.WriteHeader(499)
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "api.internal_error").
			Str(log.FieldPath, r.URL.Path).
			Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
