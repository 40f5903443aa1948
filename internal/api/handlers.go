// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/michaeldallariva/NexusM-sub001/internal/hls"
	"github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/stream"
)

const (
	contentTypePlaylist = "application/vnd.apple.mpegurl"
	contentTypeSegment  = "video/mp4"
)

// decodeDescriptor reads a MediaDescriptor body. It writes the error response itself.
func decodeDescriptor(w http.ResponseWriter, r *http.Request) (stream.MediaDescriptor, bool) {
	var md stream.MediaDescriptor
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&md); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "invalid media descriptor: "+err.Error())
		return md, false
	}
	if md.FilePath == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "filePath is required")
		return md, false
	}
	return md, true
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	md, ok := decodeDescriptor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Classify(md))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	md, ok := decodeDescriptor(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Resolve(r.Context(), md)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	var (
		data []byte
		err  error
	)
	contentType := contentTypeSegment
	if name == hls.PlaylistName {
		contentType = contentTypePlaylist
		data, err = s.engine.Playlist(id)
	} else {
		data, err = s.engine.Segment(id, name)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	if name == hls.PlaylistName {
		// Live playlists grow; players must refetch.
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTranscodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"transcodes": s.engine.Status()})
}

func (s *Server) handleGetTranscode(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.JobStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.CacheStats()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ClearCache()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleHardware(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.engine.HardwareReport()
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "NOT_READY", "hardware detection has not completed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRedetect(w http.ResponseWriter, r *http.Request) {
	if !s.redetect.Allow() {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.RedetectInterval.Seconds())))
		writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "hardware re-detection is throttled")
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "hardware.redetect_requested").
		Msg("hardware re-detection requested")
	writeJSON(w, http.StatusOK, s.engine.Redetect(r.Context()))
}
