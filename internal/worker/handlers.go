package worker

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/searchlog/pkg/models"
)

// maxBodyBytes caps a record request body.
const maxBodyBytes = 64 << 10

// RecordRequest is the body of POST /api/history/{userID}.
type RecordRequest struct {
	Filters     models.Filters `json:"filters,omitempty"`
	ResultCount *int           `json:"result_count,omitempty"`
	Query       string         `json:"query"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads the "limit" query parameter. Missing or invalid values
// return 0 so the history defaults apply.
func parseLimit(r *http.Request) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 0
}

// userIDParam returns the decoded {userID} segment. chi matches on the raw
// path when the URL carries escaped slashes.
func userIDParam(r *http.Request) string {
	id := chi.URLParam(r, "userID")
	if r.URL.RawPath != "" {
		if decoded, err := url.PathUnescape(id); err == nil {
			return decoded
		}
	}
	return id
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"pending": s.history.Pending(),
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	if err := s.backend.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Readiness check failed")
		writeError(w, http.StatusServiceUnavailable, "backend unavailable")
		return
	}
	resp := map[string]string{"status": "ready"}
	if s.cache != nil {
		// The cache is optional; an outage only turns reads into misses.
		resp["cache"] = "ok"
		if err := s.cache.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Popular-query cache unreachable")
			resp["cache"] = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// handleRecord schedules a debounced write. Blank queries are accepted and
// ignored.
func (s *Service) handleRecord(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)

	var req RecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.history.Schedule(userID, req.Query, req.Filters, req.ResultCount)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Service) handleRecent(w http.ResponseWriter, r *http.Request) {
	entries := s.history.RecentHistory(r.Context(), userIDParam(r), parseLimit(r))
	writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions := s.history.Suggestions(r.Context(), userIDParam(r), r.URL.Query().Get("prefix"))
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Service) handlePopular(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.history.PopularQueries(r.Context(), parseLimit(r)))
}

func (s *Service) handleDeleteOne(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if !s.history.DeleteOne(r.Context(), userIDParam(r), id) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClear(w http.ResponseWriter, r *http.Request) {
	if !s.history.DeleteAll(r.Context(), userIDParam(r)) {
		writeError(w, http.StatusServiceUnavailable, "history backend unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireReady rejects API calls until the worker is serving.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
