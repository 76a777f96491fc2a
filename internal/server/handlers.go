package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/nao1215/torcheck/internal/database"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.version})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status, ok := s.provider.Status()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "no check has completed yet")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if res := s.limiter.Reserve(); !res.OK() || res.Delay() > 0 {
		retry := 1
		if res.OK() {
			retry = int(math.Ceil(res.Delay().Seconds()))
			res.Cancel()
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		s.writeError(w, http.StatusTooManyRequests, "refresh rate limit exceeded")
		return
	}

	status := s.provider.RefreshNow(r.Context())
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
			return
		}
		limit = n
	}

	checks, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if checks == nil {
		checks = []database.Check{}
	}
	s.writeJSON(w, http.StatusOK, checks)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
