package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	statusQueued    = "queued"
	statusCoalesced = "coalesced"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    s.queue.Len(),
		PendingCount:  s.pending.Len(),
	})
}

// handleProcess schedules a document regardless of its eligibility.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) {
		s.writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	added, err := s.processor.Process(id)
	if err != nil {
		s.logger.Warn("process refused", "document_id", id, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "document not queued: "+err.Error())
		return
	}
	status := statusCoalesced
	if added {
		status = statusQueued
	}
	s.logger.Info("process requested", "document_id", id, "status", status)

	respondJSON(w, http.StatusAccepted, ProcessResponse{DocumentID: id, Status: status})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
