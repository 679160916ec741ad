package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const defaultSyncLogLimit = 100

// handleTriggerSync handles POST /api/sync
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		s.writeError(w, http.StatusServiceUnavailable, "sync_disabled", "sync is not configured")
		return
	}

	entry, err := s.syncer.Start(r.Context())
	if err != nil {
		s.writeClassified(w, err)
		return
	}

	s.events.Publish("sync.started", entry)
	respondJSON(w, http.StatusAccepted, SyncTriggerResponse{SyncID: entry.ID, Status: entry.Status})
}

// handleListSyncLogs handles GET /api/synclogs?limit=N
func (s *Server) handleListSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultSyncLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	logs, err := s.catalog.ListSyncs(r.Context(), limit)
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// handleGetSyncLog handles GET /api/synclogs/{id}
func (s *Server) handleGetSyncLog(w http.ResponseWriter, r *http.Request) {
	entry, err := s.catalog.GetSync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}
