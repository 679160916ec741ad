package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/mcap-offload/internal/inventory"
	"github.com/mattjoyce/mcap-offload/internal/recovery"
)

const (
	headerRecovered = "X-Recovered-Count"
	headerRequested = "X-Requested-Count"
	headerJobID     = "X-Job-ID"
)

const (
	// recoverKillGrace covers the SIGTERM to SIGKILL wait after a tool timeout.
	recoverKillGrace = 5 * time.Second
	// recoverHeadroom covers staging, archiving and writing the archive.
	recoverHeadroom = 2 * time.Minute
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Service:       s.config.ServiceName,
		Timestamp:     s.now().UTC(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleListFiles handles GET /api/files
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	listing, err := inventory.List(s.config.BaseDir, s.config.Extension)
	if err != nil {
		s.logger.Warn("failed to list recordings", "dir", s.config.BaseDir, "error", err)
		code := "internal"
		if errors.Is(err, inventory.ErrDirMissing) {
			code = "base_dir_missing"
		}
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	s.logger.Info("listed recordings", "dir", listing.Dir, "count", listing.Count)
	respondJSON(w, http.StatusOK, FilesResponse{
		Dir:   listing.Dir,
		Files: listing.Files,
		Count: listing.Count,
	})
}

// handleRecover handles POST /api/recover. On success the body is the zip
// archive of recovered files.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestBytes)
	var req RecoverRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON body: %v", err),
			Code:  "invalid_request",
			Phase: string(recovery.PhaseValidating),
		})
		return
	}

	s.extendRecoverDeadline(w, len(req.Files))

	bundle, err := s.recoverer.Run(r.Context(), req.Files)
	if err != nil {
		s.events.Publish("recover.failed", RecoverEvent{
			JobID:     jobIDOf(err),
			Requested: len(req.Files),
			Error:     err.Error(),
		})
		s.writeClassified(w, err)
		return
	}

	s.events.Publish("recover.completed", RecoverEvent{
		JobID:     bundle.JobID,
		Requested: bundle.Requested,
		Recovered: bundle.Recovered,
		Archive:   bundle.Archive.Name,
	})

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bundle.Archive.Name))
	h.Set("Content-Length", strconv.Itoa(len(bundle.Archive.Data)))
	h.Set(headerRecovered, strconv.Itoa(bundle.Recovered))
	h.Set(headerRequested, strconv.Itoa(bundle.Requested))
	h.Set(headerJobID, bundle.JobID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(bundle.Archive.Data); err != nil {
		s.logger.Warn("failed to write archive", "job_id", bundle.JobID, "error", err)
	}
}

// recoverBudget is the longest a batch of n files can legitimately take:
// every round of workers may run its tools up to the timeout.
func (s *Server) recoverBudget(n int) time.Duration {
	if s.config.RecoverTimeout <= 0 {
		return 0
	}
	rounds := (n + s.config.RecoverWorkers - 1) / s.config.RecoverWorkers
	if rounds < 1 {
		rounds = 1
	}
	return time.Duration(rounds)*(s.config.RecoverTimeout+recoverKillGrace) + recoverHeadroom
}

// extendRecoverDeadline replaces the server-wide write timeout for this
// response with one sized to the batch.
func (s *Server) extendRecoverDeadline(w http.ResponseWriter, n int) {
	var deadline time.Time
	if budget := s.recoverBudget(n); budget > 0 {
		deadline = s.now().Add(budget)
	}
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("failed to set recover write deadline", "error", err)
	}
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.catalog.Stats(r.Context())
	if err != nil {
		s.writeClassified(w, err)
		return
	}

	summary := RecordingsSummary{Dir: s.config.BaseDir}
	listing, err := inventory.List(s.config.BaseDir, s.config.Extension)
	if err != nil {
		summary.Error = err.Error()
	} else {
		summary.Count = listing.Count
		summary.TotalBytes = listing.TotalSize()
	}

	resp := StatsResponse{Catalog: st, Recordings: summary}
	if s.syncer != nil {
		resp.RunningSync, _ = s.syncer.Current()
	}
	respondJSON(w, http.StatusOK, resp)
}

func jobIDOf(err error) string {
	var jerr *recovery.JobError
	if errors.As(err, &jerr) {
		return jerr.JobID
	}
	return ""
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}
