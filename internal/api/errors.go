package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/mattjoyce/mcap-offload/internal/catalog"
	"github.com/mattjoyce/mcap-offload/internal/recovery"
	"github.com/mattjoyce/mcap-offload/internal/syncer"
)

// Classify maps an error to an HTTP status and a stable machine code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, recovery.ErrPathTraversal):
		return http.StatusBadRequest, "path_traversal"
	case errors.Is(err, recovery.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, recovery.ErrFileNotFound):
		return http.StatusBadRequest, "file_not_found"
	case errors.Is(err, recovery.ErrNotRegularFile):
		return http.StatusBadRequest, "not_regular_file"
	case errors.Is(err, recovery.ErrNoFilesRecovered):
		return http.StatusInternalServerError, "no_files_recovered"
	case errors.Is(err, recovery.ErrToolUnavailable):
		return http.StatusInternalServerError, "tool_unavailable"
	case errors.Is(err, recovery.ErrBaseDirMissing):
		return http.StatusInternalServerError, "base_dir_missing"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, catalog.ErrInvalidRecord):
		return http.StatusBadRequest, "invalid_record"
	case errors.Is(err, syncer.ErrAlreadyRunning):
		return http.StatusConflict, "sync_running"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeClassified(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var jerr *recovery.JobError
	if errors.As(err, &jerr) {
		resp.Phase = string(jerr.Phase)
		resp.JobID = jerr.JobID
		if errors.Is(err, recovery.ErrNoFilesRecovered) {
			resp.Error = recovery.ErrNoFilesRecovered.Error()
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err)
	}
	respondJSON(w, status, resp)
}
