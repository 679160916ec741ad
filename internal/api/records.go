package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/mcap-offload/internal/catalog"
	"github.com/mattjoyce/mcap-offload/internal/inventory"
	"github.com/mattjoyce/mcap-offload/internal/sandbox"
)

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.catalog.ListFiles(r.Context())
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	rec, err := s.catalog.GetFile(r.Context(), id)
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	created, err := s.catalog.CreateFile(r.Context(), rec)
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	rec, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	rec.ID = id
	updated, err := s.catalog.UpdateFile(r.Context(), rec)
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	if err := s.catalog.DeleteFile(r.Context(), id); err != nil {
		s.writeClassified(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "record id must be a positive integer")
		return 0, false
	}
	return id, true
}

// decodeRecord parses a record body. The file path must stay inside the
// recordings directory; size and checksum are filled from disk when the
// caller omits them and the file exists.
func (s *Server) decodeRecord(w http.ResponseWriter, r *http.Request) (catalog.FileRecord, bool) {
	var req RecordRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return catalog.FileRecord{}, false
	}

	path := req.Filepath
	if path == "" {
		path = req.Filename
	}
	resolved, err := sandbox.ResolveInside(s.config.BaseDir, path)
	if err != nil {
		s.writeClassified(w, err)
		return catalog.FileRecord{}, false
	}

	rec := catalog.FileRecord{
		Filename:   req.Filename,
		Filepath:   resolved,
		Checksum:   req.Checksum,
		BackedUp:   req.BackedUp,
		BackedUpAt: req.BackedUpAt,
	}
	if rec.Filename == "" {
		rec.Filename = filepath.Base(resolved)
	}
	if req.Filesize != nil {
		rec.Filesize = *req.Filesize
	}

	if info, err := os.Stat(resolved); err == nil && info.Mode().IsRegular() {
		if req.Filesize == nil {
			rec.Filesize = info.Size()
		}
		if rec.Checksum == "" {
			sum, err := inventory.Checksum(resolved)
			if err != nil {
				s.logger.Warn("failed to checksum recording", "path", resolved, "error", err)
			}
			rec.Checksum = sum
		}
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to stat recording", "path", resolved, "error", err)
	}
	return rec, true
}
