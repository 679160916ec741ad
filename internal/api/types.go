package api

import (
	"time"

	"github.com/mattjoyce/mcap-offload/internal/catalog"
	"github.com/mattjoyce/mcap-offload/internal/inventory"
)

// RecoverRequest is the JSON body for POST /api/recover.
type RecoverRequest struct {
	Files []string `json:"files"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Phase string `json:"phase,omitempty"`
	JobID string `json:"job_id,omitempty"`
}

// HealthResponse is returned by GET /api/health and /healthz.
type HealthResponse struct {
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// FilesResponse is returned by GET /api/files.
type FilesResponse struct {
	Dir   string               `json:"dir"`
	Files []inventory.FileInfo `json:"files"`
	Count int                  `json:"count"`
}

// RecordingsSummary describes what is on disk right now.
type RecordingsSummary struct {
	Dir        string `json:"dir"`
	Count      int    `json:"count"`
	TotalBytes int64  `json:"total_bytes"`
	Error      string `json:"error,omitempty"`
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	Catalog    catalog.Stats     `json:"catalog"`
	Recordings RecordingsSummary `json:"recordings"`

	// RunningSync is the id of the sync started by this process, if any.
	RunningSync string `json:"running_sync,omitempty"`
}

// SyncTriggerResponse is returned by POST /api/sync.
type SyncTriggerResponse struct {
	SyncID string             `json:"sync_id"`
	Status catalog.SyncStatus `json:"status"`
}

// RecordRequest is the body for creating or replacing a catalog record.
type RecordRequest struct {
	Filename   string     `json:"filename"`
	Filepath   string     `json:"filepath"`
	Filesize   *int64     `json:"filesize,omitempty"`
	Checksum   string     `json:"checksum,omitempty"`
	BackedUp   bool       `json:"backed_up"`
	BackedUpAt *time.Time `json:"backed_up_at,omitempty"`
}

// RecoverEvent is published on the event stream after each recover request.
type RecoverEvent struct {
	JobID     string `json:"job_id,omitempty"`
	Requested int    `json:"requested"`
	Recovered int    `json:"recovered"`
	Archive   string `json:"archive,omitempty"`
	Error     string `json:"error,omitempty"`
}
