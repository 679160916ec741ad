package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/mcap-offload/internal/catalog"
	"github.com/mattjoyce/mcap-offload/internal/inventory"
	"github.com/mattjoyce/mcap-offload/internal/lock"
	"github.com/mattjoyce/mcap-offload/internal/storage"
)

type lockStatus struct {
	Path    string `json:"path"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Error   string `json:"error,omitempty"`
}

type statusReport struct {
	Config        string         `json:"config,omitempty"`
	Service       lockStatus     `json:"service"`
	Sync          lockStatus     `json:"sync"`
	StatePath     string         `json:"state_path"`
	SchemaVersion int64          `json:"schema_version"`
	Catalog       *catalog.Stats `json:"catalog,omitempty"`
	RecordingsDir string         `json:"recordings_dir"`
	Recordings    int            `json:"recordings"`
	RecordedBytes int64          `json:"recorded_bytes"`
	Errors        []string       `json:"errors,omitempty"`
}

func probeLock(path string) lockStatus {
	st := lockStatus{Path: path}
	pid, held, err := lock.Probe(path)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Running, st.PID = held, pid
	return st
}

func runSystemStatus(args []string) int {
	fs := newFlagSet("system status")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Override state.path")
	jsonOut := fs.Bool("json", false, "Output status as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}

	report := statusReport{
		Config:        cfg.SourcePath,
		Service:       probeLock(cfg.Service.LockPath),
		Sync:          probeLock(cfg.Sync.LockPath),
		StatePath:     cfg.State.Path,
		RecordingsDir: cfg.Recordings.BaseDir,
	}

	ctx := context.Background()
	if db, err := storage.OpenSQLite(ctx, cfg.State.Path); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("state: %v", err))
	} else {
		defer db.Close()
		if v, err := storage.SchemaVersion(ctx, db); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("schema version: %v", err))
		} else {
			report.SchemaVersion = v
		}
		if st, err := catalog.NewStore(db).Stats(ctx); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("catalog: %v", err))
		} else {
			report.Catalog = &st
		}
	}

	listing, err := inventory.List(cfg.Recordings.BaseDir, cfg.Recordings.Extension)
	switch {
	case errors.Is(err, inventory.ErrDirMissing):
		report.Errors = append(report.Errors, fmt.Sprintf("recordings: %s does not exist", cfg.Recordings.BaseDir))
	case err != nil:
		report.Errors = append(report.Errors, fmt.Sprintf("recordings: %v", err))
	default:
		report.Recordings = listing.Count
		report.RecordedBytes = listing.TotalSize()
	}

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
	} else {
		printStatus(stdout, report)
	}
	if len(report.Errors) > 0 {
		return 1
	}
	return 0
}

func printStatus(w io.Writer, r statusReport) {
	if r.Config != "" {
		fmt.Fprintf(w, "Config:     %s\n", r.Config)
	}
	fmt.Fprintf(w, "Service:    %s\n", describeLock(r.Service))
	fmt.Fprintf(w, "Sync:       %s\n", describeLock(r.Sync))
	fmt.Fprintf(w, "State:      %s (schema v%d)\n", r.StatePath, r.SchemaVersion)
	if c := r.Catalog; c != nil {
		fmt.Fprintf(w, "Catalog:    %d file(s), %d pending backup, %s\n", c.TotalFiles, c.PendingFiles, humanize.Bytes(uint64(c.TotalBytes)))
		if c.LastSyncAt != nil {
			fmt.Fprintf(w, "Last sync:  %s %s\n", c.LastSyncStatus, humanize.Time(*c.LastSyncAt))
		}
	}
	fmt.Fprintf(w, "Recordings: %d file(s), %s in %s\n", r.Recordings, humanize.Bytes(uint64(r.RecordedBytes)), r.RecordingsDir)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "Error:      %s\n", e)
	}
}

func describeLock(st lockStatus) string {
	switch {
	case st.Error != "":
		return "unknown (" + st.Error + ")"
	case st.Running && st.PID > 0:
		return fmt.Sprintf("running (pid %d)", st.PID)
	case st.Running:
		return "running"
	default:
		return "stopped"
	}
}
