package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Stats summarizes the catalog.
type Stats struct {
	TotalFiles     int64      `json:"total_files"`
	BackedUpFiles  int64      `json:"backed_up_files"`
	PendingFiles   int64      `json:"pending_files"`
	TotalBytes     int64      `json:"total_bytes"`
	SyncRuns       int64      `json:"sync_runs"`
	LastSyncStatus SyncStatus `json:"last_sync_status,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(backed_up), 0), COALESCE(SUM(filesize), 0) FROM mcap_files;
`).Scan(&st.TotalFiles, &st.BackedUpFiles, &st.TotalBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("file stats: %w", err)
	}
	st.PendingFiles = st.TotalFiles - st.BackedUpFiles

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_logs;`).Scan(&st.SyncRuns); err != nil {
		return Stats{}, fmt.Errorf("sync stats: %w", err)
	}

	var (
		status    string
		startedAt string
	)
	err = s.db.QueryRowContext(ctx, `
SELECT status, started_at FROM sync_logs ORDER BY started_at DESC LIMIT 1;
`).Scan(&status, &startedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return st, nil
	case err != nil:
		return Stats{}, fmt.Errorf("last sync: %w", err)
	}
	at, err := parseTime(startedAt)
	if err != nil {
		return Stats{}, err
	}
	st.LastSyncStatus = SyncStatus(status)
	st.LastSyncAt = &at
	return st, nil
}
