package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncLog is one sync run.
type SyncLog struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FilesSynced  int        `json:"files_synced"`
	BytesSynced  int64      `json:"bytes_synced"`
	Status       SyncStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

const syncColumns = `id, started_at, completed_at, files_synced, bytes_synced, status, error_message`

// StartSync inserts a running sync log.
func (s *Store) StartSync(ctx context.Context) (*SyncLog, error) {
	log := &SyncLog{
		ID:        uuid.NewString(),
		StartedAt: s.now().UTC(),
		Status:    SyncRunning,
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_logs (id, started_at, files_synced, bytes_synced, status)
VALUES (?, ?, 0, 0, ?);
`, log.ID, formatTime(log.StartedAt), string(log.Status))
	if err != nil {
		return nil, fmt.Errorf("insert sync log: %w", err)
	}
	return log, nil
}

// FinishSync closes a running sync log. A non-nil runErr marks it failed.
func (s *Store) FinishSync(ctx context.Context, id string, files int, bytes int64, runErr error) error {
	status := SyncCompleted
	var msg sql.NullString
	if runErr != nil {
		status = SyncFailed
		msg = nullString(runErr.Error())
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE sync_logs
SET completed_at = ?, files_synced = ?, bytes_synced = ?, status = ?, error_message = ?
WHERE id = ? AND status = ?;
`, formatTime(s.now()), files, bytes, string(status), msg, id, string(SyncRunning))
	if err != nil {
		return fmt.Errorf("finish sync log %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

// GetSync loads one sync log.
func (s *Store) GetSync(ctx context.Context, id string) (*SyncLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncColumns+` FROM sync_logs WHERE id = ?;`, id)
	log, err := scanSync(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync log %s: %w", id, ErrNotFound)
	}
	return log, err
}

// ListSyncs returns sync logs, newest first. limit <= 0 returns all.
func (s *Store) ListSyncs(ctx context.Context, limit int) ([]SyncLog, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_logs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	defer rows.Close()

	out := []SyncLog{}
	for rows.Next() {
		log, err := scanSync(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync logs: %w", err)
	}
	return out, nil
}

// FailRunning marks sync logs left running by a previous process as failed.
func (s *Store) FailRunning(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE sync_logs SET status = ?, completed_at = ?, error_message = ? WHERE status = ?;
`, string(SyncFailed), formatTime(s.now()), reason, string(SyncRunning))
	if err != nil {
		return 0, fmt.Errorf("fail running sync logs: %w", err)
	}
	return res.RowsAffected()
}

func scanSync(sc scanner) (*SyncLog, error) {
	var (
		log         SyncLog
		startedAt   string
		completedAt sql.NullString
		status      string
		errMsg      sql.NullString
	)
	if err := sc.Scan(&log.ID, &startedAt, &completedAt, &log.FilesSynced, &log.BytesSynced, &status, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan sync log: %w", err)
	}
	log.Status = SyncStatus(status)
	log.ErrorMessage = errMsg.String

	var err error
	if log.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if log.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &log, nil
}
