package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FileRecord is a recording known to the catalog.
type FileRecord struct {
	ID         int64      `json:"id"`
	Filename   string     `json:"filename"`
	Filepath   string     `json:"filepath"`
	Filesize   int64      `json:"filesize"`
	Checksum   string     `json:"checksum,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	BackedUp   bool       `json:"backed_up"`
	BackedUpAt *time.Time `json:"backed_up_at,omitempty"`
}

const fileColumns = `id, filename, filepath, filesize, checksum, created_at, updated_at, backed_up, backed_up_at`

func validateFile(rec FileRecord) error {
	if strings.TrimSpace(rec.Filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(rec.Filepath) == "" {
		return fmt.Errorf("%w: filepath is required", ErrInvalidRecord)
	}
	if rec.Filesize < 0 {
		return fmt.Errorf("%w: filesize must be >= 0", ErrInvalidRecord)
	}
	return nil
}

// CreateFile inserts rec and returns the stored row.
func (s *Store) CreateFile(ctx context.Context, rec FileRecord) (*FileRecord, error) {
	if err := validateFile(rec); err != nil {
		return nil, err
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO mcap_files (filename, filepath, filesize, checksum, created_at, updated_at, backed_up, backed_up_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, rec.Filename, rec.Filepath, rec.Filesize, nullString(rec.Checksum),
		formatTime(now), formatTime(now), rec.BackedUp, nullTime(rec.BackedUpAt))
	if err != nil {
		return nil, fmt.Errorf("insert file record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("file record id: %w", err)
	}
	return s.GetFile(ctx, id)
}

// GetFile loads one record by id.
func (s *Store) GetFile(ctx context.Context, id int64) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM mcap_files WHERE id = ?;`, id)
	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file record %d: %w", id, ErrNotFound)
	}
	return rec, err
}

// FindFileByPath loads the record registered for path.
func (s *Store) FindFileByPath(ctx context.Context, path string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM mcap_files WHERE filepath = ? ORDER BY id LIMIT 1;`, path)
	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file record for %q: %w", path, ErrNotFound)
	}
	return rec, err
}

// ListFiles returns all records, newest first.
func (s *Store) ListFiles(ctx context.Context) ([]FileRecord, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM mcap_files ORDER BY created_at DESC, id DESC;`)
}

// ListPendingBackup returns records not yet backed up, oldest first.
func (s *Store) ListPendingBackup(ctx context.Context) ([]FileRecord, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM mcap_files WHERE backed_up = 0 ORDER BY created_at ASC, id ASC;`)
}

// UpdateFile replaces the mutable fields of the record with rec.ID.
func (s *Store) UpdateFile(ctx context.Context, rec FileRecord) (*FileRecord, error) {
	if err := validateFile(rec); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE mcap_files
SET filename = ?, filepath = ?, filesize = ?, checksum = ?, updated_at = ?, backed_up = ?, backed_up_at = ?
WHERE id = ?;
`, rec.Filename, rec.Filepath, rec.Filesize, nullString(rec.Checksum),
		formatTime(s.now()), rec.BackedUp, nullTime(rec.BackedUpAt), rec.ID)
	if err != nil {
		return nil, fmt.Errorf("update file record %d: %w", rec.ID, err)
	}
	if err := expectOneRow(res, rec.ID); err != nil {
		return nil, err
	}
	return s.GetFile(ctx, rec.ID)
}

// DeleteFile removes the record with id.
func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mcap_files WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete file record %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

// MarkBackedUp flags the record as offloaded at the given time.
func (s *Store) MarkBackedUp(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE mcap_files SET backed_up = 1, backed_up_at = ?, updated_at = ? WHERE id = ?;
`, formatTime(at), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("mark file record %d backed up: %w", id, err)
	}
	return expectOneRow(res, id)
}

// Register records a file seen on disk. An existing record with the same
// path is refreshed; a changed checksum clears its backup flag.
func (s *Store) Register(ctx context.Context, rec FileRecord) (*FileRecord, error) {
	existing, err := s.FindFileByPath(ctx, rec.Filepath)
	switch {
	case errors.Is(err, ErrNotFound):
		rec.BackedUp = false
		rec.BackedUpAt = nil
		return s.CreateFile(ctx, rec)
	case err != nil:
		return nil, err
	}

	if existing.Checksum == rec.Checksum && existing.Filesize == rec.Filesize {
		return existing, nil
	}
	existing.Filename = rec.Filename
	existing.Filesize = rec.Filesize
	existing.Checksum = rec.Checksum
	existing.BackedUp = false
	existing.BackedUpAt = nil
	return s.UpdateFile(ctx, *existing)
}

func (s *Store) queryFiles(ctx context.Context, query string, args ...any) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query file records: %w", err)
	}
	defer rows.Close()

	out := []FileRecord{}
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(sc scanner) (*FileRecord, error) {
	var (
		rec        FileRecord
		checksum   sql.NullString
		createdAt  string
		updatedAt  string
		backedUpAt sql.NullString
	)
	if err := sc.Scan(&rec.ID, &rec.Filename, &rec.Filepath, &rec.Filesize, &checksum,
		&createdAt, &updatedAt, &rec.BackedUp, &backedUpAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan file record: %w", err)
	}
	rec.Checksum = checksum.String

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if rec.BackedUpAt, err = parseNullTime(backedUpAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func expectOneRow(res sql.Result, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %v: %w", id, ErrNotFound)
	}
	return nil
}
