package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/mcap-offload/internal/catalog"
	"github.com/mattjoyce/mcap-offload/internal/inventory"
)

// FileCatalog is the catalog surface the S3 backend needs.
type FileCatalog interface {
	Register(ctx context.Context, rec catalog.FileRecord) (*catalog.FileRecord, error)
	ListPendingBackup(ctx context.Context) ([]catalog.FileRecord, error)
	MarkBackedUp(ctx context.Context, id int64, at time.Time) error
}

// Uploader puts one local file into object storage.
type Uploader interface {
	Key(name string) string
	Upload(ctx context.Context, localPath, key string) (int64, error)
}

// S3Runner registers recordings found on disk and uploads those not yet
// backed up. A failed upload does not stop the rest; the run fails if any
// upload failed.
type S3Runner struct {
	dir      string
	ext      string
	catalog  FileCatalog
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time
}

func NewS3Runner(dir, ext string, cat FileCatalog, up Uploader, logger *slog.Logger) *S3Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Runner{dir: dir, ext: ext, catalog: cat, uploader: up, logger: logger, now: time.Now}
}

func (r *S3Runner) Run(ctx context.Context) (Result, error) {
	listing, err := inventory.List(r.dir, r.ext)
	if err != nil {
		return Result{}, err
	}

	for _, f := range listing.Files {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		full := filepath.Join(r.dir, f.Name)
		sum, err := inventory.Checksum(full)
		if err != nil {
			r.logger.Warn("skipping unreadable recording", "file", f.Name, "error", err)
			continue
		}
		if _, err := r.catalog.Register(ctx, catalog.FileRecord{
			Filename: f.Name,
			Filepath: full,
			Filesize: f.Size,
			Checksum: sum,
		}); err != nil {
			return Result{}, fmt.Errorf("register %s: %w", f.Name, err)
		}
	}

	pending, err := r.catalog.ListPendingBackup(ctx)
	if err != nil {
		return Result{}, err
	}

	var (
		res    Result
		failed []error
	)
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := os.Stat(rec.Filepath); err != nil {
			r.logger.Warn("catalogued recording missing on disk", "file", rec.Filepath, "error", err)
			continue
		}
		n, err := r.uploader.Upload(ctx, rec.Filepath, r.uploader.Key(rec.Filename))
		if err != nil {
			failed = append(failed, err)
			continue
		}
		if err := r.catalog.MarkBackedUp(ctx, rec.ID, r.now()); err != nil {
			return res, err
		}
		res.Files++
		res.Bytes += n
	}

	r.logger.Info("offload pass finished",
		"uploaded", res.Files,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"failed", len(failed),
	)
	if len(failed) > 0 {
		return res, fmt.Errorf("%d of %d uploads failed: %w", len(failed), len(pending), errors.Join(failed...))
	}
	return res, nil
}
