package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/mcap-offload/internal/catalog"
	"github.com/mattjoyce/mcap-offload/internal/config"
	"github.com/mattjoyce/mcap-offload/internal/offload"
	"github.com/mattjoyce/mcap-offload/internal/recovery"
	"github.com/mattjoyce/mcap-offload/internal/storage"
	"github.com/mattjoyce/mcap-offload/internal/syncer"
	"github.com/mattjoyce/mcap-offload/internal/workspace"
)

// app holds the wired components shared by the CLI commands.
type app struct {
	cfg        *config.Config
	db         *sql.DB
	store      *catalog.Store
	workspaces workspace.Manager
	tool       *recovery.MCAPTool
	pipeline   *recovery.Pipeline
	syncer     *syncer.Syncer
}

// loadConfig loads path, or the discovered config, or env-only defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.Discover()
	}
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state database %s: %w", cfg.State.Path, err)
	}

	a := &app{cfg: cfg, db: db, store: catalog.NewStore(db)}

	wm, err := workspace.NewFSManager(cfg.Recovery.TempDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init workspace manager: %w", err)
	}
	a.workspaces = wm
	logger.Debug("workspace manager ready", "temp_root", wm.TempRoot())

	a.tool = recovery.NewMCAPTool(cfg.Recovery.Tool, logger.With("component", "mcap"))
	a.pipeline, err = recovery.New(recovery.Options{
		BaseDir:       cfg.Recordings.BaseDir,
		Timeout:       cfg.Recovery.Timeout,
		Workers:       cfg.Recovery.Workers,
		OutputSuffix:  cfg.Recovery.OutputSuffix,
		ArchivePrefix: cfg.Recovery.ArchivePrefix,
	}, wm, a.tool, logger.With("component", "recovery"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	runner, err := newSyncRunner(ctx, cfg, a.store, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.syncer = syncer.New(a.store, runner, cfg.Sync.LockPath, logger.With("component", "sync"))
	return a, nil
}

func newSyncRunner(ctx context.Context, cfg *config.Config, store *catalog.Store, logger *slog.Logger) (syncer.Runner, error) {
	switch cfg.Sync.Mode {
	case config.SyncModeS3:
		oc := cfg.Offload
		up, err := offload.NewS3Uploader(ctx, offload.Config{
			Bucket:          oc.Bucket,
			Region:          oc.Region,
			Endpoint:        oc.Endpoint,
			AccessKeyID:     oc.AccessKeyID,
			SecretAccessKey: oc.SecretAccessKey,
			Prefix:          oc.Prefix,
			UsePathStyle:    oc.UsePathStyle,
			MaxAttempts:     oc.MaxAttempts,
		}, logger.With("component", "offload"))
		if err != nil {
			return nil, err
		}
		logger.Info("s3 offload configured", "bucket", up.Bucket(), "endpoint", oc.Endpoint)
		return syncer.NewS3Runner(cfg.Recordings.BaseDir, cfg.Recordings.Extension, store, up, logger.With("component", "sync")), nil
	default:
		return syncer.NewCommandRunner(cfg.Sync.Command, cfg.Sync.Timeout, logger.With("component", "sync")), nil
	}
}

func (a *app) Close() error {
	return a.db.Close()
}
