package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/mcap-offload/internal/api"
	"github.com/mattjoyce/mcap-offload/internal/lock"
	"github.com/mattjoyce/mcap-offload/internal/log"
	"github.com/mattjoyce/mcap-offload/internal/syncer"
	"github.com/mattjoyce/mcap-offload/internal/workspace"
)

type syncFinished struct {
	SyncID string `json:"sync_id"`
	Files  int    `json:"files"`
	Bytes  int64  `json:"bytes"`
	Error  string `json:"error,omitempty"`
}

func runStart(args []string) int {
	fs := newFlagSet("start")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Override state.path")
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

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("mcap-offload starting", "version", version, "config", cfg.SourcePath, "base_dir", cfg.Recordings.BaseDir)

	pidLock, err := lock.TryAcquire(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire instance lock (another instance may be running)", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, log.Get())
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return 1
	}
	defer a.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	if n, err := a.store.FailRunning(ctx, "interrupted by service restart"); err != nil {
		logger.Warn("failed to close stale sync logs", "error", err)
	} else if n > 0 {
		logger.Warn("marked interrupted sync runs as failed", "count", n)
	}

	if err := a.tool.Available(); err != nil {
		logger.Warn("recovery tool not available; recover requests will fail", "tool", cfg.Recovery.Tool, "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)

	go workspace.Sweep(ctx, a.workspaces, cfg.Recovery.SweepInterval, cfg.Recovery.StaleAfter, log.WithComponent("sweeper"))

	if cfg.API.Enabled {
		srv := api.New(api.Config{
			Listen:          cfg.API.Listen,
			ServiceName:     cfg.Service.Name,
			BaseDir:         cfg.Recordings.BaseDir,
			Extension:       cfg.Recordings.Extension,
			CORSOrigins:     cfg.API.CORSOrigins,
			MaxRequestBytes: cfg.API.MaxRequestBytes,
			RecoverTimeout:  cfg.Recovery.Timeout,
			RecoverWorkers:  cfg.Recovery.Workers,
		}, a.pipeline, a.store, a.syncer, log.WithComponent("api"))

		a.syncer.OnFinish(func(id string, res syncer.Result, err error) {
			ev := syncFinished{SyncID: id, Files: res.Files, Bytes: res.Bytes}
			if err != nil {
				ev.Error = err.Error()
			}
			srv.Publish("sync.finished", ev)
		})

		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("mcap-offload running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		a.syncer.Wait()
		return 1
	}

	a.syncer.Wait()
	logger.Info("mcap-offload stopped")
	return 0
}
