// Package syncer runs out-of-band sync jobs and records each run in the
// catalog.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/mcap-offload/internal/catalog"
	"github.com/mattjoyce/mcap-offload/internal/lock"
)

// ErrAlreadyRunning is returned when a sync is in progress in this process
// or in another process holding the sync lock.
var ErrAlreadyRunning = errors.New("sync already running")

// Result is what a sync backend reports.
type Result struct {
	Files int
	Bytes int64
}

// Runner performs one sync.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// LogStore persists sync run history.
type LogStore interface {
	StartSync(ctx context.Context) (*catalog.SyncLog, error)
	FinishSync(ctx context.Context, id string, files int, bytes int64, runErr error) error
}

// Syncer allows at most one run at a time.
type Syncer struct {
	store    LogStore
	runner   Runner
	lockPath string
	logger   *slog.Logger

	mu       sync.Mutex
	current  string
	onFinish func(id string, res Result, err error)
	wg       sync.WaitGroup
}

func New(store LogStore, runner Runner, lockPath string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{store: store, runner: runner, lockPath: lockPath, logger: logger}
}

// OnFinish registers fn to run after each sync result is recorded.
func (s *Syncer) OnFinish(fn func(id string, res Result, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinish = fn
}

// Current returns the id of the running sync, if any.
func (s *Syncer) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != ""
}

// Start begins a sync in the background and returns its running log.
// The run outlives ctx's cancellation but keeps its values.
func (s *Syncer) Start(ctx context.Context) (*catalog.SyncLog, error) {
	entry, release, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		s.execute(context.WithoutCancel(ctx), entry)
	}()
	return entry, nil
}

// Run performs a sync synchronously.
func (s *Syncer) Run(ctx context.Context) (*catalog.SyncLog, Result, error) {
	entry, release, err := s.begin(ctx)
	if err != nil {
		return nil, Result{}, err
	}
	defer release()

	res, runErr := s.execute(ctx, entry)
	return entry, res, runErr
}

// Wait blocks until background runs finish.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

func (s *Syncer) begin(ctx context.Context) (*catalog.SyncLog, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, s.current)
	}

	var fl *lock.FileLock
	if s.lockPath != "" {
		var err error
		fl, err = lock.TryAcquire(s.lockPath)
		if errors.Is(err, lock.ErrLocked) {
			return nil, nil, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("acquire sync lock: %w", err)
		}
	}

	entry, err := s.store.StartSync(ctx)
	if err != nil {
		_ = fl.Release()
		return nil, nil, err
	}
	s.current = entry.ID

	release := func() {
		s.mu.Lock()
		s.current = ""
		s.mu.Unlock()
		if err := fl.Release(); err != nil {
			s.logger.Warn("failed to release sync lock", "path", s.lockPath, "error", err)
		}
	}
	return entry, release, nil
}

func (s *Syncer) execute(ctx context.Context, entry *catalog.SyncLog) (Result, error) {
	logger := s.logger.With("sync_id", entry.ID)
	logger.Info("sync started")

	res, runErr := s.runner.Run(ctx)
	if runErr != nil {
		logger.Error("sync failed", "files", res.Files, "bytes", res.Bytes, "error", runErr)
	} else {
		logger.Info("sync completed", "files", res.Files, "bytes", res.Bytes)
	}

	if err := s.store.FinishSync(context.WithoutCancel(ctx), entry.ID, res.Files, res.Bytes, runErr); err != nil {
		logger.Error("failed to record sync result", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	s.mu.Lock()
	notify := s.onFinish
	s.mu.Unlock()
	if notify != nil {
		notify(entry.ID, res, runErr)
	}
	return res, runErr
}
