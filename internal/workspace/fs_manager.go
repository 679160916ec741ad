package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DirPrefix marks directories owned by the manager inside the temp root.
	DirPrefix = "recoverjob-"

	inputDirName  = "input"
	outputDirName = "output"
)

// fsWorkspaceManager manages per-job workspace directories on local disk.
type fsWorkspaceManager struct {
	tempRoot string
	now      func() time.Time
	newID    func() string

	mu   sync.Mutex
	live map[string]struct{}
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at
// tempRoot. An empty tempRoot selects os.TempDir().
func NewFSManager(tempRoot string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(tempRoot)
	if trimmed == "" {
		trimmed = os.TempDir()
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace temp root: %w", err)
	}

	return &fsWorkspaceManager{
		tempRoot: abs,
		now:      time.Now,
		newID:    uuid.NewString,
		live:     make(map[string]struct{}),
	}, nil
}

// TempRoot returns the directory under which job workspaces are created.
func (m *fsWorkspaceManager) TempRoot() string {
	return m.tempRoot
}

// Create allocates recoverjob-<uuid>/{input,output} under the temp root.
func (m *fsWorkspaceManager) Create(ctx context.Context) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	jobID := m.newID()
	ws, err := m.layout(jobID)
	if err != nil {
		return Workspace{}, err
	}

	for _, dir := range []string{ws.InputDir, ws.OutputDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			_ = os.RemoveAll(ws.Root)
			return Workspace{}, fmt.Errorf("create workspace for job %q: %w", jobID, err)
		}
	}

	m.mu.Lock()
	m.live[jobID] = struct{}{}
	m.mu.Unlock()

	return ws, nil
}

// Destroy removes the workspace tree. It refuses to remove anything that is
// not a manager-owned directory directly under the temp root.
func (m *fsWorkspaceManager) Destroy(ws Workspace) error {
	expected, err := m.layout(ws.JobID)
	if err != nil {
		return err
	}
	if filepath.Clean(ws.Root) != expected.Root {
		return fmt.Errorf("workspace root %q does not belong to job %q", ws.Root, ws.JobID)
	}

	if err := os.RemoveAll(expected.Root); err != nil {
		return fmt.Errorf("remove workspace for job %q: %w", ws.JobID, err)
	}

	m.mu.Lock()
	delete(m.live, ws.JobID)
	m.mu.Unlock()
	return nil
}

// Cleanup removes job workspaces older than olderThan based on directory
// modification time. Workspaces created by this manager and not yet destroyed
// are never removed, whatever their age. Entries without the job prefix are
// left alone since the temp root is usually shared with other programs.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.tempRoot)
	if errors.Is(err, os.ErrNotExist) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace temp root: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DirPrefix) {
			continue
		}
		if m.isLive(strings.TrimPrefix(entry.Name(), DirPrefix)) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(m.tempRoot, entry.Name())); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

// Sweep runs Cleanup every interval until ctx is cancelled.
func Sweep(ctx context.Context, m Manager, interval, olderThan time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := m.Cleanup(ctx, olderThan)
			if err != nil {
				logger.Error("stale workspace sweep failed", "error", err)
				continue
			}
			if report.DeletedDirs > 0 {
				logger.Info("removed stale workspaces", "count", report.DeletedDirs)
			}
		}
	}
}

func (m *fsWorkspaceManager) isLive(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[jobID]
	return ok
}

func (m *fsWorkspaceManager) layout(jobID string) (Workspace, error) {
	if err := validateJobID(jobID); err != nil {
		return Workspace{}, err
	}
	root := filepath.Join(m.tempRoot, DirPrefix+jobID)
	return Workspace{
		JobID:     jobID,
		Root:      root,
		InputDir:  filepath.Join(root, inputDirName),
		OutputDir: filepath.Join(root, outputDirName),
	}, nil
}

func validateJobID(jobID string) error {
	trimmed := strings.TrimSpace(jobID)
	if trimmed == "" {
		return fmt.Errorf("jobID is empty")
	}
	if trimmed != jobID || trimmed == "." || trimmed == ".." {
		return fmt.Errorf("jobID %q is invalid", jobID)
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return fmt.Errorf("jobID %q must not contain path separators", jobID)
	}
	return nil
}
