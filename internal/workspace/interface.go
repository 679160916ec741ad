package workspace

import (
	"context"
	"time"
)

// Workspace is the isolated directory tree owned by one recovery job.
//
// Root contains an input/ area for staged copies and an output/ area for tool
// results. Nothing outside Root is ever written on behalf of the job.
type Workspace struct {
	JobID     string
	Root      string
	InputDir  string
	OutputDir string
}

// CleanupReport summarizes a stale-workspace sweep.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs the lifecycle of per-job workspaces.
type Manager interface {
	// Create allocates a fresh workspace under a newly generated job ID.
	Create(ctx context.Context) (Workspace, error)

	// Destroy recursively removes the workspace. Removing an already
	// removed workspace is not an error.
	Destroy(ws Workspace) error

	// Cleanup removes job workspaces older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
