package recovery

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/mcap-offload/internal/sandbox"
)

var (
	// ErrInvalidRequest reports malformed input; nothing has been touched.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPathTraversal reports a name that resolves outside the base directory.
	ErrPathTraversal = sandbox.ErrPathTraversal
	// ErrFileNotFound reports a requested recording that does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrNotRegularFile reports a requested path that is a directory or special file.
	ErrNotRegularFile = errors.New("not a regular file")
	// ErrRecoveryFailed marks a per-file tool failure. It never aborts a batch.
	ErrRecoveryFailed = errors.New("recovery failed")
	// ErrRecoveryTimedOut marks a per-file timeout. It never aborts a batch.
	ErrRecoveryTimedOut = errors.New("recovery timed out")
	// ErrNoFilesRecovered reports a batch in which every file failed.
	ErrNoFilesRecovered = errors.New("no MCAP files were successfully recovered")
	// ErrToolUnavailable reports that the recovery tool cannot be executed at all.
	ErrToolUnavailable = errors.New("recovery tool unavailable")
	// ErrBaseDirMissing reports that the configured recordings directory is absent.
	ErrBaseDirMissing = errors.New("recordings directory does not exist")
	// ErrInternal wraps unexpected failures, including recovered panics.
	ErrInternal = errors.New("internal error")
)

// Phase names the pipeline stage in which a job failed.
type Phase string

const (
	PhaseValidating Phase = "validating"
	PhaseStaging    Phase = "staging"
	PhaseRecovering Phase = "recovering"
	PhaseArchiving  Phase = "archiving"
)

// JobError is the terminal error of a failed job.
type JobError struct {
	JobID string
	Phase Phase
	// Name is the requested filename that caused the failure, if any.
	Name string
	Err  error
}

func (e *JobError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q: %v", e.Phase, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrPathTraversal) ||
		errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrNotRegularFile)
}

// PhaseOf returns the failing phase recorded in err, or "" when err is not a
// *JobError.
func PhaseOf(err error) Phase {
	var jerr *JobError
	if errors.As(err, &jerr) {
		return jerr.Phase
	}
	return ""
}
