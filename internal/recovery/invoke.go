package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ResultStatus classifies the outcome of one file's recovery.
type ResultStatus string

const (
	StatusRecovered ResultStatus = "recovered"
	StatusFailed    ResultStatus = "failed"
	StatusTimedOut  ResultStatus = "timed_out"
)

// Result is the per-file outcome of the recovery phase.
type Result struct {
	Staged     StagedFile
	Status     ResultStatus
	OutputPath string
	// Err wraps ErrRecoveryFailed or ErrRecoveryTimedOut for non-recovered files.
	Err      error
	Stderr   string
	Duration time.Duration
}

// Recovered reports whether the file made it into the archive.
func (r Result) Recovered() bool { return r.Status == StatusRecovered }

// RecoveredName derives the output filename by inserting suffix before the
// extension: "a.mcap" -> "a-recovered.mcap".
func RecoveredName(input, suffix string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	if ext == base {
		ext = ""
	}
	return strings.TrimSuffix(base, ext) + suffix + ext
}

// recoverOne runs the tool for a single staged file. The returned error is
// non-nil only for infrastructure failures that make the rest of the batch
// pointless; per-file failures are carried in Result.
func recoverOne(ctx context.Context, tool Tool, opts Options, workDir, outputDir string, sf StagedFile, logger *slog.Logger) (Result, error) {
	output := filepath.Join(outputDir, RecoveredName(sf.Dest, opts.OutputSuffix))
	fileLogger := logger.With("file", sf.Requested)

	out, err := tool.Run(ctx, Invocation{
		Input:   sf.Dest,
		Output:  output,
		WorkDir: workDir,
		Timeout: opts.Timeout,
	})
	if err != nil {
		fileLogger.Error("recovery tool could not run", "error", err)
		return Result{}, err
	}

	res := Result{Staged: sf, Stderr: out.Stderr, Duration: out.Duration}

	switch {
	case out.TimedOut:
		res.Status = StatusTimedOut
		res.Err = fmt.Errorf("%w after %v", ErrRecoveryTimedOut, opts.Timeout)
		fileLogger.Error("timeout recovering file", "timeout", opts.Timeout)

	case out.ExitCode != 0:
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = "Unknown error"
		}
		res.Status = StatusFailed
		res.Err = fmt.Errorf("%w: exit code %d: %s", ErrRecoveryFailed, out.ExitCode, msg)
		fileLogger.Error("mcap recover failed", "exit_code", out.ExitCode, "stderr", msg)

	default:
		info, statErr := os.Stat(output)
		if statErr != nil || !info.Mode().IsRegular() {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("%w: tool exited 0 but produced no output", ErrRecoveryFailed)
			fileLogger.Error("recovery produced no output file", "output", filepath.Base(output))
			break
		}
		res.Status = StatusRecovered
		res.OutputPath = output
		fileLogger.Info("successfully recovered", "output", filepath.Base(output), "duration_ms", out.Duration.Milliseconds())
	}

	return res, nil
}
