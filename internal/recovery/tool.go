package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

//go:generate mockgen -destination=mocks/mock_tool.go -package=mocks github.com/mattjoyce/mcap-offload/internal/recovery Tool

const (
	// maxStderrBytes caps the diagnostic text kept per invocation.
	maxStderrBytes = 64 * 1024

	// defaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	defaultGracePeriod = 5 * time.Second
)

// Invocation is one request to repair a single staged file.
type Invocation struct {
	Input   string
	Output  string
	WorkDir string
	Timeout time.Duration
}

// Outcome is what the tool reported for one invocation.
type Outcome struct {
	ExitCode int
	TimedOut bool
	Stderr   string
	Duration time.Duration
}

// Tool runs the external repair program.
//
// Run returns a non-nil error only for infrastructure problems (binary
// missing, process could not start, caller cancelled). A non-zero exit or a
// timeout is reported through Outcome.
type Tool interface {
	Run(ctx context.Context, inv Invocation) (Outcome, error)
}

// MCAPTool invokes `<binary> recover <input> -o <output>`.
type MCAPTool struct {
	Binary      string
	GracePeriod time.Duration
	logger      *slog.Logger
}

var _ Tool = (*MCAPTool)(nil)

// NewMCAPTool returns a Tool backed by the mcap CLI at binary.
func NewMCAPTool(binary string, logger *slog.Logger) *MCAPTool {
	return &MCAPTool{
		Binary:      binary,
		GracePeriod: defaultGracePeriod,
		logger:      logger,
	}
}

// Args returns the command line used for inv, without the binary.
func (t *MCAPTool) Args(inv Invocation) []string {
	return []string{"recover", inv.Input, "-o", inv.Output}
}

// Available reports whether the binary can be found.
func (t *MCAPTool) Available() error {
	if _, err := exec.LookPath(t.Binary); err != nil {
		return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	return nil
}

// Run spawns the tool in its own process group and enforces inv.Timeout with
// SIGTERM, then SIGKILL after the grace period.
func (t *MCAPTool) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	if inv.Timeout <= 0 {
		return Outcome{}, fmt.Errorf("invocation timeout must be positive")
	}

	// Termination is managed here rather than through CommandContext so the
	// whole process group gets the grace period.
	cmd := exec.Command(t.Binary, t.Args(inv)...)
	cmd.Dir = inv.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	t.logger.Debug("spawning recovery tool", "binary", t.Binary, "input", inv.Input, "output", inv.Output, "timeout", inv.Timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return Outcome{}, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
		}
		return Outcome{}, fmt.Errorf("start recovery tool: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	timeoutTimer := time.NewTimer(inv.Timeout)
	defer timeoutTimer.Stop()

	select {
	case <-timeoutTimer.C:
		t.logger.Warn("recovery tool timed out, sending SIGTERM", "input", inv.Input, "timeout", inv.Timeout)
		t.terminate(cmd, waitErr)
		return Outcome{
			ExitCode: -1,
			TimedOut: true,
			Stderr:   truncateStderr(stderr.String()),
			Duration: time.Since(start),
		}, nil

	case <-ctx.Done():
		t.logger.Warn("recovery cancelled, terminating tool", "input", inv.Input)
		t.terminate(cmd, waitErr)
		return Outcome{}, ctx.Err()

	case err := <-waitErr:
		out := Outcome{
			Stderr:   truncateStderr(stderr.String()),
			Duration: time.Since(start),
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return out, fmt.Errorf("wait for recovery tool: %w", err)
			}
			out.ExitCode = exitErr.ExitCode()
		}
		return out, nil
	}
}

// terminate signals the process group and blocks until the process is reaped.
func (t *MCAPTool) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		t.logger.Error("failed to send SIGTERM", "pid", pgid, "error", err)
	}

	grace := time.NewTimer(t.GracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		t.logger.Info("recovery tool exited after SIGTERM", "pid", pgid)
	case <-grace.C:
		t.logger.Warn("recovery tool did not exit after SIGTERM, sending SIGKILL", "pid", pgid)
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			t.logger.Error("failed to send SIGKILL", "pid", pgid, "error", err)
		}
		<-waitErr
	}
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
