package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const maxCommandOutput = 64 * 1024

// CommandRunner delegates the sync to an external command, for example
// `systemctl start ksums-sync.service`.
type CommandRunner struct {
	Argv        []string
	Timeout     time.Duration
	GracePeriod time.Duration
	logger      *slog.Logger
}

func NewCommandRunner(argv []string, timeout time.Duration, logger *slog.Logger) *CommandRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRunner{Argv: argv, Timeout: timeout, GracePeriod: 5 * time.Second, logger: logger}
}

func (r *CommandRunner) Run(ctx context.Context) (Result, error) {
	if len(r.Argv) == 0 || strings.TrimSpace(r.Argv[0]) == "" {
		return Result{}, fmt.Errorf("sync command is empty")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Argv[0], r.Argv[1:]...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = r.GracePeriod

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("sync command finished", "argv", r.Argv, "duration", time.Since(start))

	if err == nil {
		return Result{}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("sync command timed out after %s", r.Timeout)
		}
		return Result{}, fmt.Errorf("sync command cancelled: %w", ctxErr)
	}
	return Result{}, fmt.Errorf("sync command %q: %w: %s", r.Argv[0], err, tail(out.Bytes()))
}

func tail(b []byte) string {
	if len(b) > maxCommandOutput {
		b = b[len(b)-maxCommandOutput:]
	}
	return strings.TrimSpace(string(b))
}
