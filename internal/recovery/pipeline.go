package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/mcap-offload/internal/sandbox"
	"github.com/mattjoyce/mcap-offload/internal/workspace"
)

const (
	DefaultTimeout       = 300 * time.Second
	DefaultOutputSuffix  = "-recovered"
	DefaultArchivePrefix = "recovered_"
)

// Options configures a Pipeline.
type Options struct {
	// BaseDir is the sandbox root all requested names are resolved against.
	BaseDir string
	// Timeout bounds each tool invocation, not the whole batch.
	Timeout time.Duration
	// Workers bounds concurrent tool invocations. Values below 1 mean 1.
	Workers       int
	OutputSuffix  string
	ArchivePrefix string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.OutputSuffix == "" {
		o.OutputSuffix = DefaultOutputSuffix
	}
	if o.ArchivePrefix == "" {
		o.ArchivePrefix = DefaultArchivePrefix
	}
	return o
}

// State is a job's position in the pipeline.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateStaging    State = "staging"
	StateRecovering State = "recovering"
	StateArchiving  State = "archiving"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Bundle is the successful result of a batch.
type Bundle struct {
	JobID     string
	Archive   Archive
	Requested int
	Recovered int
	Results   []Result
}

// Pipeline runs batch recovery jobs. It holds no per-job state and is safe
// for concurrent use.
type Pipeline struct {
	opts       Options
	workspaces workspace.Manager
	tool       Tool
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline.
func New(opts Options, workspaces workspace.Manager, tool Tool, logger *slog.Logger) (*Pipeline, error) {
	if strings.TrimSpace(opts.BaseDir) == "" {
		return nil, fmt.Errorf("recovery base directory is empty")
	}
	if workspaces == nil {
		return nil, fmt.Errorf("workspace manager is nil")
	}
	if tool == nil {
		return nil, fmt.Errorf("recovery tool is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		opts:       opts.withDefaults(),
		workspaces: workspaces,
		tool:       tool,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Options returns the effective options after defaults.
func (p *Pipeline) Options() Options { return p.opts }

// job tracks one Run call.
type job struct {
	id        string
	requested []string
	ws        workspace.Workspace
	staged    []StagedFile
	results   []Result
	state     State
	logger    *slog.Logger
}

func (j *job) transition(s State) {
	j.logger.Debug("job state change", "from", j.state, "to", s)
	j.state = s
}

// Run executes stage -> recover -> archive for names. Staging is all or
// nothing, recovery is best effort per file. Once a workspace exists it is
// destroyed exactly once before Run returns, including when Run panics.
func (p *Pipeline) Run(ctx context.Context, names []string) (bundle *Bundle, err error) {
	j := &job{requested: names, state: StateIdle, logger: p.logger}
	defer func() {
		if err != nil {
			level := slog.LevelError
			if IsClientError(err) {
				level = slog.LevelWarn
			}
			j.logger.Log(ctx, level, "recovery job failed", "state", j.state, "error", err)
			j.state = StateFailed
		}
	}()

	j.transition(StateValidating)
	if err := p.validate(names); err != nil {
		return nil, err
	}

	ws, err := p.workspaces.Create(ctx)
	if err != nil {
		return nil, &JobError{Phase: PhaseValidating, Err: fmt.Errorf("%w: %v", ErrInternal, err)}
	}
	j.id = ws.JobID
	j.ws = ws
	j.logger = p.logger.With("job_id", ws.JobID)
	j.logger.Info("recovery job started", "files", len(names), "workspace", ws.Root)

	defer p.release(j)
	defer recoverPanic(j, &err)

	j.transition(StateStaging)
	j.staged, err = Stage(ctx, p.opts.BaseDir, ws, names)
	if err != nil {
		return nil, err
	}
	for _, sf := range j.staged {
		j.logger.Info("staged file for recovery", "file", sf.Requested)
	}

	j.transition(StateRecovering)
	if err := p.recoverAll(ctx, j); err != nil {
		return nil, err
	}

	outputs := make([]string, 0, len(j.results))
	for _, r := range j.results {
		if r.Recovered() {
			outputs = append(outputs, r.OutputPath)
		}
	}
	if len(outputs) == 0 {
		return nil, &JobError{JobID: j.id, Phase: PhaseRecovering, Err: ErrNoFilesRecovered}
	}

	j.transition(StateArchiving)
	archive, err := BuildArchive(ws.Root, ArchiveName(p.opts.ArchivePrefix, p.now()), outputs)
	if err != nil {
		return nil, &JobError{JobID: j.id, Phase: PhaseArchiving, Err: fmt.Errorf("%w: %v", ErrInternal, err)}
	}

	j.transition(StateCompleted)
	j.logger.Info("created archive", "archive", archive.Name, "recovered", len(outputs), "requested", len(names), "bytes", len(archive.Data))

	return &Bundle{
		JobID:     j.id,
		Archive:   archive,
		Requested: len(names),
		Recovered: len(outputs),
		Results:   j.results,
	}, nil
}

// validate rejects bad input before any workspace exists.
func (p *Pipeline) validate(names []string) error {
	if len(names) == 0 {
		return &JobError{Phase: PhaseValidating, Err: fmt.Errorf("%w: expected a non-empty list of files", ErrInvalidRequest)}
	}

	info, err := os.Stat(p.opts.BaseDir)
	if err != nil || !info.IsDir() {
		return &JobError{Phase: PhaseValidating, Err: fmt.Errorf("%w: %s", ErrBaseDirMissing, p.opts.BaseDir)}
	}

	seen := make(map[string]string, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return &JobError{Phase: PhaseValidating, Name: name, Err: fmt.Errorf("%w: empty filename", ErrInvalidRequest)}
		}
		if _, err := sandbox.ResolveInside(p.opts.BaseDir, name); err != nil {
			return &JobError{Phase: PhaseValidating, Name: name, Err: err}
		}
		base, err := stagedBaseName(name)
		if err != nil {
			return &JobError{Phase: PhaseValidating, Name: name, Err: err}
		}
		if prev, dup := seen[base]; dup {
			return &JobError{Phase: PhaseValidating, Name: name, Err: fmt.Errorf("%w: %q and %q share the file name %q", ErrInvalidRequest, prev, name, base)}
		}
		seen[base] = name
	}
	return nil
}

// recoverAll invokes the tool for every staged file with at most Workers in
// flight. Per-file failures are collected; only infrastructure errors stop
// the batch.
func (p *Pipeline) recoverAll(ctx context.Context, j *job) error {
	results := make([]Result, len(j.staged))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, sf := range j.staged {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &JobError{JobID: j.id, Phase: PhaseRecovering, Name: sf.Requested, Err: fmt.Errorf("%w: panic: %v", ErrInternal, r)}
				}
			}()
			j.logger.Info("running recovery", "file", sf.Requested)
			res, err := recoverOne(gctx, p.tool, p.opts, j.ws.Root, j.ws.OutputDir, sf, j.logger)
			if err != nil {
				if !errors.Is(err, ErrToolUnavailable) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("%w: %v", ErrInternal, err)
				}
				return &JobError{JobID: j.id, Phase: PhaseRecovering, Name: sf.Requested, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.results = results
	return nil
}

func (p *Pipeline) release(j *job) {
	if err := p.workspaces.Destroy(j.ws); err != nil {
		j.logger.Error("failed to remove workspace", "workspace", j.ws.Root, "error", err)
		return
	}
	j.logger.Debug("workspace removed", "workspace", filepath.Base(j.ws.Root))
}

func recoverPanic(j *job, err *error) {
	r := recover()
	if r == nil {
		return
	}
	j.logger.Error("panic during recovery job", "panic", r)
	*err = &JobError{JobID: j.id, Phase: Phase(j.state), Err: fmt.Errorf("%w: panic: %v", ErrInternal, r)}
}
