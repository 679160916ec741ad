package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattjoyce/mcap-offload/internal/sandbox"
	"github.com/mattjoyce/mcap-offload/internal/workspace"
)

// StagedFile is a requested recording copied into a job's input area.
type StagedFile struct {
	// Requested is the name exactly as the caller sent it.
	Requested string
	// Source is the sandbox-resolved path inside the base directory.
	Source string
	// Dest is input/<basename of Requested> inside the workspace.
	Dest string
}

// Stage copies every requested file into ws.InputDir in order. The first
// failure aborts staging and is returned as a *JobError; the caller owns the
// workspace and is responsible for destroying it.
func Stage(ctx context.Context, baseDir string, ws workspace.Workspace, names []string) ([]StagedFile, error) {
	staged := make([]StagedFile, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, &JobError{JobID: ws.JobID, Phase: PhaseStaging, Name: name, Err: err}
		}

		sf, err := stageOne(baseDir, ws, name)
		if err != nil {
			return nil, &JobError{JobID: ws.JobID, Phase: PhaseStaging, Name: name, Err: err}
		}
		staged = append(staged, sf)
	}
	return staged, nil
}

func stageOne(baseDir string, ws workspace.Workspace, name string) (StagedFile, error) {
	base, err := stagedBaseName(name)
	if err != nil {
		return StagedFile{}, err
	}

	src, err := sandbox.ResolveInside(baseDir, name)
	if err != nil {
		return StagedFile{}, err
	}

	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return StagedFile{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if err != nil {
		return StagedFile{}, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return StagedFile{}, fmt.Errorf("%w: %s", ErrNotRegularFile, name)
	}

	dest := filepath.Join(ws.InputDir, base)
	if !sandbox.Within(ws.InputDir, dest) || dest == ws.InputDir {
		return StagedFile{}, fmt.Errorf("%w: staged name %q leaves the input directory", ErrPathTraversal, base)
	}

	if err := copyFile(src, dest, info); err != nil {
		return StagedFile{}, err
	}
	return StagedFile{Requested: name, Source: src, Dest: dest}, nil
}

// stagedBaseName returns the workspace-local name for a requested file.
// Directory components are discarded.
func stagedBaseName(name string) (string, error) {
	base := filepath.Base(name)
	switch base {
	case ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: %q does not name a file", ErrInvalidRequest, name)
	}
	return base, nil
}

// copyFile copies content, permission bits and modification time. The
// destination must not exist yet.
func copyFile(src, dest string, info os.FileInfo) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm()|0o200)
	if err != nil {
		return fmt.Errorf("create staged copy: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close staged copy: %w", cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	if err := out.Chmod(info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod staged copy: %w", err)
	}
	if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("preserve mtime: %w", err)
	}
	return nil
}
