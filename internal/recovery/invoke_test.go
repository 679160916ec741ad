package recovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	out   Outcome
	err   error
	write bool
}

func (s stubTool) Run(_ context.Context, inv Invocation) (Outcome, error) {
	if s.write {
		if err := os.WriteFile(inv.Output, []byte("ok"), 0o644); err != nil {
			return Outcome{}, err
		}
	}
	return s.out, s.err
}

func TestRecoveredName(t *testing.T) {
	cases := map[string]string{
		"a.mcap":          "a-recovered.mcap",
		"/x/y/run_1.mcap": "run_1-recovered.mcap",
		"noext":           "noext-recovered",
		"archive.tar.gz":  "archive.tar-recovered.gz",
		".hidden":         ".hidden-recovered",
	}
	for in, want := range cases {
		assert.Equal(t, want, RecoveredName(in, DefaultOutputSuffix), in)
	}
}

func TestRecoverOne_Classification(t *testing.T) {
	opts := Options{Timeout: time.Second, OutputSuffix: DefaultOutputSuffix}

	tests := []struct {
		name       string
		tool       stubTool
		wantStatus ResultStatus
		wantErr    error
	}{
		{name: "recovered", tool: stubTool{write: true}, wantStatus: StatusRecovered},
		{name: "exit zero without output", tool: stubTool{}, wantStatus: StatusFailed, wantErr: ErrRecoveryFailed},
		{name: "non-zero exit", tool: stubTool{out: Outcome{ExitCode: 1}, write: true}, wantStatus: StatusFailed, wantErr: ErrRecoveryFailed},
		{name: "timed out", tool: stubTool{out: Outcome{TimedOut: true, ExitCode: -1}}, wantStatus: StatusTimedOut, wantErr: ErrRecoveryTimedOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			sf := StagedFile{Requested: "a.mcap", Dest: filepath.Join(dir, "a.mcap")}

			res, err := recoverOne(context.Background(), tt.tool, opts, dir, dir, sf, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
				assert.Empty(t, res.OutputPath)
			} else {
				assert.NoError(t, res.Err)
				assert.Equal(t, filepath.Join(dir, "a-recovered.mcap"), res.OutputPath)
			}
		})
	}
}

func TestRecoverOne_UnknownErrorMessage(t *testing.T) {
	dir := t.TempDir()
	sf := StagedFile{Requested: "a.mcap", Dest: filepath.Join(dir, "a.mcap")}

	res, err := recoverOne(context.Background(), stubTool{out: Outcome{ExitCode: 2}}, Options{Timeout: time.Second, OutputSuffix: "-recovered"}, dir, dir, sf, discardLogger())
	require.NoError(t, err)
	assert.Contains(t, res.Err.Error(), "Unknown error")
}

func TestRecoverOne_InfrastructureErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	sf := StagedFile{Requested: "a.mcap", Dest: filepath.Join(dir, "a.mcap")}

	_, err := recoverOne(context.Background(), stubTool{err: ErrToolUnavailable}, Options{Timeout: time.Second}, dir, dir, sf, discardLogger())
	assert.True(t, errors.Is(err, ErrToolUnavailable))
}
