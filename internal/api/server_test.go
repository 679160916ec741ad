package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mcap-offload/internal/catalog"
	"github.com/mattjoyce/mcap-offload/internal/recovery"
	"github.com/mattjoyce/mcap-offload/internal/storage"
	"github.com/mattjoyce/mcap-offload/internal/syncer"
	"github.com/mattjoyce/mcap-offload/internal/workspace"
)

type stubTool struct {
	fail map[string]bool
}

func (t *stubTool) Run(_ context.Context, inv recovery.Invocation) (recovery.Outcome, error) {
	if t.fail[filepath.Base(inv.Input)] {
		return recovery.Outcome{ExitCode: 1, Stderr: "bad chunk"}, nil
	}
	data, err := os.ReadFile(inv.Input)
	if err != nil {
		return recovery.Outcome{ExitCode: 2, Stderr: err.Error()}, nil
	}
	return recovery.Outcome{}, os.WriteFile(inv.Output, append([]byte("recovered:"), data...), 0o644)
}

type stubSyncer struct {
	entry *catalog.SyncLog
	err   error
}

func (s *stubSyncer) Start(context.Context) (*catalog.SyncLog, error) {
	return s.entry, s.err
}

func (s *stubSyncer) Current() (string, bool) {
	if s.entry == nil {
		return "", false
	}
	return s.entry.ID, true
}

type testEnv struct {
	baseDir  string
	tempRoot string
	store    *catalog.Store
	server   *Server
	handler  http.Handler
}

func newTestEnv(t *testing.T, tool recovery.Tool, files map[string]string) *testEnv {
	t.Helper()

	baseDir := filepath.Join(t.TempDir(), "recordings")
	require.NoError(t, os.MkdirAll(baseDir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(baseDir, name), []byte(content), 0o644))
	}

	tempRoot := t.TempDir()
	ws, err := workspace.NewFSManager(tempRoot)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := recovery.New(recovery.Options{BaseDir: baseDir}, ws, tool, logger)
	require.NoError(t, err)

	db, err := storage.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := catalog.NewStore(db)

	srv := New(Config{
		BaseDir:     baseDir,
		Extension:   ".mcap",
		CORSOrigins: []string{"*"},
	}, p, store, &stubSyncer{entry: &catalog.SyncLog{ID: "sync-1", Status: catalog.SyncRunning}}, logger)

	return &testEnv{baseDir: baseDir, tempRoot: tempRoot, store: store, server: srv, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.tempRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace directories left behind")
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func zipEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestRecoverReturnsArchive(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, map[string]string{"a.mcap": "A", "b.mcap": "B"})

	rec := env.do(t, http.MethodPost, "/api/recover", `{"files":["a.mcap","b.mcap"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2", rec.Header().Get(headerRecovered))
	assert.Equal(t, "2", rec.Header().Get(headerRequested))
	assert.NotEmpty(t, rec.Header().Get(headerJobID))
	assert.Regexp(t, `^attachment; filename="recovered_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}\.zip"$`, rec.Header().Get("Content-Disposition"))

	assert.Equal(t, map[string]string{
		"a-recovered.mcap": "recovered:A",
		"b-recovered.mcap": "recovered:B",
	}, zipEntries(t, rec.Body.Bytes()))
	env.assertNoWorkspaces(t)
}

func TestRecoverMissingFile(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, map[string]string{"a.mcap": "A"})

	rec := env.do(t, http.MethodPost, "/api/recover", `{"files":["a.mcap","missing.mcap"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, "file_not_found", resp.Code)
	assert.Equal(t, "staging", resp.Phase)
	assert.Contains(t, resp.Error, "missing.mcap")
	env.assertNoWorkspaces(t)
}

func TestRecoverAllFail(t *testing.T) {
	env := newTestEnv(t, &stubTool{fail: map[string]bool{"a.mcap": true}}, map[string]string{"a.mcap": "A"})

	rec := env.do(t, http.MethodPost, "/api/recover", `{"files":["a.mcap"]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, "no_files_recovered", resp.Code)
	assert.Equal(t, recovery.ErrNoFilesRecovered.Error(), resp.Error)
	assert.NotEmpty(t, resp.JobID)
	env.assertNoWorkspaces(t)
}

func TestRecoverTraversal(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, map[string]string{"a.mcap": "A"})

	rec := env.do(t, http.MethodPost, "/api/recover", `{"files":["../../etc/passwd"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, "path_traversal", resp.Code)
	assert.Equal(t, "validating", resp.Phase)
	assert.Empty(t, resp.JobID)
	env.assertNoWorkspaces(t)
}

func TestRecoverPartial(t *testing.T) {
	env := newTestEnv(t, &stubTool{fail: map[string]bool{"b.mcap": true}}, map[string]string{"a.mcap": "A", "b.mcap": "B"})

	rec := env.do(t, http.MethodPost, "/api/recover", `{"files":["a.mcap","b.mcap"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(headerRecovered))
	assert.Equal(t, "2", rec.Header().Get(headerRequested))
	assert.Equal(t, map[string]string{"a-recovered.mcap": "recovered:A"}, zipEntries(t, rec.Body.Bytes()))
	env.assertNoWorkspaces(t)
}

// slowRecoverer returns a fixed archive after delay, standing in for a batch
// whose tool runs take longer than the server-wide write timeout.
type slowRecoverer struct {
	delay time.Duration
}

func (r slowRecoverer) Run(ctx context.Context, names []string) (*recovery.Bundle, error) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &recovery.Bundle{
		JobID:     "job-slow",
		Requested: len(names),
		Recovered: len(names),
		Archive:   recovery.Archive{Name: "recovered_slow.zip", Data: []byte("PK-slow")},
	}, nil
}

func TestRecoverOutlivesServerWriteTimeout(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for name, recoverTimeout := range map[string]time.Duration{
		"sized deadline": time.Second,
		"no deadline":    0,
	} {
		t.Run(name, func(t *testing.T) {
			srv := New(Config{
				BaseDir:        env.baseDir,
				WriteTimeout:   50 * time.Millisecond,
				RecoverTimeout: recoverTimeout,
				RecoverWorkers: 2,
			}, slowRecoverer{delay: 300 * time.Millisecond}, env.store, &stubSyncer{}, logger)

			ts := httptest.NewUnstartedServer(srv.Handler())
			ts.Config.WriteTimeout = srv.config.WriteTimeout
			ts.Start()
			defer ts.Close()

			resp, err := http.Post(ts.URL+"/api/recover", "application/json", strings.NewReader(`{"files":["a.mcap","b.mcap","c.mcap"]}`))
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "PK-slow", string(body))
			assert.Equal(t, "3", resp.Header.Get(headerRecovered))
		})
	}
}

func TestRecoverBudget(t *testing.T) {
	srv := New(Config{RecoverTimeout: time.Minute, RecoverWorkers: 2}, nil, nil, nil, nil)

	assert.Equal(t, time.Minute+recoverKillGrace+recoverHeadroom, srv.recoverBudget(0))
	assert.Equal(t, time.Minute+recoverKillGrace+recoverHeadroom, srv.recoverBudget(2))
	assert.Equal(t, 2*(time.Minute+recoverKillGrace)+recoverHeadroom, srv.recoverBudget(3))
	assert.Equal(t, 50*(time.Minute+recoverKillGrace)+recoverHeadroom, srv.recoverBudget(100))

	srv = New(Config{}, nil, nil, nil, nil)
	assert.Zero(t, srv.recoverBudget(10))
	assert.Equal(t, 10*time.Minute, srv.config.WriteTimeout)
}

func TestRecoverBadBodies(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, map[string]string{"a.mcap": "A"})

	for _, body := range []string{`not json`, `{"files":[]}`, `{}`, `{"files":"a.mcap"}`} {
		rec := env.do(t, http.MethodPost, "/api/recover", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "invalid_request", decodeError(t, rec).Code, body)
	}
	env.assertNoWorkspaces(t)
}

func TestRecoverPublishesEvents(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, map[string]string{"a.mcap": "A"})

	env.do(t, http.MethodPost, "/api/recover", `{"files":["a.mcap"]}`)
	env.do(t, http.MethodPost, "/api/recover", `{"files":["nope.mcap"]}`)

	events := env.server.events.Since(0)
	require.Len(t, events, 2)
	assert.Equal(t, "recover.completed", events[0].Type)
	assert.Equal(t, "recover.failed", events[1].Type)
}

func TestListFiles(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, map[string]string{"a.mcap": "AAAA", "notes.txt": "x"})

	rec := env.do(t, http.MethodGet, "/api/files/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp FilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "a.mcap", resp.Files[0].Name)
	assert.EqualValues(t, 4, resp.Files[0].Size)
}

func TestListFilesMissingDir(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, nil)
	require.NoError(t, os.RemoveAll(env.baseDir))

	rec := env.do(t, http.MethodGet, "/api/files", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "base_dir_missing", decodeError(t, rec).Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, nil)

	for _, path := range []string{"/api/health/", "/api/health", "/healthz"} {
		rec := env.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "mcap-offload", resp.Service)
		assert.False(t, resp.Timestamp.IsZero())
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, map[string]string{"a.mcap": "AAAA"})
	_, err := env.store.CreateFile(context.Background(), catalog.FileRecord{Filename: "a.mcap", Filepath: filepath.Join(env.baseDir, "a.mcap"), Filesize: 4})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/stats/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Catalog.TotalFiles)
	assert.EqualValues(t, 1, resp.Catalog.PendingFiles)
	assert.Equal(t, 1, resp.Recordings.Count)
	assert.EqualValues(t, 4, resp.Recordings.TotalBytes)
	assert.Equal(t, "sync-1", resp.RunningSync)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/recover", nil)
	req.Header.Set("Origin", "http://daq.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{recovery.ErrInvalidRequest, 400, "invalid_request"},
		{&recovery.JobError{Phase: recovery.PhaseValidating, Err: recovery.ErrPathTraversal}, 400, "path_traversal"},
		{recovery.ErrFileNotFound, 400, "file_not_found"},
		{recovery.ErrNotRegularFile, 400, "not_regular_file"},
		{recovery.ErrNoFilesRecovered, 500, "no_files_recovered"},
		{recovery.ErrToolUnavailable, 500, "tool_unavailable"},
		{recovery.ErrBaseDirMissing, 500, "base_dir_missing"},
		{catalog.ErrNotFound, 404, "not_found"},
		{catalog.ErrInvalidRecord, 400, "invalid_record"},
		{syncer.ErrAlreadyRunning, 409, "sync_running"},
		{context.Canceled, 503, "cancelled"},
		{io.ErrUnexpectedEOF, 500, "internal"},
	}
	for _, tc := range cases {
		status, code := Classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
