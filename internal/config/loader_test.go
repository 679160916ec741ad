package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
recordings:
  base_dir: /srv/recordings
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/srv/recordings", cfg.Recordings.BaseDir)
				assert.Equal(t, ".mcap", cfg.Recordings.Extension)
				assert.Equal(t, "mcap", cfg.Recovery.Tool)
				assert.Equal(t, 300*time.Second, cfg.Recovery.Timeout)
				assert.Equal(t, 1, cfg.Recovery.Workers)
				assert.Equal(t, "-recovered", cfg.Recovery.OutputSuffix)
				assert.Equal(t, "recovered_", cfg.Recovery.ArchivePrefix)
				assert.True(t, cfg.API.Enabled)
				assert.Equal(t, []string{"*"}, cfg.API.CORSOrigins)
				assert.Equal(t, SyncModeCommand, cfg.Sync.Mode)
				assert.Equal(t, []string{"systemctl", "start", "ksums-sync.service"}, cfg.Sync.Command)
			},
		},
		{
			name: "durations and overrides",
			yaml: `
service:
  log_level: debug
  log_format: text
recovery:
  timeout: 45s
  workers: 4
  stale_after: 2h
  temp_dir: /scratch
api:
  listen: 127.0.0.1:9000
  cors_origins: ["http://daq.local"]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 45*time.Second, cfg.Recovery.Timeout)
				assert.Equal(t, 4, cfg.Recovery.Workers)
				assert.Equal(t, 2*time.Hour, cfg.Recovery.StaleAfter)
				assert.Equal(t, "/scratch", cfg.Recovery.TempDir)
				assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
				assert.Equal(t, []string{"http://daq.local"}, cfg.API.CORSOrigins)
				assert.Equal(t, "text", cfg.Service.LogFormat)
			},
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${STATE_DB}
sync:
  mode: s3
offload:
  bucket: ${BUCKET}
  access_key_id: ${KEY_ID}
  secret_access_key: ${KEY_SECRET}
`,
			env: map[string]string{
				"STATE_DB":   "/tmp/state.db",
				"BUCKET":     "ksums",
				"KEY_ID":     "minio",
				"KEY_SECRET": "minio123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/state.db", cfg.State.Path)
				assert.Equal(t, "ksums", cfg.Offload.Bucket)
				assert.Equal(t, "minio123", cfg.Offload.SecretAccessKey)
				assert.Equal(t, 3, cfg.Offload.MaxAttempts)
			},
		},
		{
			name: "BASE_DIR overrides the file",
			yaml: `
recordings:
  base_dir: /from/file
`,
			env: map[string]string{"BASE_DIR": "/from/env"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/from/env", cfg.Recordings.BaseDir)
			},
		},
		{
			name:    "unset env var rejected",
			yaml:    "state:\n  path: ${MCAP_OFFLOAD_TEST_UNSET}\n",
			wantErr: "unset environment variable",
		},
		{
			name:    "unknown field rejected",
			yaml:    "recovery:\n  tiemout: 5s\n",
			wantErr: "tiemout",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "negative workers",
			yaml:    "recovery:\n  workers: -2\n",
			wantErr: "recovery.workers",
		},
		{
			name:    "stale_after not longer than timeout",
			yaml:    "recovery:\n  timeout: 10m\n  stale_after: 10m\n",
			wantErr: "recovery.stale_after",
		},
		{
			name:    "stale_after below default timeout",
			yaml:    "recovery:\n  stale_after: 1m\n",
			wantErr: "must be longer than recovery.timeout",
		},
		{
			name:    "suffix with separator",
			yaml:    "recovery:\n  output_suffix: ../x\n",
			wantErr: "recovery.output_suffix",
		},
		{
			name:    "extension without dot",
			yaml:    "recordings:\n  extension: mcap\n",
			wantErr: "recordings.extension",
		},
		{
			name:    "s3 mode needs bucket",
			yaml:    "sync:\n  mode: s3\n",
			wantErr: "offload.bucket",
		},
		{
			name:    "s3 keys set together",
			yaml:    "sync:\n  mode: s3\noffload:\n  bucket: b\n  access_key_id: k\n",
			wantErr: "set together",
		},
		{
			name:    "unknown sync mode",
			yaml:    "sync:\n  mode: rsync\n",
			wantErr: "sync.mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvBaseDir, "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, cfg.SourcePath)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	t.Setenv(EnvBaseDir, "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("recovery:\n  workers: 2\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Recovery.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestParseEmptyDocument(t *testing.T) {
	t.Setenv(EnvBaseDir, "")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Recordings.BaseDir, cfg.Recordings.BaseDir)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvBaseDir, "/mnt/daq")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/daq", cfg.Recordings.BaseDir)
	assert.Empty(t, cfg.SourcePath)
}

func TestDiscoverPrefersEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	t.Setenv(EnvConfigPath, path)

	assert.Equal(t, path, Discover())
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("MCAP_OFFLOAD_TEST_VAR", "value")
	assert.Equal(t, "a-value-b", interpolateEnv("a-${MCAP_OFFLOAD_TEST_VAR}-b"))
	assert.Equal(t, "${MCAP_OFFLOAD_TEST_MISSING}", interpolateEnv("${MCAP_OFFLOAD_TEST_MISSING}"))
	assert.Equal(t, "$PLAIN", interpolateEnv("$PLAIN"))
}
