package config

import "time"

// Config represents the complete service configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Recordings RecordingsConfig `yaml:"recordings"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	State      StateConfig      `yaml:"state"`
	API        APIConfig        `yaml:"api"`
	Sync       SyncConfig       `yaml:"sync"`
	Offload    OffloadConfig    `yaml:"offload"`

	// SourcePath is the file the config was loaded from; empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig contains core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LockPath  string `yaml:"lock_path"`
}

// RecordingsConfig locates the recordings directory.
type RecordingsConfig struct {
	BaseDir   string `yaml:"base_dir"`
	Extension string `yaml:"extension"`
}

// RecoveryConfig tunes the recovery pipeline.
type RecoveryConfig struct {
	Tool          string        `yaml:"tool"`
	Timeout       time.Duration `yaml:"timeout"`
	Workers       int           `yaml:"workers"`
	OutputSuffix  string        `yaml:"output_suffix"`
	ArchivePrefix string        `yaml:"archive_prefix"`
	TempDir       string        `yaml:"temp_dir"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StateConfig contains SQLite state settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Listen          string   `yaml:"listen"`
	CORSOrigins     []string `yaml:"cors_origins"`
	MaxRequestBytes int64    `yaml:"max_request_bytes"`
}

// SyncConfig selects the sync backend.
type SyncConfig struct {
	Mode     string        `yaml:"mode"` // command | s3
	Command  []string      `yaml:"command"`
	Timeout  time.Duration `yaml:"timeout"`
	LockPath string        `yaml:"lock_path"`
}

// OffloadConfig describes the S3-compatible target used by sync mode s3.
type OffloadConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

const (
	SyncModeCommand = "command"
	SyncModeS3      = "s3"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "mcap-offload",
			LogLevel:  "info",
			LogFormat: "json",
			LockPath:  "./data/mcap-offload.lock",
		},
		Recordings: RecordingsConfig{
			BaseDir:   "/var/lib/ksums/recordings",
			Extension: ".mcap",
		},
		Recovery: RecoveryConfig{
			Tool:          "mcap",
			Timeout:       300 * time.Second,
			Workers:       1,
			OutputSuffix:  "-recovered",
			ArchivePrefix: "recovered_",
			StaleAfter:    time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled:         true,
			Listen:          "0.0.0.0:8000",
			CORSOrigins:     []string{"*"},
			MaxRequestBytes: 1 << 20,
		},
		Sync: SyncConfig{
			Mode:     SyncModeCommand,
			Command:  []string{"systemctl", "start", "ksums-sync.service"},
			Timeout:  10 * time.Minute,
			LockPath: "./data/sync.lock",
		},
		Offload: OffloadConfig{
			MaxAttempts: 3,
		},
	}
}
