package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath points at the config file.
	EnvConfigPath = "MCAP_OFFLOAD_CONFIG"
	// EnvBaseDir overrides recordings.base_dir.
	EnvBaseDir = "BASE_DIR"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from path. A directory is treated as holding
// config.yaml. Environment overrides and defaults are applied before
// validation.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\nHint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes YAML config data, then applies env overrides, defaults and
// validation.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(cfg)
}

// FromEnv returns defaults with environment overrides applied, for running
// without a config file.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file. Priority: $MCAP_OFFLOAD_CONFIG,
// ~/.config/mcap-offload/config.yaml, /etc/mcap-offload/config.yaml,
// ./config.yaml. An empty result means none was found.
func Discover() string {
	candidates := []string{}
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "mcap-offload", "config.yaml"))
	}
	candidates = append(candidates, "/etc/mcap-offload/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	if dir := strings.TrimSpace(os.Getenv(EnvBaseDir)); dir != "" {
		cfg.Recordings.BaseDir = dir
	}
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = defaults.Service.LockPath
	}

	if cfg.Recordings.BaseDir == "" {
		cfg.Recordings.BaseDir = defaults.Recordings.BaseDir
	}
	if cfg.Recordings.Extension == "" {
		cfg.Recordings.Extension = defaults.Recordings.Extension
	}

	r, d := &cfg.Recovery, defaults.Recovery
	if r.Tool == "" {
		r.Tool = d.Tool
	}
	if r.Timeout == 0 {
		r.Timeout = d.Timeout
	}
	if r.Workers == 0 {
		r.Workers = d.Workers
	}
	if r.OutputSuffix == "" {
		r.OutputSuffix = d.OutputSuffix
	}
	if r.ArchivePrefix == "" {
		r.ArchivePrefix = d.ArchivePrefix
	}
	if r.StaleAfter == 0 {
		r.StaleAfter = d.StaleAfter
	}
	if r.SweepInterval == 0 {
		r.SweepInterval = d.SweepInterval
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Enabled = defaults.API.Enabled
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.CORSOrigins == nil {
		cfg.API.CORSOrigins = defaults.API.CORSOrigins
	}
	if cfg.API.MaxRequestBytes == 0 {
		cfg.API.MaxRequestBytes = defaults.API.MaxRequestBytes
	}

	if cfg.Sync.Mode == "" {
		cfg.Sync.Mode = defaults.Sync.Mode
	}
	if cfg.Sync.Mode == SyncModeCommand && len(cfg.Sync.Command) == 0 {
		cfg.Sync.Command = defaults.Sync.Command
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = defaults.Sync.Timeout
	}
	if cfg.Sync.LockPath == "" {
		cfg.Sync.LockPath = defaults.Sync.LockPath
	}

	if cfg.Offload.MaxAttempts == 0 {
		cfg.Offload.MaxAttempts = defaults.Offload.MaxAttempts
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values. Unset
// variables are left in place and rejected by validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	for field, value := range map[string]string{
		"recordings.base_dir":       cfg.Recordings.BaseDir,
		"recovery.tool":             cfg.Recovery.Tool,
		"recovery.temp_dir":         cfg.Recovery.TempDir,
		"state.path":                cfg.State.Path,
		"offload.bucket":            cfg.Offload.Bucket,
		"offload.access_key_id":     cfg.Offload.AccessKeyID,
		"offload.secret_access_key": cfg.Offload.SecretAccessKey,
	} {
		if m := envVarPattern.FindString(value); m != "" {
			return fmt.Errorf("%s references unset environment variable %s", field, m)
		}
	}

	if !strings.HasPrefix(cfg.Recordings.Extension, ".") {
		return fmt.Errorf("recordings.extension must start with '.' (got %q)", cfg.Recordings.Extension)
	}

	if cfg.Recovery.Timeout < 0 {
		return fmt.Errorf("recovery.timeout must be positive")
	}
	if cfg.Recovery.Workers < 1 {
		return fmt.Errorf("recovery.workers must be >= 1 (got %d)", cfg.Recovery.Workers)
	}
	if strings.ContainsAny(cfg.Recovery.OutputSuffix, `/\`) {
		return fmt.Errorf("recovery.output_suffix must not contain path separators")
	}
	if strings.ContainsAny(cfg.Recovery.ArchivePrefix, `/\`) {
		return fmt.Errorf("recovery.archive_prefix must not contain path separators")
	}
	if cfg.Recovery.StaleAfter < 0 || cfg.Recovery.SweepInterval < 0 {
		return fmt.Errorf("recovery.stale_after and recovery.sweep_interval must be positive")
	}
	if cfg.Recovery.StaleAfter <= cfg.Recovery.Timeout {
		return fmt.Errorf("recovery.stale_after (%s) must be longer than recovery.timeout (%s)", cfg.Recovery.StaleAfter, cfg.Recovery.Timeout)
	}

	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Listen) == "" {
		return fmt.Errorf("api.listen is required when api is enabled")
	}
	if cfg.API.MaxRequestBytes < 0 {
		return fmt.Errorf("api.max_request_bytes must be positive")
	}

	switch cfg.Sync.Mode {
	case SyncModeCommand:
		if len(cfg.Sync.Command) == 0 || strings.TrimSpace(cfg.Sync.Command[0]) == "" {
			return fmt.Errorf("sync.command is required for sync mode %q", SyncModeCommand)
		}
	case SyncModeS3:
		if strings.TrimSpace(cfg.Offload.Bucket) == "" {
			return fmt.Errorf("offload.bucket is required for sync mode %q", SyncModeS3)
		}
		if (cfg.Offload.AccessKeyID == "") != (cfg.Offload.SecretAccessKey == "") {
			return fmt.Errorf("offload.access_key_id and offload.secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("sync.mode must be %q or %q (got %q)", SyncModeCommand, SyncModeS3, cfg.Sync.Mode)
	}
	if cfg.Sync.Timeout < 0 {
		return fmt.Errorf("sync.timeout must be positive")
	}
	if cfg.Offload.MaxAttempts < 1 {
		return fmt.Errorf("offload.max_attempts must be >= 1")
	}
	return nil
}
