// Package doctor checks that the configured environment can serve recovery
// requests and sync runs.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/mcap-offload/internal/config"
	"github.com/mattjoyce/mcap-offload/internal/inventory"
	"github.com/mattjoyce/mcap-offload/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded config against the host.
type Doctor struct {
	cfg        *config.Config
	lookPath   func(string) (string, error)
	stateCheck func(string) error
	fsType     func(string) (string, error)
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:        cfg,
		lookPath:   exec.LookPath,
		stateCheck: storage.CheckLocalFilesystem,
		fsType:     storage.FilesystemType,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkRecordings(r)
	d.checkRecoveryTool(r)
	d.checkTempRoot(r)
	d.checkState(r)
	d.checkAPI(r)
	d.checkSync(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkRecordings(r *Result) {
	dir := d.cfg.Recordings.BaseDir
	info, err := os.Stat(dir)
	if err != nil {
		d.addError(r, "recordings", "recordings.base_dir", fmt.Sprintf("base directory %q is not accessible: %v", dir, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "recordings", "recordings.base_dir", fmt.Sprintf("%q is not a directory", dir))
		return
	}

	listing, err := inventory.List(dir, d.cfg.Recordings.Extension)
	if err != nil {
		d.addError(r, "recordings", "recordings.base_dir", fmt.Sprintf("cannot list %q: %v", dir, err))
		return
	}
	if listing.Count == 0 {
		d.addWarning(r, "recordings", "recordings.base_dir",
			fmt.Sprintf("no %s files found in %q", d.cfg.Recordings.Extension, dir))
	}
	if fsType, err := d.fsType(dir); err == nil && storage.IsNetworkFilesystem(fsType) {
		d.addWarning(r, "recordings", "recordings.base_dir",
			fmt.Sprintf("%q is on network filesystem %q; staging copies will be slow", dir, fsType))
	}
}

func (d *Doctor) checkRecoveryTool(r *Result) {
	rc := d.cfg.Recovery
	if _, err := d.lookPath(rc.Tool); err != nil {
		d.addError(r, "recovery", "recovery.tool", fmt.Sprintf("recovery tool %q not found: %v", rc.Tool, err))
	}
	if rc.Timeout > 0 && rc.Timeout < 10*time.Second {
		d.addWarning(r, "recovery", "recovery.timeout",
			fmt.Sprintf("timeout %s is short for large recordings", rc.Timeout))
	}
	if rc.Workers > runtime.NumCPU() {
		d.addWarning(r, "recovery", "recovery.workers",
			fmt.Sprintf("%d workers exceeds %d CPUs", rc.Workers, runtime.NumCPU()))
	}
}

func (d *Doctor) checkTempRoot(r *Result) {
	root := d.cfg.Recovery.TempDir
	if root == "" {
		root = os.TempDir()
	}
	f, err := os.CreateTemp(root, ".mcap-offload-doctor-*")
	if err != nil {
		d.addError(r, "recovery", "recovery.temp_dir", fmt.Sprintf("temp root %q is not writable: %v", root, err))
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}

func (d *Doctor) checkState(r *Result) {
	if err := d.stateCheck(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

func (d *Doctor) checkAPI(r *Result) {
	api := d.cfg.API
	if !api.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", api.Listen, err))
		return
	}
	if slices.Contains(api.CORSOrigins, "*") && !isLoopback(host) {
		d.addWarning(r, "api", "api.cors_origins",
			"all origins allowed on a non-loopback listener; the API has no authentication")
	}
}

func (d *Doctor) checkSync(r *Result) {
	sc := d.cfg.Sync
	switch sc.Mode {
	case config.SyncModeCommand:
		if len(sc.Command) > 0 {
			if _, err := d.lookPath(sc.Command[0]); err != nil {
				d.addWarning(r, "sync", "sync.command",
					fmt.Sprintf("sync command %q not found: %v", sc.Command[0], err))
			}
		}
	case config.SyncModeS3:
		if d.cfg.Offload.AccessKeyID == "" {
			d.addWarning(r, "sync", "offload.access_key_id",
				"no static credentials; the default AWS credential chain will be used")
		}
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("All checks passed.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Checks passed (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Checks failed (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
