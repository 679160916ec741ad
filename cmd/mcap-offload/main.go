package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Overridable in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "files":
		return runFilesNoun(args)
	case "sync":
		return runSyncNoun(args)

	// --- VERBS ---
	case "recover":
		if hasHelpFlag(args) {
			printRecoverHelp(stdout)
			return 0
		}
		return runRecover(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "status":
		return runSystemStatus(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := newFlagSet("version")
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Usage: mcap-offload version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "mcap-offload %s\n", info.Version)
	fmt.Fprintf(stdout, "commit: %s\n", info.Commit)
	fmt.Fprintf(stdout, "built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: mcap-offload system <start|status>")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Fprintln(stdout, "Usage: mcap-offload system <start|status>")
		return 0
	}
	switch args[0] {
	case "start":
		if hasHelpFlag(args[1:]) {
			printStartHelp(stdout)
			return 0
		}
		return runStart(args[1:])
	case "status":
		return runSystemStatus(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: mcap-offload config <check>")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Fprintln(stdout, "Usage: mcap-offload config <check>")
		return 0
	}
	switch args[0] {
	case "check":
		if hasHelpFlag(args[1:]) {
			printConfigCheckHelp(stdout)
			return 0
		}
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runFilesNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: mcap-offload files <list>")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Fprintln(stdout, "Usage: mcap-offload files <list>")
		return 0
	}
	switch args[0] {
	case "list", "ls":
		return runFilesList(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown files action: %s\n", args[0])
		return 1
	}
}

func runSyncNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: mcap-offload sync <run>")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Fprintln(stdout, "Usage: mcap-offload sync <run>")
		return 0
	}
	switch args[0] {
	case "run":
		return runSyncRun(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown sync action: %s\n", args[0])
		return 1
	}
}

// --- HELP ---

func printUsage(w io.Writer) {
	fmt.Fprint(w, `mcap-offload - MCAP recording recovery and offload service

Usage:
  mcap-offload <noun> <action> [flags]

Commands:
  system start          Run the HTTP API and workspace sweeper in foreground
  system status         Show lock holders, schema version and catalog totals
  config check          Validate configuration and host prerequisites
  files list            List recordings in the base directory
  recover <file>...     Recover recordings into a zip archive
  sync run              Run one sync pass and record it

General:
  version               Show version information
  help                  Show this help message

Config is read from --config, $MCAP_OFFLOAD_CONFIG,
~/.config/mcap-offload/config.yaml, /etc/mcap-offload/config.yaml or
./config.yaml. BASE_DIR overrides recordings.base_dir.
`)
}

func printStartHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: mcap-offload system start [--config PATH] [--db PATH]

Starts the HTTP API, the stale workspace sweeper and the sync trigger.
Only one instance may run per service.lock_path.
`)
}

func printConfigCheckHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: mcap-offload config check [--config PATH] [--json]

Validates the config file and checks the recordings directory, the recovery
tool, the temp root and the state database location.
`)
}

func printRecoverHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: mcap-offload recover [--config PATH] [-o FILE] <file>...

Recovers the named recordings (relative to recordings.base_dir) and writes
the archive to FILE, or to the generated archive name in the current
directory.
`)
}
