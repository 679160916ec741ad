package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/mcap-offload/internal/doctor"
	"github.com/mattjoyce/mcap-offload/internal/inventory"
	"github.com/mattjoyce/mcap-offload/internal/log"
	"github.com/mattjoyce/mcap-offload/internal/recovery"
)

func runConfigCheck(args []string) int {
	fs := newFlagSet("config check")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		if *jsonOut {
			data, _ := json.MarshalIndent(map[string]any{
				"valid":  false,
				"errors": []map[string]string{{"category": "config", "message": err.Error()}},
			}, "", "  ")
			fmt.Fprintln(stdout, string(data))
		} else {
			fmt.Fprintf(stderr, "Configuration invalid: %v\n", err)
		}
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	} else {
		if cfg.SourcePath != "" {
			fmt.Fprintf(stdout, "Config: %s\n", cfg.SourcePath)
		}
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runFilesList(args []string) int {
	fs := newFlagSet("files list")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dir := fs.String("dir", "", "Override recordings.base_dir")
	jsonOut := fs.Bool("json", false, "Output listing as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *dir != "" {
		cfg.Recordings.BaseDir = *dir
	}

	listing, err := inventory.List(cfg.Recordings.BaseDir, cfg.Recordings.Extension)
	if err != nil && !errors.Is(err, inventory.ErrDirMissing) {
		fmt.Fprintf(stderr, "Failed to list recordings: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(listing, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	if errors.Is(err, inventory.ErrDirMissing) {
		fmt.Fprintf(stdout, "%s does not exist.\n", cfg.Recordings.BaseDir)
		return 0
	}
	fmt.Fprintln(stdout, renderListing(listing))
	return 0
}

func runRecover(args []string) int {
	fs := newFlagSet("recover")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Override state.path")
	output := fs.String("o", "", "Write the archive to this path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	names := fs.Args()
	if len(names) == 0 {
		printRecoverHelp(stderr)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log.Get())
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer a.Close()

	bundle, err := a.pipeline.Run(ctx, names)
	if err != nil {
		var jobErr *recovery.JobError
		if errors.As(err, &jobErr) {
			fmt.Fprintf(stderr, "Recovery failed (job %s, phase %s): %v\n", jobErr.JobID, jobErr.Phase, jobErr.Err)
		} else {
			fmt.Fprintf(stderr, "Recovery failed: %v\n", err)
		}
		return 1
	}

	dest := *output
	if dest == "" {
		dest = bundle.Archive.Name
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		fmt.Fprintf(stderr, "Failed to create output directory: %v\n", err)
		return 1
	}
	if err := os.WriteFile(dest, bundle.Archive.Data, 0o644); err != nil {
		fmt.Fprintf(stderr, "Failed to write archive: %v\n", err)
		return 1
	}
	log.WithJob(bundle.JobID).Info("archive written", "path", dest)

	fmt.Fprintln(stdout, renderResults(bundle.Results))
	fmt.Fprintf(stdout, "Recovered %d of %d file(s) into %s (%s)\n",
		bundle.Recovered, bundle.Requested, dest, humanize.Bytes(uint64(len(bundle.Archive.Data))))
	return 0
}

func runSyncRun(args []string) int {
	fs := newFlagSet("sync run")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Override state.path")
	jsonOut := fs.Bool("json", false, "Output the sync log as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log.Get())
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer a.Close()

	entry, res, runErr := a.syncer.Run(ctx)
	if entry == nil {
		fmt.Fprintf(stderr, "Sync not started: %v\n", runErr)
		return 1
	}
	if final, err := a.store.GetSync(ctx, entry.ID); err == nil {
		entry = final
	}

	if *jsonOut {
		data, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Sync %s %s: %d file(s), %s\n", entry.ID, entry.Status, res.Files, humanize.Bytes(uint64(res.Bytes)))
		if runErr != nil {
			fmt.Fprintf(stdout, "Error: %v\n", runErr)
		}
	}
	if runErr != nil {
		return 1
	}
	return 0
}
