package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/ligustah/portal/internal/config"
	"github.com/ligustah/portal/internal/progress"
	"github.com/ligustah/portal/pkg/archive"
	"github.com/ligustah/portal/pkg/scratch"
)

// runArchive builds a zip archive of a local directory with the same
// parallel builder the server uses.
func runArchive(args []string) int {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)

	configPath := fs.String("config", "", "Path to a YAML config file")
	dir := fs.String("dir", "", "Directory to archive (required)")
	output := fs.String("o", "", "Output file (default: <dir name>.zip)")
	workers := fs.Int("workers", 0, "Parallel workers (default 4)")
	threshold := fs.Int("threshold", 0, "Entry count above which archives are built in parallel (default 20)")
	verbose := fs.Bool("v", false, "Log build details")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: portal archive [options]

Build a zip archive of a local directory. Hidden files are skipped.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Error: -dir is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cfg = cfg.Merge(config.Config{
		Archive: config.ArchiveConfig{Workers: *workers, ParallelThreshold: *threshold},
	})

	src, err := filepath.Abs(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	target := *output
	if target == "" {
		target = archive.Name(filepath.Base(src))
	}
	target, err = filepath.Abs(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	logCfg := cfg.Log
	if !*verbose {
		logCfg.Level = "warn"
	}
	log := newLogger(logCfg, os.Stderr)

	// Build next to the output so the result can be renamed into place.
	outDir := filepath.Dir(target)
	tmp, err := scratch.Open(outDir, scratch.WithPrefix(".portal-"), scratch.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	ctx, cancel := signalContext()
	defer cancel()

	builder := archive.NewBuilder(osfs.New(src, osfs.WithBoundOS()), tmp,
		archive.WithWorkers(cfg.Archive.Workers),
		archive.WithThreshold(cfg.Archive.ParallelThreshold),
		archive.WithLogger(log),
	)

	res, err := builder.Build(ctx, ".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, archive.ErrNotFound) {
			return ExitNotFound
		}
		return ExitGeneralError
	}

	if err := os.Rename(filepath.Join(outDir, res.Path), target); err != nil {
		tmp.Remove(res.Path)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[portal] Archived %d files to %s (%s", res.Entries, target, progress.FormatBytes(res.Size))
	if res.Skipped > 0 {
		fmt.Fprintf(os.Stderr, ", %d skipped", res.Skipped)
	}
	fmt.Fprintln(os.Stderr, ")")
	return ExitSuccess
}
