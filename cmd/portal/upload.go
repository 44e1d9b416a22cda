package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ligustah/portal/internal/config"
	"github.com/ligustah/portal/internal/progress"
	"github.com/ligustah/portal/internal/uploader"
)

// runUpload sends a local file to a server in parallel chunks.
func runUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)

	clientConfig := commonFlags(fs)
	file := fs.String("file", "", "Local file to upload (required)")
	name := fs.String("name", "", "Name to store the file under (default: base name of -file)")
	workers := fs.Int("workers", 0, "Number of parallel workers (default 4)")
	chunkSize := fs.String("chunk-size", "", "Size of each chunk (default 64MiB)")
	showProgress := fs.Bool("progress", false, "Show progress output")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: portal upload [options]

Upload a local file to a portal server in parallel chunks.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := clientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	override := config.Config{Client: config.ClientConfig{Workers: *workers}}
	if *chunkSize != "" {
		n, err := progress.ParseBytes(*chunkSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid chunk size: %v\n", err)
			return ExitInvalidArgs
		}
		override.Client.ChunkSize = n
	}
	cfg = cfg.Merge(override)
	if err := cfg.ValidateClient(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
		if errors.Is(err, os.ErrNotExist) {
			return ExitNotFound
		}
		return ExitGeneralError
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	if info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: %s is a directory\n", *file)
		return ExitInvalidArgs
	}

	target := *name
	if target == "" {
		target = filepath.Base(*file)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var reporter *progress.Reporter
	if *showProgress {
		reporter = progress.NewReporter(progress.Options{
			Action:         "Uploading",
			Target:         target,
			TotalSize:      info.Size(),
			TotalChunks:    uploader.ChunkCount(info.Size(), cfg.Client.ChunkSize),
			ChunkSize:      cfg.Client.ChunkSize,
			Workers:        cfg.Client.Workers,
			UpdateInterval: 2 * time.Second,
		})
		reporter.Start()
	}

	result, err := uploader.Upload(ctx, newClient(cfg.Client), f, info.Size(), target, uploader.Options{
		Workers:   cfg.Client.Workers,
		ChunkSize: cfg.Client.ChunkSize,
		Progress:  reporter,
	})
	if reporter != nil {
		reporter.Stop()
	}

	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[portal] Upload interrupted")
			return ExitGeneralError
		}
		var cbErr *uploader.CircuitBreakerError
		if errors.As(err, &cbErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			for _, fc := range cbErr.FailedChunks {
				fmt.Fprintf(os.Stderr, "  chunk %d: %v\n", fc.Index, fc.Error)
			}
			return ExitGeneralError
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return clientExitCode(err)
	}

	fmt.Fprintf(os.Stderr, "[portal] Uploaded %s as %s (%s in %d chunks)\n",
		*file, target, progress.FormatBytes(result.Bytes), result.Chunks)
	return ExitSuccess
}
