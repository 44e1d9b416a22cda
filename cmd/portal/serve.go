package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/portal/internal/config"
	"github.com/ligustah/portal/internal/progress"
	"github.com/ligustah/portal/internal/server"
	"github.com/ligustah/portal/pkg/archive"
	"github.com/ligustah/portal/pkg/portal"
	"github.com/ligustah/portal/pkg/scratch"
	"github.com/ligustah/portal/pkg/upload"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)

	configPath := fs.String("config", "", "Path to a YAML config file")
	listen := fs.String("listen", "", "Listen address (default :6565)")
	root := fs.String("root", "", "Directory to serve (default .)")
	uploadDir := fs.String("upload-dir", "", "Directory for finished uploads, relative to root unless absolute (default uploads)")
	scratchDir := fs.String("scratch-dir", "", "Directory for temporary archives (default system temp dir)")
	chunkBucket := fs.String("chunk-bucket", "", "Bucket URL for upload chunks, e.g. s3://bucket?region=... (default: files under scratch dir)")
	maxChunk := fs.String("max-chunk-size", "", "Largest accepted chunk body, e.g. 256MiB")
	workers := fs.Int("archive-workers", 0, "Parallel archive workers (default 4)")
	grace := fs.Duration("grace-delay", 0, "How long built archives are kept (default 60s)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "Log format: console or json")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: portal serve [options]

Serve a directory over HTTP. Files can be downloaded individually or as zip
archives of whole directories, and uploaded in parallel chunks.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	override := config.Config{
		Listen:      *listen,
		Root:        *root,
		UploadDir:   *uploadDir,
		ScratchDir:  *scratchDir,
		ChunkBucket: *chunkBucket,
		Archive: config.ArchiveConfig{
			Workers:    *workers,
			GraceDelay: *grace,
		},
		Log: config.LogConfig{
			Level:  *logLevel,
			Format: *logFormat,
		},
	}
	if *maxChunk != "" {
		n, err := progress.ParseBytes(*maxChunk)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -max-chunk-size: %v\n", err)
			return ExitInvalidArgs
		}
		override.MaxChunkSize = n
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	log := newLogger(cfg.Log, os.Stderr)

	ctx, cancel := signalContext()
	defer cancel()

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errStorage) {
			return ExitStorageError
		}
		return ExitGeneralError
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.Handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().
		Str("listen", cfg.Listen).
		Str("root", app.Root).
		Str("uploads", app.UploadDir).
		Msg("serving")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			return ExitGeneralError
		}
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}

	return ExitSuccess
}

var errStorage = errors.New("storage unavailable")

// app is a fully wired server: the service, the background sweeper and the
// HTTP handler in front of them.
type app struct {
	Handler   http.Handler
	Service   *portal.Service
	Uploads   *upload.Manager
	Root      string
	UploadDir string

	bucket *blob.Bucket
	cancel context.CancelFunc
	done   chan struct{}
}

// newApp opens the directories and chunk bucket described by cfg and wires
// them into a handler. The upload sweeper runs until Close or ctx ends.
func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: root: %w", errStorage, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: root %s is not a directory", errStorage, root)
	}

	uploadDir := cfg.UploadDir
	if !filepath.IsAbs(uploadDir) {
		uploadDir = filepath.Join(root, uploadDir)
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: upload dir: %w", errStorage, err)
	}

	tmp, err := scratch.Open(filepath.Join(cfg.ScratchDir, "portal"), scratch.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errStorage, err)
	}

	bucket, err := openChunkBucket(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk bucket: %w", errStorage, err)
	}

	uploads := upload.NewManager(
		upload.NewChunkStore(bucket, "sessions/"),
		osfs.New(uploadDir, osfs.WithBoundOS()),
		upload.WithDefaultChunks(cfg.Upload.DefaultChunks),
		upload.WithMaxChunks(cfg.Upload.MaxChunks),
		upload.WithTTL(cfg.Upload.SessionTTL),
		upload.WithLogger(log.With().Str("component", "upload").Logger()),
	)

	svc := portal.New(
		osfs.New(root, osfs.WithBoundOS()),
		uploads,
		tmp,
		portal.WithGraceDelay(cfg.Archive.GraceDelay),
		portal.WithRootName(filepath.Base(root)),
		portal.WithArchiveOptions(
			archive.WithWorkers(cfg.Archive.Workers),
			archive.WithThreshold(cfg.Archive.ParallelThreshold),
			archive.WithLogger(log.With().Str("component", "archive").Logger()),
		),
		portal.WithLogger(log),
	)

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if cfg.Upload.SessionTTL > 0 && cfg.Upload.SweepInterval > 0 {
			uploads.Run(sweepCtx, cfg.Upload.SweepInterval)
		}
	}()

	return &app{
		Handler: server.New(svc,
			server.WithMaxChunkSize(cfg.MaxChunkSize),
			server.WithLogger(log),
		),
		Service:   svc,
		Uploads:   uploads,
		Root:      root,
		UploadDir: uploadDir,
		bucket:    bucket,
		cancel:    cancel,
		done:      done,
	}, nil
}

// openChunkBucket opens the configured chunk bucket. Without one, chunks are
// kept as files below the scratch directory.
func openChunkBucket(ctx context.Context, cfg config.Config) (*blob.Bucket, error) {
	if cfg.ChunkBucket != "" {
		return blob.OpenBucket(ctx, cfg.ChunkBucket)
	}

	dir := filepath.Join(cfg.ScratchDir, "portal", "chunks")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true, NoTempDir: true})
}

// Close stops the sweeper, deletes pending archives and closes the bucket.
func (a *app) Close() error {
	a.cancel()
	<-a.done
	return errors.Join(a.Service.Close(), a.bucket.Close())
}
