package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ligustah/portal/internal/config"
	portalhttp "github.com/ligustah/portal/internal/http"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitNotFound     = 3
	ExitRejected     = 4
	ExitStorageError = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "upload":
		return runUpload(cmdArgs)
	case "download":
		return runDownload(cmdArgs)
	case "archive":
		return runArchive(cmdArgs)
	case "list", "ls":
		return runList(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: portal <command> [options]

Commands:
  serve     Serve a directory over HTTP for browsing, downloads and uploads
  upload    Upload a local file to a server in parallel chunks
  download  Download a file, or a directory as a zip archive, from a server
  archive   Build a zip archive of a local directory
  list      List a directory on a server

Run 'portal <command> -h' for command-specific help.`)
}

// loadConfig builds the effective configuration: defaults, then the YAML
// file at path (if any), then PORTAL_ environment variables.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger creates the process logger described by cfg.
func newLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// newClient creates an API client from the client section of cfg.
func newClient(cfg config.ClientConfig) *portalhttp.Client {
	opts := portalhttp.DefaultOptions()
	opts.MaxIdleConnsPerHost = max(cfg.Workers*2, opts.MaxIdleConnsPerHost)
	opts.RetryAttempts = cfg.Retry.Attempts
	opts.RetryBackoff = cfg.Retry.Backoff
	opts.RetryMaxBackoff = cfg.Retry.MaxBackoff
	return portalhttp.NewClient(cfg.Server, opts)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[portal] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// clientExitCode maps client errors to exit codes.
func clientExitCode(err error) int {
	switch {
	case errors.Is(err, portalhttp.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, portalhttp.ErrBadRequest), errors.Is(err, portalhttp.ErrTooLarge):
		return ExitRejected
	default:
		return ExitGeneralError
	}
}

// commonFlags registers the flags shared by the client commands and returns
// a function producing the effective client config after parsing.
func commonFlags(fs *flag.FlagSet) func() (config.Config, error) {
	configPath := fs.String("config", "", "Path to a YAML config file")
	serverURL := fs.String("server", "", "Server URL (default from config: http://localhost:6565)")
	retryAttempts := fs.Int("retry-attempts", 0, "Max retry attempts per request")
	retryBackoff := fs.Duration("retry-backoff", 0, "Initial retry backoff")

	return func() (config.Config, error) {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = cfg.Merge(config.Config{
			Client: config.ClientConfig{
				Server: *serverURL,
				Retry: config.RetryConfig{
					Attempts: *retryAttempts,
					Backoff:  *retryBackoff,
				},
			},
		})
		return cfg, nil
	}
}
