package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	portalhttp "github.com/ligustah/portal/internal/http"
	"github.com/ligustah/portal/internal/progress"
)

// runDownload fetches a file, or a directory as a zip archive, from a server.
func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)

	clientConfig := commonFlags(fs)
	path := fs.String("path", "", "Path on the server to download (required)")
	dir := fs.Bool("dir", false, "Download a directory as a zip archive")
	output := fs.String("o", "", "Output file, '-' for stdout (default: name sent by the server)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: portal download [options]

Download a file from a portal server. With -dir, the directory at -path is
downloaded as a single zip archive.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *path == "" && !*dir {
		fmt.Fprintln(os.Stderr, "Error: -path is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := clientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if err := cfg.ValidateClient(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := newClient(cfg.Client)

	var d *portalhttp.Download
	if *dir {
		d, err = client.DownloadArchive(ctx, *path)
	} else {
		d, err = client.DownloadFile(ctx, *path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return clientExitCode(err)
	}
	defer d.Body.Close()

	target := *output
	if target == "" {
		target = "download"
		if d.Name != "" {
			target = filepath.Base(d.Name)
		}
	}

	n, err := writeDownload(target, d.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	if d.Size >= 0 && n != d.Size {
		fmt.Fprintf(os.Stderr, "Error: short download: got %d of %d bytes\n", n, d.Size)
		return ExitGeneralError
	}

	if target != "-" {
		fmt.Fprintf(os.Stderr, "[portal] Downloaded %s (%s)\n", target, progress.FormatBytes(n))
	}
	return ExitSuccess
}

// writeDownload copies body to target. A partially written file is removed.
func writeDownload(target string, body io.Reader) (int64, error) {
	if target == "-" {
		return io.Copy(os.Stdout, body)
	}

	f, err := os.Create(target)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return n, fmt.Errorf("write %s: %w", target, err)
	}
	return n, nil
}
