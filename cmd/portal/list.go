package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ligustah/portal/internal/progress"
)

// runList prints a directory listing from a server.
func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)

	clientConfig := commonFlags(fs)
	path := fs.String("path", "", "Directory on the server (default: root)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: portal list [options]

List a directory on a portal server.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := clientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	listing, err := newClient(cfg.Client).List(ctx, *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return clientExitCode(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, item := range listing.Items {
		size := progress.FormatBytes(item.Size)
		name := item.Name
		if item.IsDir {
			size = "-"
			name += "/"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", size, item.Modified.Format("2006-01-02 15:04"), name)
	}
	w.Flush()
	return ExitSuccess
}
