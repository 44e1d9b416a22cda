package archive

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ErrNotFound is returned when the directory to archive does not exist or is
// not a directory.
var ErrNotFound = errors.New("archive: directory not found")

// Entry is one file to be archived.
type Entry struct {
	Source string // Path in the source filesystem
	Name   string // Slash-separated path inside the archive
}

// IsHidden reports whether a file or directory name is hidden.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Collect lists the files below root that belong in an archive, with names
// relative to root. Hidden files are skipped and hidden directories are not
// descended into. Entries that disappear during the walk are ignored.
func Collect(fsys billy.Filesystem, root string) ([]Entry, error) {
	if root == "" {
		root = "."
	}

	info, err := fsys.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
		return nil, fmt.Errorf("archive: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, root)
	}

	var entries []Entry
	err = util.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if p == root {
			return nil
		}
		if IsHidden(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Source: p, Name: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: walk %s: %w", root, err)
	}

	return entries, nil
}

// Partition deals entries round-robin into n groups: entry i goes to group
// i mod n.
func Partition(entries []Entry, n int) [][]Entry {
	groups := make([][]Entry, n)
	for i, e := range entries {
		groups[i%n] = append(groups[i%n], e)
	}
	return groups
}

// Name returns the download name for an archive of root: its base name with
// a .zip suffix.
func Name(root string) string {
	base := path.Base(filepath.ToSlash(filepath.Clean(root)))
	if base == "." || base == "/" {
		base = "archive"
	}
	return base + ".zip"
}
