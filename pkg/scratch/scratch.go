package scratch

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a scratch directory.
type Options struct {
	Prefix string
	Logger zerolog.Logger
}

// Option is a functional option for configuring a scratch directory.
type Option func(*Options)

// WithPrefix sets the name prefix of created files. Default: "portal-".
func WithPrefix(prefix string) Option {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

// WithLogger sets the logger used to report cleanup failures.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Dir is a directory of scratch files.
type Dir struct {
	fs   billy.Filesystem
	opts Options
}

// New creates a scratch directory backed by fsys.
func New(fsys billy.Filesystem, options ...Option) *Dir {
	opts := Options{
		Prefix: "portal-",
		Logger: zerolog.Nop(),
	}
	for _, opt := range options {
		opt(&opts)
	}
	return &Dir{fs: fsys, opts: opts}
}

// Open creates path if needed and returns a scratch directory rooted there.
// Access is bound to path.
func Open(path string, options ...Option) (*Dir, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("scratch: create %s: %w", path, err)
	}
	return New(osfs.New(path, osfs.WithBoundOS()), options...), nil
}

// File is an open scratch file.
type File struct {
	billy.File
	name string
}

// Name returns the file's name relative to its scratch directory.
func (f *File) Name() string {
	return f.name
}

// Create allocates a new, uniquely named scratch file ending in suffix.
// The file is opened for reading and writing. The caller owns deletion.
func (d *Dir) Create(suffix string) (*File, error) {
	name := d.opts.Prefix + uuid.NewString() + suffix
	f, err := d.fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("scratch: create %q: %w", name, err)
	}
	return &File{File: f, name: name}, nil
}

// Open opens a scratch file for reading.
func (d *Dir) Open(name string) (billy.File, error) {
	f, err := d.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("scratch: open %q: %w", name, err)
	}
	return f, nil
}

// Stat returns file info for a scratch file.
func (d *Dir) Stat(name string) (os.FileInfo, error) {
	info, err := d.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("scratch: stat %q: %w", name, err)
	}
	return info, nil
}

// Exists reports whether a scratch file is still present.
func (d *Dir) Exists(name string) bool {
	_, err := d.fs.Stat(name)
	return err == nil
}

// Remove deletes a scratch file. A file that is already gone is not an error.
func (d *Dir) Remove(name string) error {
	if err := d.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("scratch: remove %q: %w", name, err)
	}
	return nil
}

// discard removes name, logging instead of returning failures.
func (d *Dir) discard(name string) {
	if err := d.Remove(name); err != nil {
		d.opts.Logger.Debug().Err(err).Str("file", name).Msg("scratch cleanup failed")
	}
}
