package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"

	"github.com/ligustah/portal/pkg/archive"
	"github.com/ligustah/portal/pkg/scratch"
	"github.com/ligustah/portal/pkg/upload"
)

var (
	// ErrNotFound is returned when a requested file or directory does not exist.
	ErrNotFound = errors.New("portal: not found")

	// ErrInvalidRequest is returned for requests that can never succeed as
	// sent: a directory where a file is expected, a path outside the root,
	// or upload parameters the session manager rejects.
	ErrInvalidRequest = errors.New("portal: invalid request")
)

// Options configures a Service.
type Options struct {
	// GraceDelay is how long an archive stays on disk after it is handed out.
	GraceDelay time.Duration

	// RootName names the archive of the whole tree. Default: "archive".
	RootName string

	Archive []archive.Option
	Logger  zerolog.Logger
}

// Option is a functional option for configuring a Service.
type Option func(*Options)

// WithGraceDelay sets how long archives are kept after delivery.
func WithGraceDelay(d time.Duration) Option {
	return func(o *Options) {
		o.GraceDelay = d
	}
}

// WithRootName sets the base name used for an archive of the root directory.
func WithRootName(name string) Option {
	return func(o *Options) {
		o.RootName = name
	}
}

// WithArchiveOptions passes options through to the archive builder.
func WithArchiveOptions(opts ...archive.Option) Option {
	return func(o *Options) {
		o.Archive = append(o.Archive, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Service implements the file portal operations on top of a served tree, an
// upload session manager and a scratch directory.
type Service struct {
	root    billy.Filesystem
	uploads *upload.Manager
	scratch *scratch.Dir
	sched   *scratch.Scheduler
	builder *archive.Builder
	opts    Options
	log     zerolog.Logger
}

// New creates a service serving root. Uploads go through uploads; archives are
// built in tmp.
func New(root billy.Filesystem, uploads *upload.Manager, tmp *scratch.Dir, options ...Option) *Service {
	opts := Options{
		GraceDelay: scratch.DefaultGrace,
		RootName:   "archive",
		Logger:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(&opts)
	}

	log := opts.Logger.With().Str("component", "portal").Logger()
	archiveOpts := append([]archive.Option{archive.WithLogger(opts.Logger)}, opts.Archive...)

	return &Service{
		root:    root,
		uploads: uploads,
		scratch: tmp,
		sched:   scratch.NewScheduler(tmp),
		builder: archive.NewBuilder(root, tmp, archiveOpts...),
		opts:    opts,
		log:     log,
	}
}

// Close deletes every archive still waiting for its grace delay to pass.
func (s *Service) Close() error {
	s.sched.Close()
	return nil
}

// Resolve turns a client supplied path into a clean path relative to the
// root. "" and "/" name the root itself, returned as ".". Paths that climb
// above the root are rejected.
func (s *Service) Resolve(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: path contains NUL", ErrInvalidRequest)
	}

	var parts []string
	for _, seg := range strings.Split(strings.ReplaceAll(p, `\`, "/"), "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(parts) == 0 {
				return "", fmt.Errorf("%w: %q is outside the root", ErrInvalidRequest, p)
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return ".", nil
	}
	return path.Join(parts...), nil
}

// StartUpload opens an upload session. A chunk count of 0 selects the
// server's default.
func (s *Service) StartUpload(ctx context.Context, filename string, size int64, chunks int) (string, error) {
	id, err := s.uploads.Create(ctx, filename, size, chunks)
	if err != nil {
		return "", invalid(err)
	}
	return id, nil
}

// UploadChunk stores chunk index of a session. It reports
// [upload.StatusComplete] once the file has been assembled.
func (s *Service) UploadChunk(ctx context.Context, sessionID string, index int, r io.Reader) (upload.Status, error) {
	status, err := s.uploads.ReceiveChunk(ctx, sessionID, index, r)
	if err != nil {
		return "", invalid(err)
	}
	return status, nil
}

// UploadStatus returns the progress of a live session.
func (s *Service) UploadStatus(sessionID string) (upload.SessionInfo, error) {
	info, err := s.uploads.Status(sessionID)
	if err != nil {
		return upload.SessionInfo{}, invalid(err)
	}
	return info, nil
}

// AbortUpload cancels a live session.
func (s *Service) AbortUpload(ctx context.Context, sessionID string) error {
	return invalid(s.uploads.Abort(ctx, sessionID))
}

// invalid tags errors caused by the caller's input with ErrInvalidRequest.
func invalid(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, upload.ErrSessionNotFound),
		errors.Is(err, upload.ErrInvalidChunk),
		errors.Is(err, upload.ErrInvalidFilename),
		errors.Is(err, upload.ErrInvalidSize):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	default:
		return err
	}
}

// Download is a readable artifact handed to a client. The caller must close
// File.
type Download struct {
	Name        string
	File        billy.File
	Size        int64
	ModTime     time.Time
	ContentType string

	// Task is the pending deletion of a generated artifact, nil for files
	// served from the tree.
	Task *scratch.Task
}

// DownloadFile opens a regular file below the root.
func (s *Service) DownloadFile(ctx context.Context, p string) (*Download, error) {
	rel, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}

	info, err := s.root.Stat(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("portal: stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidRequest, rel)
	}

	f, err := s.root.Open(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("portal: open %s: %w", rel, err)
	}

	contentType, err := detect(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("portal: read %s: %w", rel, err)
	}

	return &Download{
		Name:        info.Name(),
		File:        f,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: contentType,
	}, nil
}

// detect sniffs the content type of f and rewinds it.
func detect(f billy.File) (string, error) {
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return mt.String(), nil
}

// DownloadDirectoryArchive builds a zip archive of a directory below the
// root. The archive is deleted after the grace delay whether or not the
// client has finished reading it; an open handle keeps working on systems
// that allow unlinking open files.
func (s *Service) DownloadDirectoryArchive(ctx context.Context, p string) (*Download, error) {
	rel, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}

	res, err := s.builder.Build(ctx, rel)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}

	name := res.Name
	if rel == "." {
		name = s.opts.RootName + ".zip"
	}

	f, err := s.scratch.Open(res.Path)
	if err != nil {
		s.scratch.Remove(res.Path)
		return nil, err
	}
	task := s.sched.Schedule(res.Path, s.opts.GraceDelay)

	s.log.Debug().
		Str("dir", rel).
		Str("file", res.Path).
		Time("delete_at", task.Deadline()).
		Msg("archive ready")

	return &Download{
		Name:        name,
		File:        f,
		Size:        res.Size,
		ModTime:     time.Now(),
		ContentType: "application/zip",
		Task:        task,
	}, nil
}
