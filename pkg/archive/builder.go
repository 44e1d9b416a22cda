package archive

import (
	"bytes"
	"context"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/ligustah/portal/pkg/scratch"
)

// Options configures a Builder.
type Options struct {
	// Workers is the number of partial archives built in parallel.
	Workers int

	// Threshold is the largest entry count archived without parallelism.
	Threshold int

	Logger zerolog.Logger
}

// Option is a functional option for configuring a Builder.
type Option func(*Options)

// WithWorkers sets the number of parallel workers.
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

// WithThreshold sets the entry count above which archives are built in parallel.
func WithThreshold(n int) Option {
	return func(o *Options) {
		o.Threshold = n
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Result describes a finished archive.
type Result struct {
	Path    string // Scratch file holding the archive; owned by the caller
	Name    string // Suggested download name
	Size    int64
	Entries int // Files written
	Skipped int // Files that could not be read
}

// Builder writes directory archives into scratch files.
type Builder struct {
	src  billy.Filesystem
	dir  *scratch.Dir
	opts Options
	log  zerolog.Logger
}

// NewBuilder creates a builder reading from src and writing to dir.
func NewBuilder(src billy.Filesystem, dir *scratch.Dir, options ...Option) *Builder {
	opts := Options{
		Workers:   4,
		Threshold: 20,
		Logger:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	return &Builder{
		src:  src,
		dir:  dir,
		opts: opts,
		log:  opts.Logger.With().Str("component", "archive").Logger(),
	}
}

type groupStats struct {
	added   int
	skipped int
}

// Build archives the directory root. The returned scratch file belongs to
// the caller, who must remove or schedule removal of it.
func (b *Builder) Build(ctx context.Context, root string) (*Result, error) {
	start := time.Now()

	entries, err := Collect(b.src, root)
	if err != nil {
		return nil, err
	}

	var (
		path  string
		stats groupStats
	)
	parallel := len(entries) > b.opts.Threshold
	if parallel {
		path, stats, err = b.buildParallel(ctx, Partition(entries, b.opts.Workers))
	} else {
		path, stats, err = b.writeGroup(ctx, entries, ".zip")
	}
	if err != nil {
		return nil, err
	}

	info, err := b.dir.Stat(path)
	if err != nil {
		b.dir.Remove(path)
		return nil, err
	}

	res := &Result{
		Path:    path,
		Name:    Name(root),
		Size:    info.Size(),
		Entries: stats.added,
		Skipped: stats.skipped,
	}

	b.log.Info().
		Str("root", root).
		Int("entries", res.Entries).
		Int("skipped", res.Skipped).
		Int64("size", res.Size).
		Bool("parallel", parallel).
		Dur("took", time.Since(start)).
		Msg("archive built")

	return res, nil
}

// buildParallel writes one partial archive per group on a bounded pool, waits
// for all of them and merges the results.
func (b *Builder) buildParallel(ctx context.Context, groups [][]Entry) (string, groupStats, error) {
	type result struct {
		path  string
		stats groupStats
		err   error
	}

	results := make([]result, len(groups))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < b.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				path, stats, err := b.writeGroup(ctx, groups[idx], fmt.Sprintf("_part%d.zip", idx))
				results[idx] = result{path: path, stats: stats, err: err}
			}
		}()
	}

	for i := range groups {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var (
		total    groupStats
		partials []string
		firstErr error
	)
	for _, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		partials = append(partials, r.path)
		total.added += r.stats.added
		total.skipped += r.stats.skipped
	}
	if firstErr != nil {
		for _, p := range partials {
			b.dir.Remove(p)
		}
		return "", groupStats{}, firstErr
	}

	path, err := Merge(ctx, b.dir, partials, ".zip")
	if err != nil {
		return "", groupStats{}, err
	}
	return path, total, nil
}

// writeGroup compresses entries into a new scratch archive.
func (b *Builder) writeGroup(ctx context.Context, entries []Entry, suffix string) (string, groupStats, error) {
	var stats groupStats

	f, err := b.dir.Create(suffix)
	if err != nil {
		return "", stats, err
	}
	name := f.Name()

	fail := func(err error) (string, groupStats, error) {
		f.Close()
		b.dir.Remove(name)
		return "", groupStats{}, err
	}

	zw := zip.NewWriter(f)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		added, err := b.addEntry(zw, e)
		if err != nil {
			return fail(err)
		}
		if added {
			stats.added++
		} else {
			stats.skipped++
		}
	}

	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("archive: finish %s: %w", name, err))
	}
	if err := f.Close(); err != nil {
		b.dir.Remove(name)
		return "", groupStats{}, fmt.Errorf("archive: close %s: %w", name, err)
	}
	return name, stats, nil
}

// addEntry compresses one source file and appends it to zw. The entry is
// only written once the whole source has been read, so a file that fails
// mid-read is left out entirely. It reports false without an error when the
// source could not be read; errors are reserved for failures of the archive
// itself.
func (b *Builder) addEntry(zw *zip.Writer, e Entry) (bool, error) {
	src, err := b.src.Open(e.Source)
	if err != nil {
		b.log.Debug().Err(err).Str("entry", e.Name).Msg("skipping unreadable file")
		return false, nil
	}
	defer src.Close()

	info, err := b.src.Stat(e.Source)
	if err != nil || info.IsDir() {
		b.log.Debug().Err(err).Str("entry", e.Name).Msg("skipping file")
		return false, nil
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, nil
	}
	hdr.Name = e.Name
	hdr.Method = zip.Deflate

	sp, err := b.newSpool(info.Size())
	if err != nil {
		return false, err
	}
	defer sp.discard()

	fw, err := flate.NewWriter(sp, flate.DefaultCompression)
	if err != nil {
		return false, fmt.Errorf("archive: compress %s: %w", e.Name, err)
	}

	sr := &sourceReader{r: src, crc: crc32.NewIEEE()}
	if _, err := io.Copy(fw, sr); err != nil {
		if sr.err != nil {
			b.log.Warn().Err(sr.err).Str("entry", e.Name).Msg("skipping file that failed mid-read")
			return false, nil
		}
		return false, fmt.Errorf("archive: compress %s: %w", e.Name, err)
	}
	if err := fw.Close(); err != nil {
		return false, fmt.Errorf("archive: compress %s: %w", e.Name, err)
	}

	hdr.CRC32 = sr.crc.Sum32()
	hdr.UncompressedSize64 = uint64(sr.n)
	hdr.CompressedSize64 = uint64(sp.size())

	w, err := zw.CreateRaw(hdr)
	if err != nil {
		return false, fmt.Errorf("archive: add %s: %w", e.Name, err)
	}
	if err := sp.copyTo(w); err != nil {
		return false, fmt.Errorf("archive: write %s: %w", e.Name, err)
	}
	return true, nil
}

// sourceReader counts and checksums what it reads and remembers read
// failures so they can be told apart from write failures after io.Copy.
type sourceReader struct {
	r   io.Reader
	crc hash.Hash32
	n   int64
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.crc.Write(p[:n])
	s.n += int64(n)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// spoolMemoryLimit is the largest source file whose compressed form is held
// in memory. Larger files are spooled to a scratch file.
const spoolMemoryLimit = 1 << 20

// spool holds one compressed entry until it is known to be complete.
type spool struct {
	buf  *bytes.Buffer
	file *scratch.File
	dir  *scratch.Dir
	n    int64
}

func (b *Builder) newSpool(sourceSize int64) (*spool, error) {
	if sourceSize <= spoolMemoryLimit {
		return &spool{buf: new(bytes.Buffer)}, nil
	}
	f, err := b.dir.Create(".entry")
	if err != nil {
		return nil, err
	}
	return &spool{file: f, dir: b.dir}, nil
}

func (s *spool) Write(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.buf.Write(p)
	}
	s.n += int64(n)
	return n, err
}

func (s *spool) size() int64 {
	return s.n
}

func (s *spool) copyTo(w io.Writer) error {
	if s.file == nil {
		_, err := s.buf.WriteTo(w)
		return err
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(w, s.file, s.n)
	return err
}

func (s *spool) discard() {
	if s.file == nil {
		return
	}
	s.file.Close()
	s.dir.Remove(s.file.Name())
}
