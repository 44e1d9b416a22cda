package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned for an unknown, completed or expired session.
var ErrSessionNotFound = errors.New("upload: session not found")

// ErrInvalidChunk is returned for a chunk index or chunk count the session
// cannot accept.
var ErrInvalidChunk = errors.New("upload: invalid chunk")

// ErrInvalidSize is returned when a negative file size is declared.
var ErrInvalidSize = errors.New("upload: invalid size")

// ErrChunkCorrupt is returned when a stored chunk no longer matches the
// checksum taken when it was received.
var ErrChunkCorrupt = errors.New("upload: chunk corrupt")

// Status is the outcome of receiving a chunk.
type Status string

const (
	// StatusPending means more chunks are expected.
	StatusPending Status = "pending"
	// StatusComplete means the chunk completed the session and the file was assembled.
	StatusComplete Status = "complete"
)

// Options configures a Manager.
type Options struct {
	DefaultChunks int              // Chunk count used when the client declares none
	MaxChunks     int              // Upper bound on a declared chunk count
	TTL           time.Duration    // Idle time before a session is evicted (0 = never)
	Logger        zerolog.Logger
	Clock         func() time.Time
}

// Option is a functional option for configuring a Manager.
type Option func(*Options)

// WithDefaultChunks sets the chunk count assumed when a client declares 0.
func WithDefaultChunks(n int) Option {
	return func(o *Options) {
		o.DefaultChunks = n
	}
}

// WithMaxChunks sets the largest chunk count a client may declare.
func WithMaxChunks(n int) Option {
	return func(o *Options) {
		o.MaxChunks = n
	}
}

// WithTTL sets how long a session may stay idle before Sweep evicts it.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithClock overrides the time source used for session activity.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Clock = now
	}
}

// SessionInfo is a snapshot of a live session.
type SessionInfo struct {
	ID             string    `json:"session_id"`
	Filename       string    `json:"filename"`
	Size           int64     `json:"filesize"`
	TotalChunks    int       `json:"total_chunks"`
	ReceivedChunks int       `json:"chunks_received"`
	ReceivedBytes  int64     `json:"bytes_received"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}

type session struct {
	id       string
	filename string
	size     int64
	total    int
	created  time.Time

	mu         sync.Mutex
	chunks     chunkSet
	lastActive time.Time
	receiving  int  // chunks being stored; Sweep leaves the session alone
	closed     bool // set once by whoever finalizes, aborts or evicts
}

// Manager owns the table of live upload sessions.
type Manager struct {
	store *ChunkStore
	dest  billy.Filesystem
	opts  Options
	log   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	// assembleMu serializes writes of finished files.
	assembleMu sync.Mutex
}

// NewManager creates a session manager that stores chunks in store and
// assembles finished files into dest.
func NewManager(store *ChunkStore, dest billy.Filesystem, options ...Option) *Manager {
	opts := Options{
		DefaultChunks: 4,
		MaxChunks:     10000,
		TTL:           time.Hour,
		Logger:        zerolog.Nop(),
		Clock:         time.Now,
	}
	for _, opt := range options {
		opt(&opts)
	}

	return &Manager{
		store:    store,
		dest:     dest,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "upload").Logger(),
		sessions: make(map[string]*session),
	}
}

// Create registers a new session and returns its id. A chunk count of 0
// selects the default.
func (m *Manager) Create(ctx context.Context, filename string, size int64, chunks int) (string, error) {
	name, err := CleanFilename(filename)
	if err != nil {
		return "", err
	}
	if size < 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if chunks == 0 {
		chunks = m.opts.DefaultChunks
	}
	if chunks < 1 || chunks > m.opts.MaxChunks {
		return "", fmt.Errorf("%w: chunk count %d outside [1, %d]", ErrInvalidChunk, chunks, m.opts.MaxChunks)
	}

	now := m.opts.Clock()
	s := &session{
		id:         uuid.NewString(),
		filename:   name,
		size:       size,
		total:      chunks,
		created:    now,
		chunks:     newChunkSet(),
		lastActive: now,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.log.Debug().
		Str("session", s.id).
		Str("filename", name).
		Int64("size", size).
		Int("chunks", chunks).
		Msg("upload session created")

	return s.id, nil
}

// ReceiveChunk stores one chunk of a session. When it is the last missing
// chunk, the file is assembled before ReceiveChunk returns StatusComplete.
// Sending an index again replaces the earlier chunk.
func (m *Manager) ReceiveChunk(ctx context.Context, sessionID string, index int, r io.Reader) (Status, error) {
	s := m.lookup(sessionID)
	if s == nil {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if index < 0 || index >= s.total {
		return "", fmt.Errorf("%w: index %d outside [0, %d)", ErrInvalidChunk, index, s.total)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.receiving++
	s.lastActive = m.opts.Clock()
	s.mu.Unlock()

	rec, err := m.store.Put(ctx, sessionID, index, r)

	s.mu.Lock()
	s.receiving--
	if err != nil {
		s.lastActive = m.opts.Clock()
		s.mu.Unlock()
		return "", err
	}
	if s.closed {
		s.mu.Unlock()
		m.discard(ctx, rec)
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	prev, replaced := s.chunks.put(rec)
	s.lastActive = m.opts.Clock()
	received := s.chunks.len()
	complete := received == s.total
	if complete {
		s.closed = true
	}
	s.mu.Unlock()

	if replaced {
		m.discard(ctx, prev)
	}

	m.log.Debug().
		Str("session", sessionID).
		Int("index", index).
		Int64("size", rec.Size).
		Str("sha256", rec.Checksum).
		Int("received", received).
		Int("total", s.total).
		Msg("chunk received")

	if !complete {
		return StatusPending, nil
	}

	if err := m.finalize(ctx, s); err != nil {
		return "", err
	}
	return StatusComplete, nil
}

// finalize assembles the destination file. The caller must have closed s.
func (m *Manager) finalize(ctx context.Context, s *session) error {
	defer m.remove(s.id)

	s.mu.Lock()
	records := s.chunks.ordered()
	s.mu.Unlock()

	consumed := 0
	defer func() {
		for _, rec := range records[consumed:] {
			m.discard(ctx, rec)
		}
	}()

	m.assembleMu.Lock()
	defer m.assembleMu.Unlock()

	f, err := m.dest.OpenFile(s.filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("upload: open destination %q: %w", s.filename, err)
	}

	var written int64
	for _, rec := range records {
		n, err := m.appendChunk(ctx, f, rec)
		written += n
		m.discard(ctx, rec)
		consumed++
		if err != nil {
			f.Close()
			m.dest.Remove(s.filename)
			return fmt.Errorf("upload: assemble %q: %w", s.filename, err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("upload: close destination %q: %w", s.filename, err)
	}

	if s.size > 0 && written != s.size {
		m.log.Warn().
			Str("session", s.id).
			Str("filename", s.filename).
			Int64("declared", s.size).
			Int64("written", written).
			Msg("assembled size differs from declared size")
	}

	m.log.Info().
		Str("session", s.id).
		Str("filename", s.filename).
		Int64("size", written).
		Int("chunks", len(records)).
		Msg("upload complete")

	return nil
}

func (m *Manager) appendChunk(ctx context.Context, w io.Writer, rec ChunkRecord) (int64, error) {
	r, err := m.store.Open(ctx, rec)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, hash), r)
	if err != nil {
		return n, fmt.Errorf("copy chunk %d: %w", rec.Index, err)
	}
	if sum := hex.EncodeToString(hash.Sum(nil)); sum != rec.Checksum {
		return n, fmt.Errorf("%w: chunk %d has sha256 %s, received %s", ErrChunkCorrupt, rec.Index, sum, rec.Checksum)
	}
	return n, nil
}

// Status returns a snapshot of a live session.
func (m *Manager) Status(sessionID string) (SessionInfo, error) {
	s := m.lookup(sessionID)
	if s == nil {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:             s.id,
		Filename:       s.filename,
		Size:           s.size,
		TotalChunks:    s.total,
		ReceivedChunks: s.chunks.len(),
		ReceivedBytes:  s.chunks.bytes(),
		CreatedAt:      s.created,
		LastActivity:   s.lastActive,
	}, nil
}

// Abort drops a session and deletes its chunks.
func (m *Manager) Abort(ctx context.Context, sessionID string) error {
	s := m.lookup(sessionID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if !m.close(s) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	m.evict(ctx, s)

	m.log.Info().Str("session", sessionID).Msg("upload session aborted")
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// close marks s closed, reporting whether this call did it.
func (m *Manager) close(s *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// evict removes a closed session and all of its chunks.
func (m *Manager) evict(ctx context.Context, s *session) {
	m.remove(s.id)

	if err := m.store.DeleteSession(context.WithoutCancel(ctx), s.id); err != nil {
		m.log.Warn().Err(err).Str("session", s.id).Msg("chunk cleanup failed")
	}
}

func (m *Manager) lookup(sessionID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// discard deletes a chunk even when ctx has been cancelled.
func (m *Manager) discard(ctx context.Context, rec ChunkRecord) {
	if err := m.store.Delete(context.WithoutCancel(ctx), rec.Key); err != nil {
		m.log.Debug().Err(err).Str("key", rec.Key).Msg("chunk cleanup failed")
	}
}
