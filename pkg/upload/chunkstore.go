package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ChunkRecord describes one stored chunk of a session.
type ChunkRecord struct {
	Index    int
	Key      string
	Size     int64
	Checksum string
}

// ChunkStore persists uploaded chunks to a blob bucket.
type ChunkStore struct {
	bucket *blob.Bucket
	prefix string
}

// NewChunkStore creates a chunk store writing under prefix in bucket.
func NewChunkStore(bucket *blob.Bucket, prefix string) *ChunkStore {
	return &ChunkStore{bucket: bucket, prefix: prefix}
}

func (s *ChunkStore) sessionPrefix(sessionID string) string {
	return s.prefix + sessionID + "/"
}

func (s *ChunkStore) key(sessionID string, index int) string {
	return fmt.Sprintf("%schunk-%06d-%s", s.sessionPrefix(sessionID), index, uuid.NewString()[:8])
}

// Put streams r into a new chunk blob and returns its record.
// On failure nothing is left behind in the bucket.
func (s *ChunkStore) Put(ctx context.Context, sessionID string, index int, r io.Reader) (ChunkRecord, error) {
	key := s.key(sessionID, index)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, key, nil)
	if err != nil {
		return ChunkRecord{}, fmt.Errorf("upload: create chunk writer: %w", err)
	}

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, hash), r)
	if err != nil {
		// Cancelling before Close aborts the write.
		cancel()
		w.Close()
		s.Delete(context.WithoutCancel(ctx), key)
		return ChunkRecord{}, fmt.Errorf("upload: write chunk %d: %w", index, err)
	}

	if err := w.Close(); err != nil {
		return ChunkRecord{}, fmt.Errorf("upload: close chunk %d: %w", index, err)
	}

	return ChunkRecord{
		Index:    index,
		Key:      key,
		Size:     n,
		Checksum: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Open returns a reader for a stored chunk.
func (s *ChunkStore) Open(ctx context.Context, rec ChunkRecord) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, rec.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("upload: open chunk %d: %w", rec.Index, err)
	}
	return r, nil
}

// Delete removes a chunk blob. Missing blobs are not an error.
func (s *ChunkStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && !isNotExist(err) {
		return fmt.Errorf("upload: delete chunk %s: %w", key, err)
	}
	return nil
}

// DeleteSession removes every chunk stored for a session, including ones the
// session never recorded.
func (s *ChunkStore) DeleteSession(ctx context.Context, sessionID string) error {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.sessionPrefix(sessionID)})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("upload: list session %s: %w", sessionID, err)
		}
		if err := s.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
}

// Count returns the number of chunk blobs currently stored for a session.
func (s *ChunkStore) Count(ctx context.Context, sessionID string) (int, error) {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.sessionPrefix(sessionID)})
	n := 0
	for {
		_, err := iter.Next(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("upload: list session %s: %w", sessionID, err)
		}
		n++
	}
}

// chunkSet holds a session's chunk records keyed by index.
type chunkSet struct {
	byIndex map[int]ChunkRecord
}

func newChunkSet() chunkSet {
	return chunkSet{byIndex: make(map[int]ChunkRecord)}
}

// put records rec, returning the record it replaced, if any.
func (c *chunkSet) put(rec ChunkRecord) (ChunkRecord, bool) {
	prev, ok := c.byIndex[rec.Index]
	c.byIndex[rec.Index] = rec
	return prev, ok
}

func (c *chunkSet) len() int {
	return len(c.byIndex)
}

func (c *chunkSet) bytes() int64 {
	var total int64
	for _, rec := range c.byIndex {
		total += rec.Size
	}
	return total
}

// ordered returns the records sorted by ascending chunk index.
func (c *chunkSet) ordered() []ChunkRecord {
	out := make([]ChunkRecord, 0, len(c.byIndex))
	for _, rec := range c.byIndex {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b ChunkRecord) int {
		return a.Index - b.Index
	})
	return out
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
