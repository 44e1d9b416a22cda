package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	portalhttp "github.com/ligustah/portal/internal/http"
	"github.com/ligustah/portal/internal/progress"
	"github.com/ligustah/portal/pkg/upload"
)

// Options configures the uploader.
type Options struct {
	// Workers is the number of chunks uploaded in parallel.
	Workers int

	// ChunkSize is the size of each chunk.
	ChunkSize int64

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// MaxConsecutiveFailures is the number of consecutive chunk failures
	// before the circuit breaker trips and stops the upload.
	// Set to 0 for the default (10).
	MaxConsecutiveFailures int
}

// FailedChunk records information about a chunk that failed to upload.
type FailedChunk struct {
	Index int   // Chunk index
	Error error // The error that occurred
}

// CircuitBreakerError is returned when too many consecutive failures occur.
// Use errors.As to extract this error and inspect FailedChunks for details.
type CircuitBreakerError struct {
	ConsecutiveFailures int           // Number of consecutive failures
	FailedChunks        []FailedChunk // Details of failed chunks
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker tripped: %d consecutive failures", e.ConsecutiveFailures)
}

// ErrIncomplete is returned when every chunk was accepted but the server
// never reported the file as assembled.
var ErrIncomplete = errors.New("uploader: server did not complete the upload")

// Result describes a finished upload.
type Result struct {
	SessionID string
	Chunks    int
	Bytes     int64
}

// ChunkCount returns the number of chunks needed for size bytes. An empty
// file is sent as one empty chunk.
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Upload sends size bytes of src to the server as filename, split into
// chunks uploaded in parallel. On failure the session is aborted.
func Upload(ctx context.Context, client *portalhttp.Client, src io.ReaderAt, size int64, filename string, opts Options) (*Result, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 64 * 1024 * 1024
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 10
	}

	chunks := ChunkCount(size, opts.ChunkSize)

	info, err := client.StartUpload(ctx, filename, size, chunks)
	if err != nil {
		return nil, fmt.Errorf("start upload: %w", err)
	}
	if info.TotalChunks != chunks {
		return nil, fmt.Errorf("server expects %d chunks, planned %d", info.TotalChunks, chunks)
	}

	var (
		mu                    sync.Mutex
		consecutiveFailures   int
		failedChunks          []FailedChunk
		circuitBreakerTripped bool
		completed             bool
	)

	cbCtx, cbCancel := context.WithCancel(ctx)
	defer cbCancel()

	jobs := make(chan int, opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				status, err := sendChunk(cbCtx, client, info.ID, src, size, index, opts)

				mu.Lock()
				if err != nil {
					consecutiveFailures++
					failedChunks = append(failedChunks, FailedChunk{Index: index, Error: err})
					if consecutiveFailures >= opts.MaxConsecutiveFailures {
						circuitBreakerTripped = true
						cbCancel()
					}
				} else {
					consecutiveFailures = 0
					if status == upload.StatusComplete {
						completed = true
					}
				}
				tripped := circuitBreakerTripped
				mu.Unlock()

				if tripped {
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for index := 0; index < chunks; index++ {
			select {
			case jobs <- index:
			case <-cbCtx.Done():
				return
			}
		}
	}()

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	abort := func() {
		client.AbortUpload(context.WithoutCancel(ctx), info.ID)
	}

	if circuitBreakerTripped {
		abort()
		return nil, &CircuitBreakerError{
			ConsecutiveFailures: consecutiveFailures,
			FailedChunks:        failedChunks,
		}
	}
	if ctx.Err() != nil {
		abort()
		return nil, ctx.Err()
	}
	if len(failedChunks) > 0 {
		abort()
		first := failedChunks[0]
		return nil, fmt.Errorf("%d chunks failed, first: %w", len(failedChunks), first.Error)
	}
	if !completed {
		return nil, ErrIncomplete
	}

	return &Result{SessionID: info.ID, Chunks: chunks, Bytes: size}, nil
}

// sendChunk uploads a single chunk.
func sendChunk(ctx context.Context, client *portalhttp.Client, sessionID string, src io.ReaderAt, size int64, index int, opts Options) (upload.Status, error) {
	reporter := opts.Progress
	if reporter != nil {
		reporter.ChunkStarted()
	}

	offset := int64(index) * opts.ChunkSize
	length := min(opts.ChunkSize, size-offset)
	if length < 0 {
		length = 0
	}

	status, err := client.UploadChunk(ctx, sessionID, index, src, offset, length)
	if err != nil {
		if reporter != nil {
			reporter.ChunkFailed()
		}
		return "", fmt.Errorf("upload chunk %d: %w", index, err)
	}

	if reporter != nil {
		reporter.BytesWritten(length)
		reporter.ChunkCompleted()
	}
	return status, nil
}
