package progress

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Action describes the transfer, e.g. "Uploading".
	// Default: "Transferring"
	Action string

	// Target names what is being transferred (for display).
	Target string

	// TotalSize is the total size in bytes to transfer.
	TotalSize int64

	// TotalChunks is the total number of chunks.
	TotalChunks int

	// ChunkSize is the size of each chunk (for display).
	ChunkSize int64

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	completedBytes  atomic.Int64
	completedChunks atomic.Int32
	inProgress      atomic.Int32

	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.Action == "" {
		opts.Action = "Transferring"
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[portal] %s: %s\n", r.opts.Action, r.opts.Target)
	fmt.Fprintf(r.opts.Output, "[portal] Total size: %s | Chunks: %d x %s | Workers: %d\n",
		FormatBytes(r.opts.TotalSize),
		r.opts.TotalChunks,
		FormatBytes(r.opts.ChunkSize),
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the reporter and waits for the final status line. Calling Stop
// more than once is safe.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	if !r.startTime.IsZero() {
		<-r.done
	}
}

// ChunkStarted marks a chunk as in progress.
func (r *Reporter) ChunkStarted() {
	r.inProgress.Add(1)
}

// BytesWritten records transferred bytes.
func (r *Reporter) BytesWritten(n int64) {
	r.completedBytes.Add(n)
}

// ChunkCompleted marks a chunk as completed.
func (r *Reporter) ChunkCompleted() {
	r.completedChunks.Add(1)
	r.inProgress.Add(-1)
}

// ChunkFailed marks a chunk as failed (removes from in-progress).
func (r *Reporter) ChunkFailed() {
	r.inProgress.Add(-1)
}

func (r *Reporter) updateLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	completedChunks := int(r.completedChunks.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	eta := "calculating..."
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	pending := max(r.opts.TotalChunks-completedChunks-inProgress, 0)

	fmt.Fprintf(r.opts.Output, "\r[portal] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ",
		percent,
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
		FormatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[portal] Chunks: %d completed | %d in-progress | %d pending    \033[A",
		completedChunks,
		inProgress,
		pending,
	)
}

func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[portal] Progress: %.1f%% | %s / %s | Speed: %s/s    \n",
		percentOf(completed, r.opts.TotalSize),
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
		FormatBytes(int64(avgSpeed)),
	)
	fmt.Fprintf(r.opts.Output, "[portal] Chunks: %d/%d completed    \n",
		r.completedChunks.Load(),
		r.opts.TotalChunks,
	)
	fmt.Fprintf(r.opts.Output, "[portal] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

func percentOf(n, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(n) / float64(total) * 100
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

var iecUnits = []string{"KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats bytes with binary units, e.g. "1.5 KiB" or "256 MiB".
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b)
	unit := ""
	for _, u := range iecUnits {
		v /= 1024
		unit = u
		if v < 1024 {
			break
		}
	}
	if v >= 100 {
		return fmt.Sprintf("%.0f %s", v, unit)
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}

var byteSuffixes = []struct {
	suffix string
	mult   float64
}{
	{"KiB", 1 << 10},
	{"MiB", 1 << 20},
	{"GiB", 1 << 30},
	{"TiB", 1 << 40},
	{"KB", 1e3},
	{"MB", 1e6},
	{"GB", 1e9},
	{"TB", 1e12},
	{"K", 1 << 10},
	{"M", 1 << 20},
	{"G", 1 << 30},
	{"T", 1 << 40},
	{"B", 1},
}

// ParseBytes parses a human-readable byte string such as "256MiB", "1.5 GB"
// or "100". Binary (KiB) and SI (KB) suffixes are both accepted; bare
// single-letter suffixes are binary.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	mult := 1.0
	for _, u := range byteSuffixes {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid byte string: %q", s)
	}
	return int64(v * mult), nil
}
