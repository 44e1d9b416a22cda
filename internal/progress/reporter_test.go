package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"256MiB", 256 * 1024 * 1024},
		{"64 MiB", 64 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		{"8M", 8 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	for _, s := range []string{"invalid", "", "MiB", "-5MB"} {
		if _, err := ParseBytes(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestReporterChunkTracking(t *testing.T) {
	reporter := NewReporter(Options{
		TotalSize:      1024,
		TotalChunks:    4,
		Workers:        2,
		UpdateInterval: 100 * time.Millisecond,
	})

	// Test chunk tracking without starting the reporter
	reporter.ChunkStarted()
	if reporter.inProgress.Load() != 1 {
		t.Errorf("expected 1 in-progress, got %d", reporter.inProgress.Load())
	}

	reporter.BytesWritten(256)
	reporter.ChunkCompleted()
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after complete, got %d", reporter.inProgress.Load())
	}
	if reporter.completedChunks.Load() != 1 {
		t.Errorf("expected 1 completed, got %d", reporter.completedChunks.Load())
	}
	if reporter.completedBytes.Load() != 256 {
		t.Errorf("expected 256 bytes, got %d", reporter.completedBytes.Load())
	}

	reporter.ChunkStarted()
	reporter.ChunkFailed()
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after fail, got %d", reporter.inProgress.Load())
	}

	// Stop without Start must not block.
	reporter.Stop()
}

func TestReporterStartStop(t *testing.T) {
	var out bytes.Buffer
	reporter := NewReporter(Options{
		Action:         "Uploading",
		Target:         "movie.mkv",
		TotalSize:      1024 * 1024,
		TotalChunks:    4,
		ChunkSize:      256 * 1024,
		Workers:        2,
		UpdateInterval: 10 * time.Millisecond,
		Output:         &out,
	})

	reporter.Start()

	reporter.ChunkStarted()
	reporter.BytesWritten(256 * 1024)
	reporter.ChunkCompleted()

	reporter.ChunkStarted()
	reporter.BytesWritten(256 * 1024)
	reporter.ChunkCompleted()

	time.Sleep(50 * time.Millisecond) // Let updates run

	reporter.Stop()
	reporter.Stop()

	if reporter.completedChunks.Load() != 2 {
		t.Errorf("expected 2 completed chunks, got %d", reporter.completedChunks.Load())
	}

	s := out.String()
	for _, want := range []string{
		"[portal] Uploading: movie.mkv",
		"Chunks: 4 x 256 KiB",
		"[portal] Chunks: 2/4 completed",
		"512 KiB / 1.0 MiB",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}
