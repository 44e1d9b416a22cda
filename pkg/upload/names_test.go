package upload

import (
	"errors"
	"strings"
	"testing"
)

func TestCleanFilename(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "report.pdf", false},
		{"spaces", "my holiday video.mp4", false},
		{"unicode", "résumé.txt", false},
		{"hidden", ".bashrc", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"traversal", "../../etc/passwd", true},
		{"subdir", "a/b.txt", true},
		{"absolute", "/etc/passwd", true},
		{"backslash", `..\windows`, true},
		{"nul", "a\x00b", true},
		{"too long", strings.Repeat("x", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanFilename(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFilename) {
					t.Fatalf("CleanFilename(%q) error = %v, want ErrInvalidFilename", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanFilename(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.input {
				t.Errorf("CleanFilename(%q) = %q", tt.input, got)
			}
		})
	}
}
