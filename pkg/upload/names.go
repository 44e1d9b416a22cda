package upload

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilename is returned for upload names that are not a single,
// plain path element.
var ErrInvalidFilename = errors.New("upload: invalid filename")

const maxFilenameLength = 255

// CleanFilename validates the name a client wants its upload stored under.
// Only a single path element is accepted: anything that could address a
// location outside the upload directory is rejected rather than rewritten.
func CleanFilename(name string) (string, error) {
	switch {
	case strings.TrimSpace(name) == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidFilename)
	case len(name) > maxFilenameLength:
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidFilename, maxFilenameLength)
	case strings.ContainsRune(name, 0):
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidFilename)
	case strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidFilename, name)
	case name == "." || name == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return name, nil
}
