package catalog

import (
	"errors"
	"fmt"
	"os"

	"chatd/pkg/types"
)

// Resolver turns a stored model record into a path the engine can load,
// verifying the file still exists and is readable at resolve time. Stored
// records can outlive the files they point to.
type Resolver interface {
	Resolve(m types.ModelFile) (string, error)
}

type notFoundError struct{ path string }

func (e *notFoundError) Error() string { return fmt.Sprintf("model file not found: %s", e.path) }

type accessDeniedError struct{ path string }

func (e *accessDeniedError) Error() string { return fmt.Sprintf("model file not readable: %s", e.path) }

// IsNotFound reports whether err means the model file is gone from disk.
func IsNotFound(err error) bool {
	var e *notFoundError
	return errors.As(err, &e)
}

// IsAccessDenied reports whether err means the model file exists but cannot
// be opened for reading.
func IsAccessDenied(err error) bool {
	var e *accessDeniedError
	return errors.As(err, &e)
}

// FileResolver checks the filesystem on every resolve.
type FileResolver struct{}

func (FileResolver) Resolve(m types.ModelFile) (string, error) {
	info, err := os.Stat(m.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &notFoundError{path: m.Path}
		}
		if os.IsPermission(err) {
			return "", &accessDeniedError{path: m.Path}
		}
		return "", fmt.Errorf("stat model file: %w", err)
	}
	if info.IsDir() {
		return "", &notFoundError{path: m.Path}
	}
	f, err := os.Open(m.Path)
	if err != nil {
		if os.IsPermission(err) {
			return "", &accessDeniedError{path: m.Path}
		}
		return "", fmt.Errorf("open model file: %w", err)
	}
	f.Close()
	return m.Path, nil
}
