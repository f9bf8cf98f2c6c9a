// Package catalog discovers GGUF weights on disk and keeps the store's model
// records in sync with what is actually present.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"chatd/pkg/types"
)

// FoundModel is one weights file discovered by a scan.
type FoundModel struct {
	// DisplayName is the filename without its extension.
	DisplayName string
	// Path is the absolute file path, used as the engine load handle.
	Path      string
	SizeBytes int64
}

// ScanDir scans dir (supports a leading '~') for *.gguf files, non-recursive.
// The match is case-insensitive; directories and other extensions are skipped.
func ScanDir(dir string) ([]FoundModel, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var found []FoundModel
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, FoundModel{
			DisplayName: strings.TrimSuffix(name, filepath.Ext(name)),
			Path:        filepath.Join(abs, name),
			SizeBytes:   info.Size(),
		})
	}
	return found, nil
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// ModelStore is the store slice an import needs.
type ModelStore interface {
	UpsertModel(ctx context.Context, displayName, path string, sizeBytes int64) (types.ModelFile, error)
}

// Import scans dir and upserts every discovered model into the store, keyed
// by path so rescans keep stable ids. Returns the number imported.
func Import(ctx context.Context, st ModelStore, dir string, log zerolog.Logger) (int, error) {
	found, err := ScanDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range found {
		if _, err := st.UpsertModel(ctx, f.DisplayName, f.Path, f.SizeBytes); err != nil {
			return n, fmt.Errorf("import %s: %w", f.Path, err)
		}
		n++
	}
	log.Info().Str("dir", dir).Int("models", n).Msg("model catalog imported")
	return n, nil
}
