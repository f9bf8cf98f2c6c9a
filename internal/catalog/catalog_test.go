package catalog

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatd/pkg/types"
)

func TestScanDirFiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"a.gguf",
		"b.GGUF", // case-insensitive
		"not-model.txt",
		"model.bin",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	found, err := ScanDir(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 models, got %d", len(found))
	}
	for _, m := range found {
		if strings.Contains(m.DisplayName, ".") {
			t.Fatalf("display name keeps extension: %q", m.DisplayName)
		}
		if !filepath.IsAbs(m.Path) {
			t.Fatalf("path not absolute: %q", m.Path)
		}
		if m.SizeBytes != 1 {
			t.Fatalf("size = %d, want 1", m.SizeBytes)
		}
	}
}

func TestScanDirMissing(t *testing.T) {
	if _, err := ScanDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

type recordingStore struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingStore) UpsertModel(ctx context.Context, displayName, path string, sizeBytes int64) (types.ModelFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return types.ModelFile{ID: uuid.New(), DisplayName: displayName, Path: path, SizeBytes: sizeBytes}, nil
}

func TestImportUpsertsEachModel(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"one.gguf", "two.gguf"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	st := &recordingStore{}
	n, err := Import(context.Background(), st, dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 || len(st.paths) != 2 {
		t.Fatalf("imported %d (%d upserts), want 2", n, len(st.paths))
	}
}

func TestFileResolver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.gguf")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var r FileResolver

	got, err := r.Resolve(types.ModelFile{Path: path})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != path {
		t.Fatalf("resolved %q, want %q", got, path)
	}

	_, err = r.Resolve(types.ModelFile{Path: filepath.Join(dir, "gone.gguf")})
	if !IsNotFound(err) {
		t.Fatalf("missing file: got %v, want not-found", err)
	}

	// A directory at the path is as good as missing.
	_, err = r.Resolve(types.ModelFile{Path: dir})
	if !IsNotFound(err) {
		t.Fatalf("directory path: got %v, want not-found", err)
	}
}

func TestFileResolverAccessDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced here")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "locked.gguf")
	if err := os.WriteFile(path, []byte("x"), 0o000); err != nil {
		t.Fatalf("write: %v", err)
	}
	var r FileResolver
	_, err := r.Resolve(types.ModelFile{Path: path})
	if !IsAccessDenied(err) {
		t.Fatalf("unreadable file: got %v, want access-denied", err)
	}
}
