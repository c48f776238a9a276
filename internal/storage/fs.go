package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/starford/treeapp/internal/checksum"
)

// FS implements Provider backed by a single file on the local file system.
type FS struct {
	path string // absolute path to the document

	mu      sync.Mutex
	lastSum string

	sync func(*os.File) error
}

// NewFS creates a provider for the file at path. The parent directory is
// created if needed; path itself must not be a directory.
func NewFS(path string) (*FS, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve path: %w", err)
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return nil, fmt.Errorf("storage: path is a directory: %s", abs)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}
	return &FS{path: abs, sync: (*os.File).Sync}, nil
}

// Location returns the absolute file path.
func (f *FS) Location() string { return f.path }

// Read returns the raw bytes of the document.
func (f *FS) Read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", f.path, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".treeapp-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := f.sync(tmp); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	f.lastSum = checksum.Sum(content)
	return nil
}

// LastWriteSum returns the checksum of the most recent successful Write, or
// "" before the first one.
func (f *FS) LastWriteSum() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSum
}

// MoveAside renames the document to "<path>.<tag>", appending "-N" when that
// name is taken.
func (f *FS) MoveAside(tag string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	base := f.path + "." + tag
	target := base
	for i := 1; ; i++ {
		_, err := os.Lstat(target)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("storage: stat backup: %w", err)
		}
		target = base + "-" + strconv.Itoa(i)
	}
	if err := os.Rename(f.path, target); err != nil {
		return "", fmt.Errorf("storage: move aside: %w", err)
	}
	return target, nil
}
