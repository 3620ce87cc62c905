// Package store persists the engine's advisory caches. Everything here is
// best-effort: a missing or malformed file is treated as "no cache" and the
// engine re-fetches from the network.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Files persists cache snapshots under a session directory.
type Files struct {
	// writeMu serializes read-modify-write cycles on shared files.
	writeMu sync.Mutex

	dir string
}

// NewFiles creates a file store rooted at dir, creating it if needed.
func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Files{dir: dir}, nil
}

// Dir returns the root directory of the file store.
func (f *Files) Dir() string {
	return f.dir
}

func (f *Files) path(name string) string {
	return filepath.Join(f.dir, name)
}

// writeAtomic writes data to name via a temp file and rename, so a crash
// mid-write never leaves a truncated cache file behind.
func (f *Files) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path(name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
