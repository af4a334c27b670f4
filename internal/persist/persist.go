// Package persist provides atomic JSON snapshot read/write for
// Centinela's counts-data file. Writes go to a temporary file
// in the same directory and are moved into place with os.Rename, so a
// reader never observes a partially-written file.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/patternseek/centinela/internal/store"
)

// Load reads and decodes the counts snapshot at path. A missing file
// returns an empty snapshot and no error. A malformed file returns an
// empty snapshot and a non-nil error so the caller can log a warning and
// continue rather than treat it as fatal.
func Load(path string) (store.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store.Snapshot{}, nil
		}
		return store.Snapshot{}, fmt.Errorf("persist: cannot read %q: %w", path, err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("persist: malformed snapshot %q: %w", path, err)
	}
	return snap, nil
}

// Save atomically rewrites the counts-data file at path with snap: it
// writes to a sibling temp file, then renames over path, so an in-flight
// reader (or a crash) never observes a half-written document.
func Save(path string, snap store.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persist: encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".centinela-data-*.json.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: rename into place: %w", err)
	}
	return nil
}
