package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TombstoneMap tracks paths the client believes are deleted (spec.md §4.9).
// When the watcher observes a new byte-sequence at a tombstoned path, the
// tombstone is cleared and the path is re-queued for upload instead of
// being treated as a stray leftover.
type TombstoneMap struct {
	mu      sync.Mutex
	path    string
	entries map[string]time.Time
}

// LoadTombstoneMap reads the persisted tombstone set from path, or starts
// empty if the file does not exist yet.
func LoadTombstoneMap(path string) (*TombstoneMap, error) {
	tm := &TombstoneMap{path: path, entries: make(map[string]time.Time)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tm, nil
		}

		return nil, fmt.Errorf("watch: reading tombstone map: %w", err)
	}

	if err := json.Unmarshal(data, &tm.entries); err != nil {
		return nil, fmt.Errorf("watch: parsing tombstone map: %w", err)
	}

	return tm, nil
}

// Mark records relPath as deleted and persists the change.
func (tm *TombstoneMap) Mark(relPath string) error {
	tm.mu.Lock()
	tm.entries[relPath] = time.Now().UTC()
	snapshot := tm.snapshotLocked()
	tm.mu.Unlock()

	return tm.save(snapshot)
}

// Clear removes relPath from the tombstone set and persists the change. It
// is a no-op (no write) if relPath was not tombstoned.
func (tm *TombstoneMap) Clear(relPath string) error {
	tm.mu.Lock()

	if _, ok := tm.entries[relPath]; !ok {
		tm.mu.Unlock()
		return nil
	}

	delete(tm.entries, relPath)
	snapshot := tm.snapshotLocked()
	tm.mu.Unlock()

	return tm.save(snapshot)
}

// IsTombstoned reports whether relPath is currently marked deleted.
func (tm *TombstoneMap) IsTombstoned(relPath string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	_, ok := tm.entries[relPath]

	return ok
}

func (tm *TombstoneMap) snapshotLocked() map[string]time.Time {
	out := make(map[string]time.Time, len(tm.entries))
	for k, v := range tm.entries {
		out[k] = v
	}

	return out
}

func (tm *TombstoneMap) save(snapshot map[string]time.Time) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("watch: marshaling tombstone map: %w", err)
	}

	return atomicWriteFile(tm.path, data)
}

// atomicWriteFile writes data to a temp file alongside path, then renames it
// into place, the same temp-file-then-rename idiom onedrive-go's
// internal/config/write.go uses for its own config persistence.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("watch: creating state directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".watch-state-*.tmp")
	if err != nil {
		return fmt.Errorf("watch: creating temp state file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("watch: writing temp state file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("watch: syncing temp state file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("watch: closing temp state file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("watch: renaming temp state file: %w", err)
	}

	succeeded = true

	return nil
}
