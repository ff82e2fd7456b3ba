// Package watch implements the client-side filesystem watcher, debounce,
// tombstone tracking, and bounded upload queue described by spec.md §4.9.
// Grounded on onedrive-go's internal/sync.LocalObserver (same FsWatcher
// seam over fsnotify, same recursive-watch-registration and
// walk-on-create idiom) but simplified: this client does not keep a full
// local baseline to diff against — the server's version vectors are the
// source of truth — so the watcher only classifies raw fsnotify events and
// debounces them into upload intents, instead of hashing against a
// baseline on every event.
package watch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// DefaultDebounce is the coalescing window for rapid-fire events on the same
// path (spec.md §4.9: "≈250 ms").
const DefaultDebounce = 250 * time.Millisecond

// DefaultQueueCapacity bounds the number of pending plus in-flight upload paths.
const DefaultQueueCapacity = 4096

// FsWatcher abstracts filesystem event monitoring so tests can inject a fake
// implementation instead of touching a real filesystem.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

// Watcher monitors a sync root directory and feeds a bounded UploadQueue.
type Watcher struct {
	root       string
	clientID   string
	logger     *slog.Logger
	debounce   time.Duration
	tombstones *TombstoneMap
	queue      *UploadQueue

	watcherFactory func() (FsWatcher, error)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a Watcher rooted at root. tombstones and queue must already be
// constructed (LoadTombstoneMap / NewUploadQueue).
func New(root, clientID string, tombstones *TombstoneMap, queue *UploadQueue, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		root:       root,
		clientID:   clientID,
		logger:     logger,
		debounce:   DefaultDebounce,
		tombstones: tombstones,
		queue:      queue,
		timers:     make(map[string]*time.Timer),
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// Watch blocks, monitoring the sync root until ctx is canceled.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("watch: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addWatchesRecursive(watcher); err != nil {
		return fmt.Errorf("watch: adding initial watches: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			w.handleEvent(watcher, ev)

		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) addWatchesRecursive(watcher FsWatcher) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("walk error during watch setup", slog.String("path", path), slog.String("error", walkErr.Error()))
			return skipDir(d)
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			w.logger.Warn("failed to add watch", slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	})
}

func (w *Watcher) handleEvent(watcher FsWatcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	relPath, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		w.logger.Warn("failed to compute relative path", slog.String("path", ev.Name), slog.String("error", err.Error()))
		return
	}

	relPath = NormalizePath(relPath)
	if isIgnoredPath(relPath) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		w.onCreate(watcher, ev.Name, relPath)
	case ev.Has(fsnotify.Write):
		w.scheduleIntent(relPath, IntentModify)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.onRemove(relPath)
	}
}

func (w *Watcher) onCreate(watcher FsWatcher, fsPath, relPath string) {
	info, err := os.Stat(fsPath)
	if err != nil {
		w.logger.Debug("stat failed for created path", slog.String("path", relPath), slog.String("error", err.Error()))
		return
	}

	if info.IsDir() {
		if err := watcher.Add(fsPath); err != nil {
			w.logger.Warn("failed to add watch on new directory", slog.String("path", relPath), slog.String("error", err.Error()))
		}

		return
	}

	intent := IntentCreate
	if w.tombstones.IsTombstoned(relPath) {
		// Re-upload of a previously-deleted path (spec.md §4.9): clear the
		// tombstone and treat the new bytes as a fresh create.
		if err := w.tombstones.Clear(relPath); err != nil {
			w.logger.Warn("failed to clear tombstone", slog.String("path", relPath), slog.String("error", err.Error()))
		}
	}

	w.scheduleIntent(relPath, intent)
}

func (w *Watcher) onRemove(relPath string) {
	if err := w.tombstones.Mark(relPath); err != nil {
		w.logger.Warn("failed to persist tombstone", slog.String("path", relPath), slog.String("error", err.Error()))
	}

	w.scheduleIntent(relPath, IntentDelete)
}

// scheduleIntent debounces rapid-fire events on the same path into a single
// queued intent after w.debounce has elapsed with no further events.
func (w *Watcher) scheduleIntent(relPath string, intent IntentType) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[relPath]; ok {
		timer.Stop()
	}

	pending := intent

	w.timers[relPath] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, relPath)
		w.mu.Unlock()

		if !w.queue.Enqueue(relPath, pending) {
			w.logger.Warn("upload queue full, dropping intent",
				slog.String("path", relPath), slog.String("intent", pending.String()))
		}
	})
}

// ImportExternalFile copies a file from outside the sync root into it at
// destRelPath. The copy is picked up by the watcher as an ordinary CREATE
// event (spec.md §4.9: "the copy then becomes a normal CREATE").
func (w *Watcher) ImportExternalFile(srcPath, destRelPath string) error {
	destPath := filepath.Join(w.root, filepath.FromSlash(destRelPath))

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("watch: creating destination directory: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("watch: opening external file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("watch: creating destination file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("watch: copying external file: %w", err)
	}

	return dst.Close()
}

// NormalizePath puts a filesystem-derived relative path into the client's
// canonical wire form: forward slashes, NFC-normalized. macOS's HFS+/APFS
// store and report decomposed (NFD) Unicode filenames, so the same name
// typed identically on Linux/Windows and on a Mac watches as two different
// byte sequences unless both ends agree on one normal form.
func NormalizePath(relPath string) string {
	return norm.NFC.String(filepath.ToSlash(relPath))
}

func isIgnoredPath(relPath string) bool {
	base := filepath.Base(relPath)

	switch {
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasSuffix(base, ".tmp"), strings.HasSuffix(base, ".partial"), strings.HasSuffix(base, ".swp"):
		return true
	case strings.HasPrefix(base, "~"):
		return true
	default:
		return false
	}
}

func skipDir(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}
