package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

// mockFsWatcher implements FsWatcher with injectable channels, mirroring
// onedrive-go's own observer_local_handlers_test.go mock.
type mockFsWatcher struct {
	events   chan fsnotify.Event
	errs     chan error
	closeOne stdsync.Once
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{events: make(chan fsnotify.Event, 10), errs: make(chan error, 10)}
}

func (m *mockFsWatcher) Add(string) error              { return nil }
func (m *mockFsWatcher) Remove(string) error           { return nil }
func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }

func (m *mockFsWatcher) Close() error {
	m.closeOne.Do(func() { close(m.events); close(m.errs) })
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWatcher(t *testing.T, root string) (*Watcher, *mockFsWatcher) {
	t.Helper()

	tombstones, err := LoadTombstoneMap(filepath.Join(root, ".filesync-tombstones.json"))
	require.NoError(t, err)

	queue := NewUploadQueue(DefaultQueueCapacity, nil)

	w := New(root, "client-A", tombstones, queue, testLogger())
	w.debounce = 20 * time.Millisecond

	mock := newMockFsWatcher()
	w.watcherFactory = func() (FsWatcher, error) { return mock, nil }

	return w, mock
}

func TestWatchCreateIsDebouncedIntoSingleIntent(t *testing.T) {
	root := t.TempDir()
	w, mock := newTestWatcher(t, root)

	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Fire several rapid Create+Write events for the same path; they must
	// coalesce into a single queued intent (spec.md §4.9 debounce).
	mock.events <- fsnotify.Event{Name: path, Op: fsnotify.Create}
	mock.events <- fsnotify.Event{Name: path, Op: fsnotify.Write}
	mock.events <- fsnotify.Event{Name: path, Op: fsnotify.Write}

	stop := make(chan struct{})

	intentCh := make(chan UploadIntent, 1)

	go func() {
		intent, ok := w.queue.Dequeue(stop)
		if ok {
			intentCh <- intent
		}
	}()

	select {
	case intent := <-intentCh:
		require.Equal(t, "a.txt", intent.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced intent")
	}

	cancel()
	<-done
}

func TestWatchRemoveMarksTombstone(t *testing.T) {
	root := t.TempDir()
	w, mock := newTestWatcher(t, root)

	path := filepath.Join(root, "gone.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	mock.events <- fsnotify.Event{Name: path, Op: fsnotify.Remove}

	require.Eventually(t, func() bool {
		return w.tombstones.IsTombstoned("gone.txt")
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestWatchRecreateClearsTombstone(t *testing.T) {
	root := t.TempDir()
	w, mock := newTestWatcher(t, root)

	path := filepath.Join(root, "reborn.txt")
	require.NoError(t, w.tombstones.Mark("reborn.txt"))
	require.NoError(t, os.WriteFile(path, []byte("back"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	mock.events <- fsnotify.Event{Name: path, Op: fsnotify.Create}

	require.Eventually(t, func() bool {
		return !w.tombstones.IsTombstoned("reborn.txt")
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestImportExternalFileCopiesContent(t *testing.T) {
	root := t.TempDir()
	w, _ := newTestWatcher(t, root)

	src := filepath.Join(t.TempDir(), "external.txt")
	require.NoError(t, os.WriteFile(src, []byte("from outside"), 0o644))

	require.NoError(t, w.ImportExternalFile(src, "imported/external.txt"))

	data, err := os.ReadFile(filepath.Join(root, "imported", "external.txt"))
	require.NoError(t, err)
	require.Equal(t, "from outside", string(data))
}

func TestIsIgnoredPath(t *testing.T) {
	require.True(t, isIgnoredPath(".hidden"))
	require.True(t, isIgnoredPath("dir/.hidden"))
	require.True(t, isIgnoredPath("a.txt.tmp"))
	require.True(t, isIgnoredPath("~lock.docx"))
	require.False(t, isIgnoredPath("docs/notes.txt"))
}
