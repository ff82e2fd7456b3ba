package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filesync-core/internal/watch"
)

func TestWsURLFromServerURL(t *testing.T) {
	require.Equal(t, "ws://localhost:8080/ws", wsURLFromServerURL("http://localhost:8080"))
	require.Equal(t, "wss://sync.example.com/ws", wsURLFromServerURL("https://sync.example.com"))
	require.Equal(t, "ws://localhost:8080/ws", wsURLFromServerURL("http://localhost:8080/"))
}

func TestSeenPaths(t *testing.T) {
	s := newSeenPaths()
	now := time.Unix(1_700_000_000, 0)

	require.False(t, s.Seen("a.txt", now))

	s.Observe("a.txt", now)
	require.True(t, s.Seen("a.txt", now))
	require.False(t, s.Seen("a.txt", now.Add(time.Second)))
	require.False(t, s.Seen("b.txt", now))
}

func TestEnqueueAllLocalFiles(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "gone.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".syncclient-state"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".syncclient-state", "tombstones.json"), []byte("{}"), 0o644))

	tombstones, err := watch.LoadTombstoneMap(filepath.Join(t.TempDir(), "tombstones.json"))
	require.NoError(t, err)
	require.NoError(t, tombstones.Mark("gone.txt"))

	queue := watch.NewUploadQueue(watch.DefaultQueueCapacity, nil)

	count, err := enqueueAllLocalFiles(root, tombstones, queue)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	seen := map[string]bool{}
	for {
		intent, ok := queue.Dequeue(nil)
		if !ok {
			break
		}
		seen[intent.Path] = true
		queue.Complete(intent.Path)
		if len(seen) == count {
			break
		}
	}

	require.True(t, seen["keep.txt"])
	require.True(t, seen[filepath.ToSlash(filepath.Join("sub", "nested.txt"))])
	require.False(t, seen["gone.txt"])
	require.False(t, seen[".syncclient-state/tombstones.json"])
}
