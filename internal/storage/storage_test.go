package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCurrentPathLayout(t *testing.T) {
	base := t.TempDir()
	a := New(base)

	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	p, err := a.CurrentPath("user-1", "file-1", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "user-1", "2026", "03", "file-1"), p)

	info, err := os.Stat(filepath.Dir(p))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestConflictPathLayout(t *testing.T) {
	base := t.TempDir()
	a := New(base)

	now := time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC)

	p, err := a.ConflictPath("user-1", "file-1", "client-A", now)
	require.NoError(t, err)
	require.Contains(t, p, filepath.Join("user-1", "2026", "03", "conflicts"))
	require.Contains(t, filepath.Base(p), "file-1_client-A_")
}

func TestStagingDirRoundTrip(t *testing.T) {
	base := t.TempDir()
	a := New(base)

	dir, err := a.StagingDir("session-1")
	require.NoError(t, err)

	_, err = os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, a.RemoveStagingDir("session-1"))

	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}
