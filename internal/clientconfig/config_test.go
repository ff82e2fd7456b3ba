package clientconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "client.properties"))
	require.NoError(t, err)

	require.Equal(t, DefaultServerURL, cfg.ServerURL)
	require.Equal(t, DefaultSyncPath, cfg.SyncPath)
	require.Equal(t, DefaultSyncInterval, cfg.SyncInterval)
	require.Empty(t, cfg.ClientID)
	require.Empty(t, cfg.AuthToken)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "client.properties")

	want := &Config{
		ServerURL:    "https://sync.example.com/api",
		SyncPath:     "/home/alice/sync",
		ClientID:     "11111111-2222-3333-4444-555555555555",
		Username:     "alice",
		AuthToken:    "access-token-xyz",
		RefreshToken: "refresh-token-abc",
		SyncInterval: 30,
	}

	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadIgnoresCommentsAndBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.properties")
	contents := "# generated file\n\n! also a comment\nserver.url=http://example.com/api\n\nsync.interval=45\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "http://example.com/api", cfg.ServerURL)
	require.Equal(t, 45, cfg.SyncInterval)
	require.Equal(t, DefaultSyncPath, cfg.SyncPath)
}

func TestLoadInvalidSyncIntervalFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.properties")
	require.NoError(t, os.WriteFile(path, []byte("sync.interval=not-a-number\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultSyncInterval, cfg.SyncInterval)
}

func TestSaveIsAtomicNoPartialFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.properties")

	require.NoError(t, Save(path, Default()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "client.properties", entries[0].Name())
}
