package watch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTombstoneMarkClearRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tombstones.json")

	tm, err := LoadTombstoneMap(path)
	require.NoError(t, err)
	require.False(t, tm.IsTombstoned("docs/a.txt"))

	require.NoError(t, tm.Mark("docs/a.txt"))
	require.True(t, tm.IsTombstoned("docs/a.txt"))

	reloaded, err := LoadTombstoneMap(path)
	require.NoError(t, err)
	require.True(t, reloaded.IsTombstoned("docs/a.txt"))

	require.NoError(t, tm.Clear("docs/a.txt"))
	require.False(t, tm.IsTombstoned("docs/a.txt"))

	reloaded, err = LoadTombstoneMap(path)
	require.NoError(t, err)
	require.False(t, reloaded.IsTombstoned("docs/a.txt"))
}

func TestLoadTombstoneMapMissingFileStartsEmpty(t *testing.T) {
	tm, err := LoadTombstoneMap(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.False(t, tm.IsTombstoned("anything"))
}
