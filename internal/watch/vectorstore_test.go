package watch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filesync-core/internal/vector"
)

func TestVectorStoreIncrementPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.json")

	vs, err := LoadVectorStore(path)
	require.NoError(t, err)
	require.Equal(t, int64(0), vs.Get("docs/a.txt").Get("client-1"))

	v, err := vs.Increment("docs/a.txt", "client-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), v.Get("client-1"))

	v, err = vs.Increment("docs/a.txt", "client-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), v.Get("client-1"))

	reloaded, err := LoadVectorStore(path)
	require.NoError(t, err)
	require.Equal(t, int64(2), reloaded.Get("docs/a.txt").Get("client-1"))
}

func TestVectorStoreAdoptAndForget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.json")

	vs, err := LoadVectorStore(path)
	require.NoError(t, err)

	server := vector.New().Increment("client-1").Increment("client-2")
	require.NoError(t, vs.Adopt("docs/a.txt", server))
	require.True(t, vs.Get("docs/a.txt").Equal(server))

	reloaded, err := LoadVectorStore(path)
	require.NoError(t, err)
	require.True(t, reloaded.Get("docs/a.txt").Equal(server))

	require.NoError(t, vs.Forget("docs/a.txt"))
	require.True(t, vs.Get("docs/a.txt").Equal(vector.New()))

	reloaded, err = LoadVectorStore(path)
	require.NoError(t, err)
	require.True(t, reloaded.Get("docs/a.txt").Equal(vector.New()))
}

func TestLoadVectorStoreMissingFileStartsEmpty(t *testing.T) {
	vs, err := LoadVectorStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.True(t, vs.Get("anything").Equal(vector.New()))
}
