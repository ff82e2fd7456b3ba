package main

import (
	"path/filepath"

	"github.com/tonimelisma/filesync-core/internal/clientconfig"
	"github.com/tonimelisma/filesync-core/internal/watch"
)

// stateDir returns the hidden directory under the sync root where the
// watcher's tombstone map and local version-vector store persist. It lives
// inside the sync root (rather than alongside client.properties) so a
// fresh checkout of the same --config against a different --sync-path
// starts with clean state.
func stateDir(cfg *clientconfig.Config) string {
	return filepath.Join(cfg.SyncPath, ".syncclient-state")
}

func tombstonePath(cfg *clientconfig.Config) string {
	return filepath.Join(stateDir(cfg), "tombstones.json")
}

func vectorStorePath(cfg *clientconfig.Config) string {
	return filepath.Join(stateDir(cfg), "vectors.json")
}

func loadVectorStore(cfg *clientconfig.Config) (*watch.VectorStore, error) {
	return watch.LoadVectorStore(vectorStorePath(cfg))
}

func loadTombstones(cfg *clientconfig.Config) (*watch.TombstoneMap, error) {
	return watch.LoadTombstoneMap(tombstonePath(cfg))
}
