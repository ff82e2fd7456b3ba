package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tonimelisma/filesync-core/internal/vector"
)

// VectorStore persists each locally-tracked file's own version vector
// across client restarts (spec.md §4.9: "bump local per-file version
// vector (v.increment(clientId))" before every upload). Uses the same
// load/atomic-save idiom as TombstoneMap, since both are small per-path
// JSON state blobs with no query needs beyond point lookup.
type VectorStore struct {
	mu      sync.Mutex
	path    string
	vectors map[string]vector.Vector
}

// LoadVectorStore reads the persisted vector map from path, or starts empty
// if the file does not exist yet.
func LoadVectorStore(path string) (*VectorStore, error) {
	vs := &VectorStore{path: path, vectors: make(map[string]vector.Vector)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return vs, nil
		}

		return nil, fmt.Errorf("watch: reading vector store: %w", err)
	}

	if err := json.Unmarshal(data, &vs.vectors); err != nil {
		return nil, fmt.Errorf("watch: parsing vector store: %w", err)
	}

	return vs, nil
}

// Get returns relPath's current local vector, or a zero Vector if untracked.
func (vs *VectorStore) Get(relPath string) vector.Vector {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	return vs.vectors[relPath]
}

// Increment bumps relPath's vector for clientID, persists the change, and
// returns the new vector to submit with the upload.
func (vs *VectorStore) Increment(relPath, clientID string) (vector.Vector, error) {
	vs.mu.Lock()
	next := vs.vectors[relPath].Increment(clientID)
	vs.vectors[relPath] = next
	snapshot := vs.snapshotLocked()
	vs.mu.Unlock()

	if err := vs.save(snapshot); err != nil {
		return vector.Vector{}, err
	}

	return next, nil
}

// Adopt overwrites relPath's local vector with one supplied by the server
// (e.g. after a CLIENT_SHOULD_UPDATE or merge outcome), persisting the
// change.
func (vs *VectorStore) Adopt(relPath string, v vector.Vector) error {
	vs.mu.Lock()
	vs.vectors[relPath] = v
	snapshot := vs.snapshotLocked()
	vs.mu.Unlock()

	return vs.save(snapshot)
}

// Forget removes relPath's tracked vector, persisting the change. Called
// once a delete is accepted by the server.
func (vs *VectorStore) Forget(relPath string) error {
	vs.mu.Lock()

	if _, ok := vs.vectors[relPath]; !ok {
		vs.mu.Unlock()
		return nil
	}

	delete(vs.vectors, relPath)
	snapshot := vs.snapshotLocked()
	vs.mu.Unlock()

	return vs.save(snapshot)
}

func (vs *VectorStore) snapshotLocked() map[string]vector.Vector {
	out := make(map[string]vector.Vector, len(vs.vectors))
	for k, v := range vs.vectors {
		out[k] = v
	}

	return out
}

func (vs *VectorStore) save(snapshot map[string]vector.Vector) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("watch: marshaling vector store: %w", err)
	}

	return atomicWriteFile(vs.path, data)
}
