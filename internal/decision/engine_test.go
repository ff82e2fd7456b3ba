package decision

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/storage"
	"github.com/tonimelisma/filesync-core/internal/vector"
	"github.com/tonimelisma/filesync-core/internal/wire"
)

// fakeBus records every published event for assertions.
type fakeBus struct {
	mu        sync.Mutex
	changes   []wire.SyncEventDTO
	conflicts []wire.SyncEventDTO
}

func (b *fakeBus) PublishFileChange(_ context.Context, _ string, event wire.SyncEventDTO) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, event)

	return nil
}

func (b *fakeBus) PublishConflict(_ context.Context, _ string, event wire.SyncEventDTO) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conflicts = append(b.conflicts, event)

	return nil
}

func newTestEngine(t *testing.T) (*Engine, repository.Store, *fakeBus) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := repository.NewSQLiteStore(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	alloc := storage.New(t.TempDir())
	bus := &fakeBus{}

	return New(store, alloc, bus, logger), store, bus
}

func createTestUser(t *testing.T, store repository.Store, username string) *repository.User {
	t.Helper()

	u := &repository.User{
		UserID: uuid.New().String(), Username: username, Email: username + "@example.com",
		PasswordHash: "x", StorageQuota: 1 << 30, AccountStatus: "ACTIVE",
	}
	require.NoError(t, store.CreateUser(context.Background(), u))

	return u
}

func TestSubmitCreatesNewFile(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	createTestUser(t, store, "alice")

	res, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "client-A",
		ClientVector: vector.New().Increment("client-A"), Checksum: "deadbeef", FileSize: 5, Data: []byte("hello"),
	})
	require.NoError(t, err)
	require.Equal(t, Success, res.Outcome)
	require.Len(t, bus.changes, 1)
	require.Equal(t, wire.EventCreate, bus.changes[0].EventType)
}

func TestSubmitSequentialEditAccepted(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	createTestUser(t, store, "alice")

	v1 := vector.New().Increment("client-A")
	_, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "client-A",
		ClientVector: v1, Checksum: "c1", FileSize: 5, Data: []byte("hello"),
	})
	require.NoError(t, err)

	v2 := v1.Increment("client-A")
	res, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "client-A",
		ClientVector: v2, Checksum: "c2", FileSize: 6, Data: []byte("hello!"),
	})
	require.NoError(t, err)
	require.Equal(t, Success, res.Outcome)

	file, err := store.FindFileByPath(ctx, mustUser(t, store, "alice").UserID, "/docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, "c2", file.Checksum)
}

// TestSubmitConcurrentEditConflict reproduces spec.md §8 scenario 3: client A
// submits {A:2}; client B, unaware of A's second edit, submits {A:1,B:1}.
// The second submission to arrive is concurrent with the stored vector and
// must be recorded as a conflict, with the resulting currentVersionVector
// dominating both submitted client vectors.
func TestSubmitConcurrentEditConflict(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	user := createTestUser(t, store, "alice")

	vA1 := vector.New().Increment("A")
	_, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "A",
		ClientVector: vA1, Checksum: "cA1", FileSize: 1, Data: []byte("a"),
	})
	require.NoError(t, err)

	vA2 := vA1.Increment("A") // {A:2}
	_, err = e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "A",
		ClientVector: vA2, Checksum: "cA2", FileSize: 1, Data: []byte("b"),
	})
	require.NoError(t, err)

	vB := vA1.Increment("B") // {A:1,B:1} — derived from the version A had already superseded
	res, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "B",
		ClientVector: vB, Checksum: "cB", FileSize: 1, Data: []byte("c"),
	})
	require.NoError(t, err)
	require.Equal(t, Conflict, res.Outcome)
	require.NotEmpty(t, res.ConflictVersionID)
	require.Len(t, bus.conflicts, 1)

	file, err := store.FindFileByPath(ctx, user.UserID, "/docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, repository.ConflictState, file.ConflictStatus)

	merged, err := decodeVector(file.CurrentVersionVector)
	require.NoError(t, err)
	require.True(t, merged.Dominates(vA2))
	require.True(t, merged.Dominates(vB))

	conflictVersion, err := store.GetVersion(ctx, res.ConflictVersionID)
	require.NoError(t, err)
	require.False(t, conflictVersion.IsCurrentVersion)
	require.Equal(t, "cB", conflictVersion.Checksum)
}

func TestSubmitClientShouldUpdateWhenServerDominates(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	createTestUser(t, store, "alice")

	v1 := vector.New().Increment("A")
	_, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "A",
		ClientVector: v1, Checksum: "c1", FileSize: 1, Data: []byte("a"),
	})
	require.NoError(t, err)

	// Stale client resubmits the vector it already had before the server's
	// version advanced past it (server dominates the resubmitted vector).
	staleVector := vector.New()
	res, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "A",
		ClientVector: staleVector, Checksum: "stale", FileSize: 1, Data: []byte("x"),
	})
	require.NoError(t, err)
	require.Equal(t, ClientShouldUpdate, res.Outcome)
}

func TestSubmitNoOpWhenVectorsEqual(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	createTestUser(t, store, "alice")

	v1 := vector.New().Increment("A")
	_, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "A",
		ClientVector: v1, Checksum: "c1", FileSize: 1, Data: []byte("a"),
	})
	require.NoError(t, err)

	bus.mu.Lock()
	before := len(bus.changes)
	bus.mu.Unlock()

	res, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "A",
		ClientVector: v1, Checksum: "c1", FileSize: 1, Data: []byte("a"),
	})
	require.NoError(t, err)
	require.Equal(t, Success, res.Outcome)

	bus.mu.Lock()
	after := len(bus.changes)
	bus.mu.Unlock()
	require.Equal(t, before, after, "no-op resubmission must not publish a redundant event")
}

func TestSubmitDeleteThenRecreateClearsTombstone(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	user := createTestUser(t, store, "alice")

	v1 := vector.New().Increment("A")
	_, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "A",
		ClientVector: v1, Checksum: "c1", FileSize: 1, Data: []byte("a"),
	})
	require.NoError(t, err)

	v2 := v1.Increment("A")
	delRes, err := e.SubmitDelete(ctx, "alice", "/docs/a.txt", "A", v2)
	require.NoError(t, err)
	require.Equal(t, Success, delRes.Outcome)

	file, err := store.FindFileByPath(ctx, user.UserID, "/docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, repository.SyncDeleted, file.SyncStatus)

	// Recreating at the same path after a tombstone must succeed as a new
	// file rather than being misclassified as a stale update.
	v3 := vector.New().Increment("A")
	res, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "A",
		ClientVector: v3, Checksum: "c3", FileSize: 3, Data: []byte("new"),
	})
	require.NoError(t, err)
	require.Equal(t, Success, res.Outcome)

	file, err = store.FindFileByPath(ctx, user.UserID, "/docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, repository.SyncSynced, file.SyncStatus)
	require.Equal(t, "c3", file.Checksum)
}

// TestSubmitSerializesConcurrentConflictingSubmissions exercises spec.md §8's
// per-file serializability invariant: N clients race to submit concurrent
// edits against the same base version; exactly one resulting
// currentVersionVector must dominate every submitted client vector, and no
// submission may be silently lost or double-applied.
func TestSubmitSerializesConcurrentConflictingSubmissions(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	user := createTestUser(t, store, "alice")

	base := vector.New().Increment("seed")
	_, err := e.Submit(ctx, SubmitRequest{
		Username: "alice", FilePath: "/docs/a.txt", ClientID: "seed",
		ClientVector: base, Checksum: "base", FileSize: 1, Data: []byte("x"),
	})
	require.NoError(t, err)

	const n = 8

	clientVectors := make([]vector.Vector, n)

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		clientID := uuid.New().String()
		clientVectors[i] = base.Increment(clientID)

		wg.Add(1)

		go func(cv vector.Vector, clientID string, idx int) {
			defer wg.Done()

			_, err := e.Submit(ctx, SubmitRequest{
				Username: "alice", FilePath: "/docs/a.txt", ClientID: clientID,
				ClientVector: cv, Checksum: uuid.New().String(), FileSize: 1, Data: []byte{byte(idx)},
			})
			require.NoError(t, err)
		}(clientVectors[i], clientID, i)
	}

	wg.Wait()

	file, err := store.FindFileByPath(ctx, user.UserID, "/docs/a.txt")
	require.NoError(t, err)

	final, err := decodeVector(file.CurrentVersionVector)
	require.NoError(t, err)

	for _, cv := range clientVectors {
		require.True(t, final.Dominates(cv), "final vector must dominate every submitted client vector")
	}
}

func mustUser(t *testing.T, store repository.Store, username string) *repository.User {
	t.Helper()

	u, err := store.FindUserByUsername(context.Background(), username)
	require.NoError(t, err)

	return u
}
