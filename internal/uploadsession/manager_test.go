package uploadsession

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filesync-core/internal/chunk"
	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/storage"
	"github.com/tonimelisma/filesync-core/internal/vector"
	"github.com/tonimelisma/filesync-core/pkg/chunkhash"
)

func newTestManager(t *testing.T, onComplete CompletionHandler) (*Manager, repository.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := repository.NewSQLiteStore(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	alloc := storage.New(t.TempDir())

	return New(store, alloc, logger, onComplete), store
}

func TestReceiveChunkIdempotentRetry(t *testing.T) {
	var completions int

	m, _ := newTestManager(t, func(ctx context.Context, userID, fileID, filePath, clientID string, data []byte, checksum string, vv vector.Vector) error {
		completions++
		return nil
	})

	ctx := context.Background()
	userID, fileID := uuid.NewString(), uuid.NewString()

	data := make([]byte, chunk.ChunkThreshold+1024)
	for i := range data {
		data[i] = byte(i)
	}

	chunks := chunk.Split(data)

	sess, err := m.Initiate(ctx, userID, fileID, "big.bin", "client-A", len(chunks), int64(len(data)), vector.New().Increment("client-A"))
	require.NoError(t, err)

	for _, c := range chunks {
		_, err := m.ReceiveChunk(ctx, userID, sess.SessionID, c.ChunkIndex, c.ChunkData, c.ChunkChecksum)
		require.NoError(t, err)
	}

	require.Equal(t, 1, completions)

	// Idempotent retry of an already-received chunk: session is COMPLETED and
	// deleted-staging, but retrying chunk 0 should not re-trigger completion
	// or error once the manager has already completed the session; exercise
	// retry mid-flight instead, before completion.
	m2, _ := newTestManager(t, func(ctx context.Context, userID, fileID, filePath, clientID string, data []byte, checksum string, vv vector.Vector) error {
		return nil
	})

	sess2, err := m2.Initiate(ctx, userID, fileID, "big.bin", "client-A", len(chunks), int64(len(data)), vector.New().Increment("client-A"))
	require.NoError(t, err)

	_, err = m2.ReceiveChunk(ctx, userID, sess2.SessionID, 0, chunks[0].ChunkData, chunks[0].ChunkChecksum)
	require.NoError(t, err)

	before, err := m2.GetStatus(ctx, userID, sess2.SessionID)
	require.NoError(t, err)

	// Duplicate receipt of chunk 0: no-op, identical state.
	after, err := m2.ReceiveChunk(ctx, userID, sess2.SessionID, 0, chunks[0].ChunkData, chunks[0].ChunkChecksum)
	require.NoError(t, err)
	require.Equal(t, before.ReceivedCount, after.ReceivedCount)
	require.Equal(t, before.ReceivedSize, after.ReceivedSize)
}

func TestReceiveChunkChecksumMismatch(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	userID, fileID := uuid.NewString(), uuid.NewString()

	sess, err := m.Initiate(ctx, userID, fileID, "f.bin", "A", 2, 20, vector.New())
	require.NoError(t, err)

	_, err = m.ReceiveChunk(ctx, userID, sess.SessionID, 0, []byte("0123456789"), "wrong-checksum")
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestReceiveChunkOutOfRange(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	userID, fileID := uuid.NewString(), uuid.NewString()

	sess, err := m.Initiate(ctx, userID, fileID, "f.bin", "A", 2, 20, vector.New())
	require.NoError(t, err)

	_, err = m.ReceiveChunk(ctx, userID, sess.SessionID, 5, []byte("data"), chunkhash.Sum([]byte("data")))
	require.ErrorIs(t, err, ErrValidation)
}

func TestInitiateReusesExistingActiveSession(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	userID, fileID := uuid.NewString(), uuid.NewString()

	s1, err := m.Initiate(ctx, userID, fileID, "f.bin", "A", 2, 20, vector.New())
	require.NoError(t, err)

	s2, err := m.Initiate(ctx, userID, fileID, "f.bin", "A", 2, 20, vector.New())
	require.NoError(t, err)

	require.Equal(t, s1.SessionID, s2.SessionID)
}

func TestInitiateEnforcesActiveSessionCap(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.maxActivePerUser = 1

	ctx := context.Background()
	userID := uuid.NewString()

	_, err := m.Initiate(ctx, userID, uuid.NewString(), "a.bin", "A", 2, 20, vector.New())
	require.NoError(t, err)

	_, err = m.Initiate(ctx, userID, uuid.NewString(), "b.bin", "A", 2, 20, vector.New())
	require.ErrorIs(t, err, ErrTooManyActive)
}

func TestCancelTransitionsToFailed(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	userID, fileID := uuid.NewString(), uuid.NewString()

	sess, err := m.Initiate(ctx, userID, fileID, "f.bin", "A", 2, 20, vector.New())
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, userID, sess.SessionID))

	got, err := m.GetStatus(ctx, userID, sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, repository.SessionFailed, got.Status)
}

func TestSweepExpiredMarksExpired(t *testing.T) {
	m, store := newTestManager(t, nil)
	m.ttl = -time.Hour // sessions created "now" are immediately in the past

	ctx := context.Background()
	userID, fileID := uuid.NewString(), uuid.NewString()

	sess, err := m.Initiate(ctx, userID, fileID, "f.bin", "A", 2, 20, vector.New())
	require.NoError(t, err)

	require.NoError(t, m.SweepExpired(ctx, time.Now().UTC()))

	got, err := store.GetUploadSession(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, repository.SessionExpired, got.Status)
}
