// Package uploadsession implements the chunk upload session state machine
// (spec.md §4.4): idempotent chunk receipt, assembly on completion, and
// periodic expiry sweeping. Grounded on onedrive-go's internal/driveops
// session persistence shape (session.go/session_store.go) and the
// transfer-resume bookkeeping in internal/sync/transfer_manager.go,
// generalized from a single-upload resume token to a full multi-chunk
// session with a receipt bitset.
package uploadsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/filesync-core/internal/chunk"
	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/storage"
	"github.com/tonimelisma/filesync-core/internal/vector"
	"github.com/tonimelisma/filesync-core/pkg/chunkhash"
)

// Default policy constants (spec.md §4.4, §5).
const (
	DefaultTTL              = 24 * time.Hour
	DefaultCompletedRetention = 24 * time.Hour
	DefaultMaxActivePerUser  = 10
)

// Sentinel errors for the taxonomy in spec.md §7.
var (
	ErrValidation      = errors.New("uploadsession: validation error")
	ErrNotFound        = errors.New("uploadsession: not found")
	ErrExpired         = errors.New("uploadsession: session expired")
	ErrIntegrity       = errors.New("uploadsession: integrity error")
	ErrTooManyActive   = errors.New("uploadsession: too many active sessions for user")
)

// CompletionHandler is invoked once all chunks of a session have been
// received and assembled successfully. It hands the assembled bytes to the
// sync decision engine (C6) along with the version vector supplied at
// initiation. Implementations must be safe to call from ReceiveChunk.
type CompletionHandler func(ctx context.Context, userID, fileID, filePath, clientID string,
	data []byte, checksum string, vv vector.Vector) error

// Manager implements the session state machine described in spec.md §4.4.
type Manager struct {
	store     repository.Store
	allocator *storage.Allocator
	logger    *slog.Logger

	ttl               time.Duration
	completedRetention time.Duration
	maxActivePerUser  int

	onComplete CompletionHandler
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithTTL overrides the default 24h session TTL.
func WithTTL(d time.Duration) Option { return func(m *Manager) { m.ttl = d } }

// WithMaxActivePerUser overrides the default per-user concurrent session cap.
func WithMaxActivePerUser(n int) Option { return func(m *Manager) { m.maxActivePerUser = n } }

// New constructs a Manager. onComplete is called synchronously from
// ReceiveChunk when the final chunk completes assembly.
func New(store repository.Store, allocator *storage.Allocator, logger *slog.Logger, onComplete CompletionHandler, opts ...Option) *Manager {
	m := &Manager{
		store: store, allocator: allocator, logger: logger, onComplete: onComplete,
		ttl: DefaultTTL, completedRetention: DefaultCompletedRetention, maxActivePerUser: DefaultMaxActivePerUser,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func bitsetSize(totalChunks int) int {
	return (totalChunks + 7) / 8
}

func bitGet(bitset []byte, i int) bool {
	return bitset[i/8]&(1<<(uint(i)%8)) != 0
}

func bitSet(bitset []byte, i int) {
	bitset[i/8] |= 1 << (uint(i) % 8)
}

func popcount(bitset []byte) int {
	n := 0
	for _, b := range bitset {
		n += bits.OnesCount8(b)
	}

	return n
}

// Initiate validates parameters and either reuses an existing IN_PROGRESS
// session for (userID, fileID) or creates a new one, enforcing the per-user
// active-session cap (spec.md §4.4).
func (m *Manager) Initiate(ctx context.Context, userID, fileID, filePath, clientID string,
	totalChunks int, totalFileSize int64, vv vector.Vector,
) (*repository.UploadSession, error) {
	if totalChunks < 1 {
		return nil, fmt.Errorf("%w: total_chunks must be >= 1", ErrValidation)
	}

	if totalFileSize <= 0 {
		return nil, fmt.Errorf("%w: total_file_size must be > 0", ErrValidation)
	}

	if existing, err := m.store.FindActiveSessionForFile(ctx, userID, fileID); err == nil {
		m.logger.Info("reusing existing upload session", "session_id", existing.SessionID, "file_id", fileID)
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find active session: %w", err)
	}

	active, err := m.store.CountActiveSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count active sessions: %w", err)
	}

	if active >= m.maxActivePerUser {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyActive, m.maxActivePerUser)
	}

	now := time.Now().UTC()

	vvJSON, err := vv.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal version vector: %w", err)
	}

	sess := &repository.UploadSession{
		SessionID: uuid.New().String(), UserID: userID, FileID: fileID, FilePath: filePath,
		ClientID: clientID, TotalChunks: totalChunks, Bitset: make([]byte, bitsetSize(totalChunks)),
		TotalFileSize: totalFileSize, Status: repository.SessionInProgress, VersionVector: string(vvJSON),
		CreatedAt: now, ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.SaveUploadSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if _, err := m.allocator.StagingDir(sess.SessionID); err != nil {
		return nil, err
	}

	m.logger.Info("upload session initiated", "session_id", sess.SessionID, "total_chunks", totalChunks)

	return sess, nil
}

// ReceiveChunk checks the session is IN_PROGRESS and unexpired, verifies the
// chunk index range, and — unless this chunk was already received, in which
// case it is a no-op success — persists the chunk to staging, verifies its
// checksum, marks the bit, and updates progress. When the final chunk
// arrives, the staged chunks are assembled and checked against the declared
// total size, the whole-file checksum is computed and passed to the
// completion handler, and the session is promoted to COMPLETED.
func (m *Manager) ReceiveChunk(ctx context.Context, userID, sessionID string, chunkIndex int, data []byte, clientChecksum string) (*repository.UploadSession, error) {
	sess, err := m.store.GetUploadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}

		return nil, err
	}

	if sess.UserID != userID {
		return nil, fmt.Errorf("%w: session %s does not belong to user", ErrValidation, sessionID)
	}

	if sess.Status != repository.SessionInProgress {
		return nil, fmt.Errorf("%w: session %s is %s, not IN_PROGRESS", ErrValidation, sessionID, sess.Status)
	}

	now := time.Now().UTC()
	if now.After(sess.ExpiresAt) {
		sess.Status = repository.SessionExpired
		_ = m.store.SaveUploadSession(ctx, sess)

		return nil, fmt.Errorf("%w: session %s", ErrExpired, sessionID)
	}

	if chunkIndex < 0 || chunkIndex >= sess.TotalChunks {
		return nil, fmt.Errorf("%w: chunk_index %d out of range [0,%d)", ErrValidation, chunkIndex, sess.TotalChunks)
	}

	if bitGet(sess.Bitset, chunkIndex) {
		m.logger.Debug("duplicate chunk receipt, idempotent no-op", "session_id", sessionID, "chunk_index", chunkIndex)
		return sess, nil
	}

	if !chunkhash.Verify(data, clientChecksum) {
		return nil, fmt.Errorf("%w: chunk %d checksum mismatch", ErrIntegrity, chunkIndex)
	}

	stagingDir, err := m.allocator.StagingDir(sessionID)
	if err != nil {
		return nil, err
	}

	chunkPath := filepath.Join(stagingDir, fmt.Sprintf("%d", chunkIndex))
	if err := os.WriteFile(chunkPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("write chunk to staging: %w", err)
	}

	bitSet(sess.Bitset, chunkIndex)
	sess.ReceivedCount = popcount(sess.Bitset)
	sess.ReceivedSize += int64(len(data))

	if sess.ReceivedCount == sess.TotalChunks {
		if err := m.complete(ctx, sess, stagingDir); err != nil {
			sess.Status = repository.SessionFailed
			sess.ErrorMessage = err.Error()
			_ = m.store.SaveUploadSession(ctx, sess)
			_ = m.allocator.RemoveStagingDir(sessionID)

			return nil, err
		}
	}

	if err := m.store.SaveUploadSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session progress: %w", err)
	}

	return sess, nil
}

func (m *Manager) complete(ctx context.Context, sess *repository.UploadSession, stagingDir string) error {
	chunks := make([]chunk.Chunk, sess.TotalChunks)

	for i := 0; i < sess.TotalChunks; i++ {
		data, err := os.ReadFile(filepath.Join(stagingDir, fmt.Sprintf("%d", i)))
		if err != nil {
			return fmt.Errorf("%w: read staged chunk %d: %v", ErrIntegrity, i, err)
		}

		chunks[i] = chunk.Chunk{
			ChunkIndex: i, ChunkSize: len(data), ChunkData: data,
			ChunkChecksum: chunkhash.Sum(data), IsLastChunk: i == sess.TotalChunks-1, TotalChunks: sess.TotalChunks,
		}
	}

	assembled, err := chunk.Assemble(chunks, sess.TotalFileSize)
	if err != nil {
		return err
	}

	checksum := chunkhash.Sum(assembled)

	var vv vector.Vector
	if err := vv.UnmarshalJSON([]byte(sess.VersionVector)); err != nil {
		return fmt.Errorf("unmarshal session version vector: %w", err)
	}

	if m.onComplete != nil {
		if err := m.onComplete(ctx, sess.UserID, sess.FileID, sess.FilePath, sess.ClientID, assembled, checksum, vv); err != nil {
			return fmt.Errorf("sync decision failed: %w", err)
		}
	}

	now := time.Now().UTC()
	sess.Status = repository.SessionCompleted
	sess.CompletedAt = &now

	m.logger.Info("upload session completed", "session_id", sess.SessionID, "checksum", checksum)

	return m.allocator.RemoveStagingDir(sess.SessionID)
}

// GetStatus returns a session snapshot, enforcing ownership.
func (m *Manager) GetStatus(ctx context.Context, userID, sessionID string) (*repository.UploadSession, error) {
	sess, err := m.store.GetUploadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}

		return nil, err
	}

	if sess.UserID != userID {
		return nil, fmt.Errorf("%w: session %s does not belong to user", ErrValidation, sessionID)
	}

	return sess, nil
}

// Cancel transitions an IN_PROGRESS session to FAILED and deletes staging.
func (m *Manager) Cancel(ctx context.Context, userID, sessionID string) error {
	sess, err := m.GetStatus(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	if sess.Status != repository.SessionInProgress {
		return fmt.Errorf("%w: session %s is %s, not IN_PROGRESS", ErrValidation, sessionID, sess.Status)
	}

	sess.Status = repository.SessionFailed
	sess.ErrorMessage = "cancelled by user"

	if err := m.store.SaveUploadSession(ctx, sess); err != nil {
		return fmt.Errorf("save cancelled session: %w", err)
	}

	return m.allocator.RemoveStagingDir(sessionID)
}

// SweepExpired marks expired IN_PROGRESS sessions EXPIRED and deletes
// COMPLETED sessions past the retention window, freeing staging directories
// as it goes. Intended to run every ~60s from a background ticker
// (spec.md §4.4, §5).
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) error {
	expired, err := m.store.ListExpiredSessions(ctx, now.UnixNano())
	if err != nil {
		return fmt.Errorf("list expired sessions: %w", err)
	}

	for _, sess := range expired {
		switch sess.Status {
		case repository.SessionInProgress:
			sess.Status = repository.SessionExpired
			if err := m.store.SaveUploadSession(ctx, sess); err != nil {
				m.logger.Warn("failed to mark session expired", "session_id", sess.SessionID, "error", err)
				continue
			}

			if err := m.allocator.RemoveStagingDir(sess.SessionID); err != nil {
				m.logger.Warn("failed to remove expired staging dir", "session_id", sess.SessionID, "error", err)
			}

			m.logger.Info("upload session expired", "session_id", sess.SessionID)

		case repository.SessionCompleted:
			if err := m.store.DeleteUploadSession(ctx, sess.SessionID); err != nil {
				m.logger.Warn("failed to delete retired session", "session_id", sess.SessionID, "error", err)
			}
		}
	}

	return nil
}
