// Package decision implements the Sync Decision Engine (spec.md §4.6): the
// new/update/conflict/no-op classification tree that is the heart of the
// causal-consistency engine. Grounded on onedrive-go's two-phase
// planner/executor shape (internal/sync/planner.go decides with no I/O,
// internal/sync/executor.go applies transactionally) — here collapsed into
// one engine because, unlike the teacher's whole-tree delta reconciliation,
// a single sync submission only ever concerns one file and runs under that
// file's lock for its whole lifetime.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/storage"
	"github.com/tonimelisma/filesync-core/internal/vector"
	"github.com/tonimelisma/filesync-core/internal/wire"
)

// ServerClientID is the reserved pseudo-client id used only during conflict
// resolution to force a strict successor vector (spec.md §4.6).
const ServerClientID = "server"

// ErrUserNotFound is returned when the submitting username does not resolve
// to a known user.
var ErrUserNotFound = errors.New("decision: user not found")

// ErrBusy is returned when the per-file lock could not be acquired in time.
var ErrBusy = errors.New("decision: busy")

// lockTimeout bounds how long Submit waits for the per-file lock before
// surfacing ERROR("busy"), per spec.md §5.
const lockTimeout = 5 * time.Second

// Engine is the composition root for sync transaction classification and
// persistence.
type Engine struct {
	store     repository.Store
	allocator *storage.Allocator
	bus       Publisher
	locks     *stripedLocks
	logger    *slog.Logger
}

// New constructs an Engine.
func New(store repository.Store, allocator *storage.Allocator, bus Publisher, logger *slog.Logger) *Engine {
	return &Engine{store: store, allocator: allocator, bus: bus, locks: newStripedLocks(), logger: logger}
}

// Submit classifies and, if accepted, persists a sync transaction for an
// uploaded/modified file (spec.md §4.6 Path A / Path B). It acquires the
// per-file lock for the duration of the decision and persistence.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	user, err := e.store.FindUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &Result{Outcome: Error, Message: "user not found"}, ErrUserNotFound
		}

		return nil, fmt.Errorf("resolve user: %w", err)
	}

	unlock, ok := e.tryLock(ctx, user.UserID, req.FilePath)
	if !ok {
		return &Result{Outcome: Error, Message: "busy"}, ErrBusy
	}
	defer unlock()

	existing, err := e.store.FindFileByPath(ctx, user.UserID, req.FilePath)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find file: %w", err)
	}

	if existing == nil || existing.SyncStatus == repository.SyncDeleted {
		return e.createNew(ctx, user.UserID, req.Username, existing, req)
	}

	return e.classifyUpdate(ctx, user.UserID, req.Username, existing, req)
}

// SubmitDelete runs the same classification tree for a deletion request
// (spec.md §4.6 "Delete"): on accept, the File is tombstoned rather than
// assigned new bytes, and a DELETE event is emitted instead of MODIFY.
func (e *Engine) SubmitDelete(ctx context.Context, username, filePath, clientID string, clientVector vector.Vector) (*Result, error) {
	user, err := e.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &Result{Outcome: Error, Message: "user not found"}, ErrUserNotFound
		}

		return nil, fmt.Errorf("resolve user: %w", err)
	}

	unlock, ok := e.tryLock(ctx, user.UserID, filePath)
	if !ok {
		return &Result{Outcome: Error, Message: "busy"}, ErrBusy
	}
	defer unlock()

	existing, err := e.store.FindFileByPath(ctx, user.UserID, filePath)
	if errors.Is(err, repository.ErrNotFound) || (existing != nil && existing.SyncStatus == repository.SyncDeleted) {
		return &Result{Outcome: Success}, nil // already gone; idempotent
	}

	if err != nil {
		return nil, fmt.Errorf("find file: %w", err)
	}

	sv, err := decodeVector(existing.CurrentVersionVector)
	if err != nil {
		return nil, err
	}

	switch {
	case clientVector.Concurrent(sv):
		return e.recordConflict(ctx, user.UserID, username, existing, sv, clientVector, clientID, nil, existing.Checksum, existing.FileSize)

	case clientVector.Equal(sv):
		return &Result{Outcome: Success}, nil

	case clientVector.Dominates(sv):
		existing.SyncStatus = repository.SyncDeleted
		existing.ModifiedAt = time.Now().UTC()

		vvJSON, err := clientVector.MarshalJSON()
		if err != nil {
			return nil, err
		}

		existing.CurrentVersionVector = string(vvJSON)

		if err := e.store.SaveFile(ctx, existing); err != nil {
			return nil, fmt.Errorf("tombstone file: %w", err)
		}

		event := wire.SyncEventDTO{
			EventID: uuid.New().String(), UserID: user.UserID, FileID: existing.FileID,
			EventType: wire.EventDelete, Timestamp: time.Now().UTC(), ClientID: clientID,
			SyncStatus: wire.SyncStatusCompleted, FilePath: filePath,
		}

		if err := e.store.AppendSyncEvent(ctx, toRepoEvent(event)); err != nil {
			return nil, fmt.Errorf("append delete event: %w", err)
		}

		e.publish(ctx, username, event)

		return &Result{Outcome: Success}, nil

	case sv.Dominates(clientVector):
		return &Result{Outcome: ClientShouldUpdate}, nil

	default:
		return &Result{Outcome: Success}, nil
	}
}

// tryLock acquires the per-file stripe with a bound on how long it waits.
// The channel is buffered so that, on timeout, the background goroutine can
// still deliver the unlock func once the stripe becomes available without
// leaking a goroutine — and a watcher releases it immediately, since the
// caller that timed out will never use it.
func (e *Engine) tryLock(ctx context.Context, userID, filePath string) (func(), bool) {
	done := make(chan func(), 1)

	go func() {
		done <- e.locks.Lock(userID, filePath)
	}()

	select {
	case unlock := <-done:
		return unlock, true
	case <-time.After(lockTimeout):
		go func() { (<-done)() }()
		return nil, false
	case <-ctx.Done():
		go func() { (<-done)() }()
		return nil, false
	}
}

// createNew inserts a brand-new file, or — when existing is the tombstoned
// row SubmitRequest's path used to belong to — reuses its file_id instead of
// minting a fresh one. sqlUpsertFile's ON CONFLICT target is file_id alone,
// so a fresh uuid here would collide with the tombstoned row's surviving
// UNIQUE(user_id, file_path) constraint rather than clear it; reusing the
// id routes the insert through the same upsert path acceptUpdate uses.
func (e *Engine) createNew(ctx context.Context, userID, username string, existing *repository.File, req SubmitRequest) (*Result, error) {
	now := time.Now().UTC()

	fileID := uuid.New().String()
	if existing != nil {
		fileID = existing.FileID
	}

	vv := vector.New().Increment(req.ClientID)

	storagePath, err := e.writeBytes(userID, fileID, req.Data, now)
	if err != nil {
		return nil, err
	}

	vvJSON, err := vv.MarshalJSON()
	if err != nil {
		return nil, err
	}

	file := &repository.File{
		FileID: fileID, UserID: userID, FilePath: req.FilePath, FileName: baseName(req.FilePath),
		FileSize: req.FileSize, Checksum: req.Checksum, CurrentVersionVector: string(vvJSON),
		SyncStatus: repository.SyncSynced, ConflictStatus: repository.ConflictNone,
		CreatedAt: now, ModifiedAt: now,
	}
	if err := e.store.SaveFile(ctx, file); err != nil {
		return nil, fmt.Errorf("save new file: %w", err)
	}

	if err := e.store.MarkAllVersionsNonCurrent(ctx, fileID); err != nil {
		return nil, fmt.Errorf("mark versions non-current: %w", err)
	}

	maxV, err := e.store.MaxVersionNumber(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("max version number: %w", err)
	}

	version := &repository.FileVersion{
		VersionID: uuid.New().String(), FileID: fileID, VersionNumber: maxV + 1, Checksum: req.Checksum,
		StoragePath: storagePath, FileSize: req.FileSize, VersionVector: string(vvJSON),
		CreatedByClient: req.ClientID, IsCurrentVersion: true, CreatedAt: now,
	}
	if err := e.store.SaveVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("save version: %w", err)
	}

	createEvent := wire.SyncEventDTO{
		EventID: uuid.New().String(), UserID: userID, FileID: fileID, EventType: wire.EventCreate,
		Timestamp: now, ClientID: req.ClientID, SyncStatus: wire.SyncStatusCompleted,
		FilePath: req.FilePath, Checksum: req.Checksum, FileSize: req.FileSize,
	}
	if err := e.store.AppendSyncEvent(ctx, toRepoEvent(createEvent)); err != nil {
		return nil, fmt.Errorf("append create event: %w", err)
	}

	e.publish(ctx, username, createEvent)

	return &Result{Outcome: Success}, nil
}

func (e *Engine) classifyUpdate(ctx context.Context, userID, username string, file *repository.File, req SubmitRequest) (*Result, error) {
	sv, err := decodeVector(file.CurrentVersionVector)
	if err != nil {
		return nil, err
	}

	switch {
	case req.ClientVector.Concurrent(sv):
		return e.recordConflict(ctx, userID, username, file, sv, req.ClientVector, req.ClientID, req.Data, req.Checksum, req.FileSize)

	case req.ClientVector.Equal(sv):
		return &Result{Outcome: Success}, nil

	case req.ClientVector.Dominates(sv):
		return e.acceptUpdate(ctx, userID, username, file, req)

	case sv.Dominates(req.ClientVector):
		return &Result{Outcome: ClientShouldUpdate}, nil

	default:
		return &Result{Outcome: Success}, nil
	}
}

func (e *Engine) acceptUpdate(ctx context.Context, userID, username string, file *repository.File, req SubmitRequest) (*Result, error) {
	now := time.Now().UTC()

	storagePath, err := e.writeBytes(userID, file.FileID, req.Data, now)
	if err != nil {
		return nil, err
	}

	vvJSON, err := req.ClientVector.MarshalJSON()
	if err != nil {
		return nil, err
	}

	if err := e.store.MarkAllVersionsNonCurrent(ctx, file.FileID); err != nil {
		return nil, fmt.Errorf("mark versions non-current: %w", err)
	}

	maxV, err := e.store.MaxVersionNumber(ctx, file.FileID)
	if err != nil {
		return nil, fmt.Errorf("max version number: %w", err)
	}

	version := &repository.FileVersion{
		VersionID: uuid.New().String(), FileID: file.FileID, VersionNumber: maxV + 1,
		Checksum: req.Checksum, StoragePath: storagePath, FileSize: req.FileSize,
		VersionVector: string(vvJSON), CreatedByClient: req.ClientID, IsCurrentVersion: true, CreatedAt: now,
	}
	if err := e.store.SaveVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("save version: %w", err)
	}

	file.FileSize = req.FileSize
	file.Checksum = req.Checksum
	file.CurrentVersionVector = string(vvJSON)
	file.SyncStatus = repository.SyncSynced
	file.ConflictStatus = repository.ConflictNone
	file.ModifiedAt = now

	if err := e.store.SaveFile(ctx, file); err != nil {
		return nil, fmt.Errorf("save updated file: %w", err)
	}

	modifyEvent := wire.SyncEventDTO{
		EventID: uuid.New().String(), UserID: userID, FileID: file.FileID, EventType: wire.EventModify,
		Timestamp: now, ClientID: req.ClientID, SyncStatus: wire.SyncStatusCompleted,
		FilePath: file.FilePath, Checksum: req.Checksum, FileSize: req.FileSize,
	}
	if err := e.store.AppendSyncEvent(ctx, toRepoEvent(modifyEvent)); err != nil {
		return nil, fmt.Errorf("append modify event: %w", err)
	}

	e.publish(ctx, username, modifyEvent)

	return &Result{Outcome: Success}, nil
}

// recordConflict implements the CONFLICT branch shared by Submit and
// SubmitDelete: write a non-current version at the conflict path, merge
// vectors with a "server" tie-break increment, and notify both clients.
func (e *Engine) recordConflict(ctx context.Context, userID, username string, file *repository.File, sv, clientVector vector.Vector,
	clientID string, data []byte, checksum string, fileSize int64,
) (*Result, error) {
	now := time.Now().UTC()

	conflictPath, err := e.allocator.ConflictPath(userID, file.FileID, clientID, now)
	if err != nil {
		return nil, err
	}

	if data != nil {
		if err := os.WriteFile(conflictPath, data, 0o640); err != nil {
			return nil, fmt.Errorf("write conflict version: %w", err)
		}
	}

	merged := sv.Merge(clientVector).Increment(ServerClientID)

	mergedJSON, err := merged.MarshalJSON()
	if err != nil {
		return nil, err
	}

	versionID := uuid.New().String()

	maxV, err := e.store.MaxVersionNumber(ctx, file.FileID)
	if err != nil {
		return nil, fmt.Errorf("max version number: %w", err)
	}

	cvJSON, err := clientVector.MarshalJSON()
	if err != nil {
		return nil, err
	}

	version := &repository.FileVersion{
		VersionID: versionID, FileID: file.FileID, VersionNumber: maxV + 1, Checksum: checksum,
		StoragePath: conflictPath, FileSize: fileSize, VersionVector: string(cvJSON),
		CreatedByClient: clientID, IsCurrentVersion: false, CreatedAt: now,
	}
	if err := e.store.SaveVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("save conflict version: %w", err)
	}

	file.CurrentVersionVector = string(mergedJSON)
	file.ConflictStatus = repository.ConflictState
	file.ModifiedAt = now

	if err := e.store.SaveFile(ctx, file); err != nil {
		return nil, fmt.Errorf("save file with conflict: %w", err)
	}

	modifyEvent := wire.SyncEventDTO{
		EventID: uuid.New().String(), UserID: userID, FileID: file.FileID, EventType: wire.EventModify,
		Timestamp: now, ClientID: clientID, SyncStatus: wire.SyncStatusCompleted,
		FilePath: file.FilePath, Checksum: checksum, FileSize: fileSize,
	}
	if err := e.store.AppendSyncEvent(ctx, toRepoEvent(modifyEvent)); err != nil {
		return nil, fmt.Errorf("append modify event: %w", err)
	}

	conflictEvent := wire.SyncEventDTO{
		EventID: uuid.New().String(), UserID: userID, FileID: file.FileID, EventType: wire.EventConflict,
		Timestamp: now, ClientID: clientID, SyncStatus: wire.SyncStatusCompleted,
		FilePath: file.FilePath, Checksum: checksum, FileSize: fileSize, ConflictVersionID: versionID,
	}
	if err := e.store.AppendSyncEvent(ctx, toRepoEvent(conflictEvent)); err != nil {
		return nil, fmt.Errorf("append conflict event: %w", err)
	}

	e.publish(ctx, username, conflictEvent)

	return &Result{Outcome: Conflict, ConflictVersionID: versionID}, nil
}

func (e *Engine) writeBytes(userID, fileID string, data []byte, now time.Time) (string, error) {
	path, err := e.allocator.CurrentPath(userID, fileID, now)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write file bytes: %w", err)
	}

	return path, nil
}

func (e *Engine) publish(ctx context.Context, username string, event wire.SyncEventDTO) {
	if e.bus == nil {
		return
	}

	var err error
	if event.EventType == wire.EventConflict {
		err = e.bus.PublishConflict(ctx, username, event)
	} else {
		err = e.bus.PublishFileChange(ctx, username, event)
	}

	if err != nil {
		e.logger.Warn("event publish failed", "username", username, "event_type", event.EventType, "error", err)
	}
}

func decodeVector(data string) (vector.Vector, error) {
	var v vector.Vector
	if data == "" {
		return v, nil
	}

	if err := v.UnmarshalJSON([]byte(data)); err != nil {
		return v, fmt.Errorf("decode version vector: %w", err)
	}

	return v, nil
}

func toRepoEvent(e wire.SyncEventDTO) *repository.SyncEvent {
	return &repository.SyncEvent{
		EventID: e.EventID, UserID: e.UserID, FileID: e.FileID, EventType: e.EventType,
		Timestamp: e.Timestamp, ClientID: e.ClientID, SyncStatus: e.SyncStatus,
		FilePath: e.FilePath, Checksum: e.Checksum, FileSize: e.FileSize,
	}
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}

	return path
}
