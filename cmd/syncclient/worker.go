package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/filesync-core/internal/chunk"
	"github.com/tonimelisma/filesync-core/internal/vector"
	"github.com/tonimelisma/filesync-core/internal/watch"
	"github.com/tonimelisma/filesync-core/internal/wire"
)

// uploadWorker turns one dequeued watch.UploadIntent into the server calls
// spec.md §4.9 describes: local vector bump, then direct submission or
// chunking (with per-chunk checksums) and chunked submission.
type uploadWorker struct {
	cc         *CLIContext
	vectors    *watch.VectorStore
	tombstones *watch.TombstoneMap
}

func (w *uploadWorker) process(ctx context.Context, intent watch.UploadIntent) error {
	switch intent.Intent {
	case watch.IntentDelete:
		return w.processDelete(ctx, intent.Path)
	default:
		return w.processUpload(ctx, intent.Path)
	}
}

func (w *uploadWorker) processUpload(ctx context.Context, relPath string) error {
	localPath := filepath.Join(w.cc.Cfg.SyncPath, filepath.FromSlash(relPath))

	data, err := os.ReadFile(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Raced with a subsequent delete; the DELETE intent (if any)
			// will handle the server side.
			return nil
		}

		return fmt.Errorf("reading %s: %w", relPath, err)
	}

	fileID, found, err := w.lookupRemoteFileID(ctx, relPath)
	if err != nil {
		return err
	}

	v, err := w.vectors.Increment(relPath, w.cc.Cfg.ClientID)
	if err != nil {
		return fmt.Errorf("bumping local version vector: %w", err)
	}

	vv := wire.VersionVectorDTO{Vectors: v.Snapshot()}
	fileName := filepath.Base(relPath)

	if int64(len(data)) > chunk.ChunkThreshold {
		return w.uploadChunked(ctx, relPath, fileID, data, vv)
	}

	var result *wire.SyncResultDTO
	if found {
		result, err = w.cc.Client.Update(ctx, fileID, w.cc.Cfg.ClientID, vv, fileName, data)
	} else {
		result, err = w.cc.Client.Upload(ctx, relPath, w.cc.Cfg.ClientID, vv, fileName, data)
	}

	if err != nil {
		return fmt.Errorf("submitting %s: %w", relPath, err)
	}

	return w.handleSyncResult(ctx, relPath, result)
}

func (w *uploadWorker) uploadChunked(ctx context.Context, relPath, fileID string, data []byte, vv wire.VersionVectorDTO) error {
	chunks := chunk.Split(data)

	sess, err := w.cc.Client.InitiateChunkedUpload(ctx, wire.InitiateChunkedUploadRequestDTO{
		FileID:        fileID,
		FilePath:      relPath,
		TotalChunks:   len(chunks),
		TotalFileSize: int64(len(data)),
		ClientID:      w.cc.Cfg.ClientID,
		VersionVector: vv,
	})
	if err != nil {
		return fmt.Errorf("initiating chunked upload for %s: %w", relPath, err)
	}

	for _, c := range chunks {
		sess, err = w.cc.Client.UploadChunk(ctx, wire.ChunkUploadRequestDTO{
			SessionID:     sess.SessionID,
			ChunkIndex:    c.ChunkIndex,
			ChunkSize:     c.ChunkSize,
			ChunkChecksum: c.ChunkChecksum,
			IsLastChunk:   c.IsLastChunk,
			Content:       base64.StdEncoding.EncodeToString(c.ChunkData),
		})
		if err != nil {
			return fmt.Errorf("uploading chunk %d/%d for %s: %w", c.ChunkIndex, len(chunks), relPath, err)
		}
	}

	w.cc.Logger.Info("chunked upload finished", "path", relPath, "status", sess.Status)

	return nil
}

func (w *uploadWorker) processDelete(ctx context.Context, relPath string) error {
	fileID, found, err := w.lookupRemoteFileID(ctx, relPath)
	if err != nil {
		return err
	}

	if !found {
		return w.vectors.Forget(relPath)
	}

	v, err := w.vectors.Increment(relPath, w.cc.Cfg.ClientID)
	if err != nil {
		return fmt.Errorf("bumping local version vector: %w", err)
	}

	result, err := w.cc.Client.Delete(ctx, fileID, w.cc.Cfg.ClientID, wire.VersionVectorDTO{Vectors: v.Snapshot()})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", relPath, err)
	}

	switch result.Result {
	case "SUCCESS":
		return w.vectors.Forget(relPath)

	case "CLIENT_SHOULD_UPDATE":
		// Someone else modified the file after our delete was queued;
		// pull it back down instead of letting the tombstone win.
		if err := w.tombstones.Clear(relPath); err != nil {
			w.cc.Logger.Warn("failed to clear tombstone", "path", relPath, "error", err)
		}

		return adoptRemoteFile(ctx, w.cc, w.vectors, relPath, fileID)

	default:
		w.cc.Logger.Warn("delete did not complete", "path", relPath, "result", result.Result, "message", result.Message)

		return nil
	}
}

func (w *uploadWorker) handleSyncResult(ctx context.Context, relPath string, result *wire.SyncResultDTO) error {
	switch result.Result {
	case "SUCCESS":
		return nil

	case "CLIENT_SHOULD_UPDATE":
		fileID, found, err := w.lookupRemoteFileID(ctx, relPath)
		if err != nil || !found {
			return err
		}

		return adoptRemoteFile(ctx, w.cc, w.vectors, relPath, fileID)

	case "CONFLICT":
		w.cc.Logger.Warn("file entered conflict, run 'syncclient resolve' to fix", "path", relPath)

		return nil

	default:
		return fmt.Errorf("sync rejected for %s: %s", relPath, result.Message)
	}
}

// lookupRemoteFileID resolves relPath to the server's fileId, if the server
// already knows about a (non-deleted) file at that path.
func (w *uploadWorker) lookupRemoteFileID(ctx context.Context, relPath string) (string, bool, error) {
	files, err := w.cc.Client.ListFiles(ctx)
	if err != nil {
		return "", false, fmt.Errorf("listing files: %w", err)
	}

	for _, f := range files {
		if f.FilePath == relPath && f.SyncStatus != wire.FileSyncDeleted {
			return f.FileID, true, nil
		}
	}

	return "", false, nil
}

// adoptRemoteFile overwrites the local copy at relPath with the server's
// current bytes and vector, used whenever the server tells the client its
// local view is stale (CLIENT_SHOULD_UPDATE) or a live push event announces
// another client's change.
func adoptRemoteFile(ctx context.Context, cc *CLIContext, vs *watch.VectorStore, relPath, fileID string) error {
	data, err := cc.Client.Download(ctx, fileID)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", relPath, err)
	}

	localPath := filepath.Join(cc.Cfg.SyncPath, filepath.FromSlash(relPath))

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", relPath, err)
	}

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}

	files, err := cc.Client.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	for _, f := range files {
		if f.FileID == fileID {
			v, err := decodeVectorSnapshot(f.VersionVector)
			if err != nil {
				return err
			}

			return vs.Adopt(relPath, v)
		}
	}

	return nil
}

// decodeVectorSnapshot converts a wire.VersionVectorDTO into a vector.Vector
// by round-tripping through vector's own JSON shape, the same trick the
// server's internal/server/conv.go uses in the other direction.
func decodeVectorSnapshot(dto wire.VersionVectorDTO) (vector.Vector, error) {
	data, err := json.Marshal(dto)
	if err != nil {
		return vector.Vector{}, fmt.Errorf("marshal version vector dto: %w", err)
	}

	var v vector.Vector
	if err := v.UnmarshalJSON(data); err != nil {
		return vector.Vector{}, fmt.Errorf("decode version vector: %w", err)
	}

	return v, nil
}

// remoteApplier reacts to live push events delivered over the session
// transport while the client runs in --watch mode (spec.md §4.11).
type remoteApplier struct {
	cc         *CLIContext
	vectors    *watch.VectorStore
	tombstones *watch.TombstoneMap
}

const remoteApplyTimeout = 30 * time.Second

func (r *remoteApplier) applyChange(event wire.SyncEventDTO) {
	if event.ClientID == r.cc.Cfg.ClientID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteApplyTimeout)
	defer cancel()

	var err error

	switch event.EventType {
	case wire.EventDelete:
		err = r.applyRemoteDelete(event.FilePath)
	default:
		err = adoptRemoteFile(ctx, r.cc, r.vectors, event.FilePath, event.FileID)
	}

	if err != nil {
		r.cc.Logger.Warn("failed to apply remote change", "path", event.FilePath, "event", event.EventType, "error", err)
	}
}

func (r *remoteApplier) applyRemoteDelete(relPath string) error {
	localPath := filepath.Join(r.cc.Cfg.SyncPath, filepath.FromSlash(relPath))

	if err := r.tombstones.Mark(relPath); err != nil {
		r.cc.Logger.Warn("failed to persist tombstone for remote delete", "path", relPath, "error", err)
	}

	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", relPath, err)
	}

	return r.vectors.Forget(relPath)
}

func (r *remoteApplier) applyConflict(event wire.SyncEventDTO) {
	r.cc.Logger.Warn("conflict detected, run 'syncclient resolve' to fix", "path", event.FilePath, "file_id", event.FileID)
}
