package server

import (
	"encoding/json"
	"fmt"

	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/vector"
	"github.com/tonimelisma/filesync-core/internal/wire"
)

// decodeVectorDTO converts a wire.VersionVectorDTO into an internal
// vector.Vector by round-tripping through vector's own JSON shape, since
// VersionVectorDTO and vector's wireVector share the same {"vectors":...}
// field layout.
func decodeVectorDTO(dto wire.VersionVectorDTO) (vector.Vector, error) {
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

// encodeVectorDTO converts a JSON-encoded stored vector (repository.File's
// CurrentVersionVector / repository.FileVersion's VersionVector) into a
// wire.VersionVectorDTO for API responses.
func encodeVectorDTO(stored string) (wire.VersionVectorDTO, error) {
	var dto wire.VersionVectorDTO

	if stored == "" {
		return dto, nil
	}

	if err := json.Unmarshal([]byte(stored), &dto); err != nil {
		return dto, fmt.Errorf("decode stored version vector: %w", err)
	}

	return dto, nil
}

func fileToDTO(f *repository.File) (wire.FileDTO, error) {
	vv, err := encodeVectorDTO(f.CurrentVersionVector)
	if err != nil {
		return wire.FileDTO{}, err
	}

	return wire.FileDTO{
		FileID: f.FileID, UserID: f.UserID, FilePath: f.FilePath, FileName: f.FileName,
		FileSize: f.FileSize, Checksum: f.Checksum, VersionVector: vv,
		SyncStatus: f.SyncStatus, ConflictStatus: f.ConflictStatus,
		CreatedAt: f.CreatedAt, ModifiedAt: f.ModifiedAt,
	}, nil
}

func versionToDTO(v *repository.FileVersion) (wire.FileVersionDTO, error) {
	vv, err := encodeVectorDTO(v.VersionVector)
	if err != nil {
		return wire.FileVersionDTO{}, err
	}

	return wire.FileVersionDTO{
		VersionID: v.VersionID, FileID: v.FileID, VersionNumber: v.VersionNumber,
		Checksum: v.Checksum, FileSize: v.FileSize, VersionVector: vv,
		CreatedByClient: v.CreatedByClient, IsCurrentVersion: v.IsCurrentVersion, CreatedAt: v.CreatedAt,
	}, nil
}

func sessionToDTO(s *repository.UploadSession) wire.ChunkUploadSessionDTO {
	progress := 0.0
	if s.TotalChunks > 0 {
		progress = float64(s.ReceivedCount) / float64(s.TotalChunks)
	}

	return wire.ChunkUploadSessionDTO{
		SessionID: s.SessionID, FileID: s.FileID, FilePath: s.FilePath,
		TotalChunks: s.TotalChunks, ReceivedChunks: s.ReceivedCount,
		TotalFileSize: s.TotalFileSize, ReceivedSize: s.ReceivedSize, Progress: progress,
		Status: s.Status, CreatedAt: s.CreatedAt, CompletedAt: s.CompletedAt,
		ExpiresAt: s.ExpiresAt, ErrorMessage: s.ErrorMessage,
	}
}
