// Package wire defines the snake_case JSON DTOs exchanged between server
// and client over HTTP and over the pub/sub frame protocol.
package wire

import "time"

// VersionVectorDTO is the JSON shape of a version vector.
type VersionVectorDTO struct {
	Vectors   map[string]int64 `json:"vectors"`
	Timestamp string           `json:"timestamp,omitempty"`
}

// FileDTO describes a synced file as returned by GET /files/.
type FileDTO struct {
	FileID         string           `json:"file_id"`
	UserID         string           `json:"user_id"`
	FilePath       string           `json:"file_path"`
	FileName       string           `json:"file_name"`
	FileSize       int64            `json:"file_size"`
	Checksum       string           `json:"checksum"`
	VersionVector  VersionVectorDTO `json:"version_vector"`
	SyncStatus     string           `json:"sync_status"`
	ConflictStatus string           `json:"conflict_status"`
	CreatedAt      time.Time        `json:"created_at"`
	ModifiedAt     time.Time        `json:"modified_at"`
}

// FileVersionDTO describes one row of version history.
type FileVersionDTO struct {
	VersionID       string           `json:"version_id"`
	FileID          string           `json:"file_id"`
	VersionNumber   int              `json:"version_number"`
	Checksum        string           `json:"checksum"`
	FileSize        int64            `json:"file_size"`
	VersionVector   VersionVectorDTO `json:"version_vector"`
	CreatedByClient string           `json:"created_by_client"`
	IsCurrentVersion bool            `json:"is_current_version"`
	CreatedAt       time.Time        `json:"created_at"`
}

// SyncEventDTO is the JSON payload carried by SyncEvent frames and the
// syncEventsSince REST query.
type SyncEventDTO struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	FileID     string    `json:"file_id,omitempty"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	ClientID   string    `json:"client_id"`
	SyncStatus string    `json:"sync_status"`
	FilePath   string    `json:"file_path"`
	Checksum   string    `json:"checksum,omitempty"`
	FileSize   int64     `json:"file_size,omitempty"`

	// Content carries the inline conflict-marker-seeded merge candidate for
	// small text conflicts; empty for binary or large files.
	Content string `json:"content,omitempty"`

	// ConflictVersionID is set on CONFLICT events.
	ConflictVersionID string `json:"conflict_version_id,omitempty"`
}

// Event type and sync status enumerations (spec.md §3).
const (
	EventCreate        = "CREATE"
	EventModify         = "MODIFY"
	EventDelete         = "DELETE"
	EventConflict       = "CONFLICT"
	EventHeartbeat      = "HEARTBEAT"
	EventHeartbeatAck   = "HEARTBEAT_ACK"

	SyncStatusPending   = "PENDING"
	SyncStatusCompleted = "COMPLETED"
	SyncStatusFailed    = "FAILED"

	FileSyncPending = "PENDING"
	FileSyncSynced  = "SYNCED"
	FileSyncDeleted = "DELETED"
	FileSyncError   = "ERROR"

	ConflictNone      = "NONE"
	ConflictPresent   = "CONFLICT"
)

// ChunkUploadSessionDTO is returned by initiate/chunk/status endpoints.
type ChunkUploadSessionDTO struct {
	SessionID      string     `json:"session_id"`
	FileID         string     `json:"file_id"`
	FilePath       string     `json:"file_path"`
	TotalChunks    int        `json:"total_chunks"`
	ReceivedChunks int        `json:"received_chunks"`
	TotalFileSize  int64      `json:"total_file_size"`
	ReceivedSize   int64      `json:"received_size"`
	Progress       float64    `json:"progress"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// ChunkUploadRequestDTO is the POST body of /files/upload/chunk.
type ChunkUploadRequestDTO struct {
	SessionID      string `json:"session_id"`
	ChunkIndex     int    `json:"chunk_index"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkChecksum  string `json:"chunk_checksum,omitempty"`
	IsLastChunk    bool   `json:"is_last_chunk"`
	Content        string `json:"content"` // base64-encoded chunk bytes
}

// InitiateChunkedUploadRequestDTO is the POST body of
// /files/upload/initiate-chunked.
type InitiateChunkedUploadRequestDTO struct {
	FileID          string           `json:"file_id,omitempty"`
	FilePath        string           `json:"file_path"`
	TotalChunks     int              `json:"total_chunks"`
	TotalFileSize   int64            `json:"total_file_size"`
	ClientID        string           `json:"client_id"`
	VersionVector   VersionVectorDTO `json:"version_vector"`
}

// TokenResponseDTO is returned by /auth/login and /auth/refresh.
type TokenResponseDTO struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// FileMetadataDTO is returned by /files/{fileId}/metadata.
type FileMetadataDTO struct {
	FileID                string `json:"file_id"`
	FileName              string `json:"file_name"`
	FileSize              int64  `json:"file_size"`
	Checksum              string `json:"checksum"`
	SupportsRangeRequests bool   `json:"supports_range_requests"`
}

// SyncSubmitRequestDTO is the JSON shape of a sync submission. No handler
// decodes it: PUT /files/{fileId} takes multipart form fields.
type SyncSubmitRequestDTO struct {
	FilePath      string           `json:"file_path"`
	Checksum      string           `json:"checksum"`
	FileSize      int64            `json:"file_size"`
	ClientID      string           `json:"client_id"`
	VersionVector VersionVectorDTO `json:"version_vector"`
}

// SyncResultDTO reports the outcome of a sync transaction.
type SyncResultDTO struct {
	Result             string `json:"result"` // SUCCESS | CONFLICT | CLIENT_SHOULD_UPDATE | ERROR
	ConflictVersionID  string `json:"conflict_version_id,omitempty"`
	Message            string `json:"message,omitempty"`
}
