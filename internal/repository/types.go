package repository

import "time"

// User mirrors spec.md §3's User entity.
type User struct {
	UserID        string
	Username      string
	Email         string
	PasswordHash  string
	StorageQuota  int64
	UsedStorage   int64
	AccountStatus string
}

// Sync status and conflict status enumerations (spec.md §3).
const (
	SyncPending = "PENDING"
	SyncSynced  = "SYNCED"
	SyncDeleted = "DELETED"
	SyncError   = "ERROR"

	ConflictNone  = "NONE"
	ConflictState = "CONFLICT"
)

// File mirrors spec.md §3's File entity. CurrentVersionVector is stored as
// its JSON wire form; callers decode it via internal/vector.
type File struct {
	FileID                string
	UserID                string
	FilePath              string
	FileName              string
	FileSize              int64
	Checksum              string
	CurrentVersionVector  string // JSON-encoded vector.Vector
	SyncStatus            string
	ConflictStatus        string
	CreatedAt             time.Time
	ModifiedAt            time.Time
}

// FileVersion mirrors spec.md §3's FileVersion entity.
type FileVersion struct {
	VersionID        string
	FileID           string
	VersionNumber    int
	Checksum         string
	StoragePath      string
	FileSize         int64
	VersionVector    string // JSON-encoded vector.Vector
	CreatedByClient  string
	IsCurrentVersion bool
	CreatedAt        time.Time
}

// Sync event type enumeration (spec.md §3).
const (
	EventCreate      = "CREATE"
	EventModify      = "MODIFY"
	EventDelete      = "DELETE"
	EventConflict    = "CONFLICT"
	EventHeartbeat   = "HEARTBEAT"
	EventHeartbeatAck = "HEARTBEAT_ACK"
)

// SyncEvent mirrors spec.md §3's SyncEvent entity.
type SyncEvent struct {
	EventID    string
	UserID     string
	FileID     string
	EventType  string
	Timestamp  time.Time
	ClientID   string
	SyncStatus string
	FilePath   string
	Checksum   string
	FileSize   int64
}

// Chunk upload session status enumeration (spec.md §3/§4.4).
const (
	SessionInProgress = "IN_PROGRESS"
	SessionCompleted  = "COMPLETED"
	SessionFailed     = "FAILED"
	SessionExpired    = "EXPIRED"
)

// UploadSession mirrors spec.md §3's ChunkUploadSession entity. Bitset is a
// packed byte slice, one bit per chunk index (see internal/uploadsession).
type UploadSession struct {
	SessionID      string
	UserID         string
	FileID         string
	FilePath       string
	ClientID       string
	TotalChunks    int
	Bitset         []byte
	ReceivedCount  int
	TotalFileSize  int64
	ReceivedSize   int64
	Status         string
	VersionVector  string // JSON-encoded vector.Vector supplied at initiation
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ExpiresAt      time.Time
	ErrorMessage   string
}
