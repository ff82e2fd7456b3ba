package decision

import (
	"context"

	"github.com/tonimelisma/filesync-core/internal/vector"
	"github.com/tonimelisma/filesync-core/internal/wire"
)

// Outcome enumerates the classification results of spec.md §4.6.
type Outcome string

const (
	Success           Outcome = "SUCCESS"
	Conflict          Outcome = "CONFLICT"
	ClientShouldUpdate Outcome = "CLIENT_SHOULD_UPDATE"
	Error             Outcome = "ERROR"
)

// Result reports the outcome of a sync transaction.
type Result struct {
	Outcome           Outcome
	ConflictVersionID string
	Message           string
}

// SubmitRequest carries everything the decision engine needs to classify
// and, if accepted, persist a sync transaction (spec.md §4.6).
type SubmitRequest struct {
	Username      string
	FilePath      string
	ClientID      string
	ClientVector  vector.Vector
	Checksum      string
	FileSize      int64
	Data          []byte // assembled file bytes; nil for delete requests
}

// Publisher is the subset of the event bus the decision engine needs:
// publishing file-change and conflict notifications to a user's other
// clients (spec.md §4.7). Declared here rather than imported from
// internal/eventbus to keep the decision engine's dependency surface to
// exactly what it uses.
type Publisher interface {
	PublishFileChange(ctx context.Context, username string, event wire.SyncEventDTO) error
	PublishConflict(ctx context.Context, username string, event wire.SyncEventDTO) error
}
