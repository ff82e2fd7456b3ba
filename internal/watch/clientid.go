package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// DeriveClientID returns the deterministic client id for username (spec.md
// §4.9): SHA-256("filesync_user_" + lower(trim(username))) formatted as a
// UUID-like string, so the same user logging in from any device gets the
// same id.
func DeriveClientID(username string) string {
	normalized := strings.ToLower(strings.TrimSpace(username))
	sum := sha256.Sum256([]byte("filesync_user_" + normalized))

	return formatAsUUID(sum[:16])
}

// NewRandomClientID returns a random client id. The sync CLI does not call
// it; login always stores the DeriveClientID value.
func NewRandomClientID() string {
	return uuid.New().String()
}

// formatAsUUID renders the first 16 bytes of a hash in UUID 8-4-4-4-12
// layout. It is not a real UUIDv4 (no version/variant bits are forced) —
// the spec only requires a UUID-shaped, stable identifier.
func formatAsUUID(b []byte) string {
	h := hex.EncodeToString(b)

	return strings.Join([]string{h[0:8], h[8:12], h[12:16], h[16:20], h[20:32]}, "-")
}
