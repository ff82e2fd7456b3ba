// Package chunkhash computes the SHA-256 digests used to verify individual
// upload chunks and whole assembled files. It mirrors the shape of
// onedrive-go's pkg/quickxorhash package (a small, dependency-free content
// hash helper consumed by the sync engine) but uses the standard library's
// SHA-256 implementation rather than OneDrive's proprietary QuickXorHash,
// since this spec's checksum field is plain SHA-256 hex (spec.md §3).
package chunkhash

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Sum returns the lowercase hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumReader streams r through SHA-256 and returns the lowercase hex digest.
func SumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether data's SHA-256 digest matches the expected
// lowercase hex checksum. An empty expected checksum always verifies
// (used when the client did not supply one).
func Verify(data []byte, expected string) bool {
	if expected == "" {
		return true
	}

	return Sum(data) == expected
}
