// Package storage allocates deterministic on-disk paths for current and
// conflict file versions. Grounded on onedrive-go's internal/config/paths.go
// path-join conventions, generalized from a single platform config
// directory to a per-user/per-date storage tree (spec.md §4.3, §6).
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrStorage wraps filesystem failures from directory allocation.
var ErrStorage = fmt.Errorf("storage: allocation failed")

// Allocator computes and creates on-disk paths under a base directory.
type Allocator struct {
	base string
}

// New returns an Allocator rooted at base.
func New(base string) *Allocator {
	return &Allocator{base: base}
}

// CurrentPath returns base/userId/YYYY/MM/fileId for the current version of
// fileId, creating parent directories on demand.
func (a *Allocator) CurrentPath(userID, fileID string, now time.Time) (string, error) {
	dir := filepath.Join(a.base, userID, now.Format("2006"), now.Format("01"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: mkdir %s: %v", ErrStorage, dir, err)
	}

	return filepath.Join(dir, fileID), nil
}

// ConflictPath returns base/userId/YYYY/MM/conflicts/{fileId}_{clientId}_{epochMillis}
// for a non-current conflict version, creating parent directories on demand.
func (a *Allocator) ConflictPath(userID, fileID, clientID string, now time.Time) (string, error) {
	dir := filepath.Join(a.base, userID, now.Format("2006"), now.Format("01"), "conflicts")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: mkdir %s: %v", ErrStorage, dir, err)
	}

	name := fmt.Sprintf("%s_%s_%d", fileID, clientID, now.UnixMilli())

	return filepath.Join(dir, name), nil
}

// StagingDir returns the per-session staging directory used by the chunk
// upload session manager, creating it on demand.
func (a *Allocator) StagingDir(sessionID string) (string, error) {
	dir := filepath.Join(a.base, ".staging", sessionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: mkdir %s: %v", ErrStorage, dir, err)
	}

	return dir, nil
}

// RemoveStagingDir deletes a session's staging directory and its contents.
func (a *Allocator) RemoveStagingDir(sessionID string) error {
	dir := filepath.Join(a.base, ".staging", sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrStorage, dir, err)
	}

	return nil
}
