package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlFindFileByPath = `SELECT file_id, user_id, file_path, file_name, file_size, checksum,
		current_version_vector, sync_status, conflict_status, created_at, modified_at
		FROM files WHERE user_id = ? AND file_path = ?`

	sqlFindFileByID = `SELECT file_id, user_id, file_path, file_name, file_size, checksum,
		current_version_vector, sync_status, conflict_status, created_at, modified_at
		FROM files WHERE user_id = ? AND file_id = ?`

	sqlListFiles = `SELECT file_id, user_id, file_path, file_name, file_size, checksum,
		current_version_vector, sync_status, conflict_status, created_at, modified_at
		FROM files WHERE user_id = ? ORDER BY file_path`

	sqlUpsertFile = `INSERT INTO files
		(file_id, user_id, file_path, file_name, file_size, checksum,
		 current_version_vector, sync_status, conflict_status, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
		 file_path = excluded.file_path,
		 file_name = excluded.file_name,
		 file_size = excluded.file_size,
		 checksum = excluded.checksum,
		 current_version_vector = excluded.current_version_vector,
		 sync_status = excluded.sync_status,
		 conflict_status = excluded.conflict_status,
		 modified_at = excluded.modified_at`

	sqlInsertVersion = `INSERT INTO file_versions
		(version_id, file_id, version_number, checksum, storage_path, file_size,
		 version_vector, created_by_client, is_current_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlMarkAllNonCurrent = `UPDATE file_versions SET is_current_version = 0 WHERE file_id = ?`

	sqlMaxVersionNumber = `SELECT COALESCE(MAX(version_number), 0) FROM file_versions WHERE file_id = ?`

	sqlListVersions = `SELECT version_id, file_id, version_number, checksum, storage_path, file_size,
		version_vector, created_by_client, is_current_version, created_at
		FROM file_versions WHERE file_id = ? ORDER BY version_number`

	sqlGetVersion = `SELECT version_id, file_id, version_number, checksum, storage_path, file_size,
		version_vector, created_by_client, is_current_version, created_at
		FROM file_versions WHERE version_id = ?`

	sqlCurrentVersion = `SELECT version_id, file_id, version_number, checksum, storage_path, file_size,
		version_vector, created_by_client, is_current_version, created_at
		FROM file_versions WHERE file_id = ? AND is_current_version = 1`

	sqlInsertSyncEvent = `INSERT INTO sync_events
		(event_id, user_id, file_id, event_type, timestamp, client_id, sync_status, file_path, checksum, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSyncEventsSince = `SELECT event_id, user_id, file_id, event_type, timestamp, client_id, sync_status,
		file_path, checksum, file_size
		FROM sync_events WHERE user_id = ? AND timestamp >= ? ORDER BY timestamp ASC`
)

const timeLayout = time.RFC3339Nano

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	var f File

	var created, modified string

	err := row.Scan(&f.FileID, &f.UserID, &f.FilePath, &f.FileName, &f.FileSize, &f.Checksum,
		&f.CurrentVersionVector, &f.SyncStatus, &f.ConflictStatus, &created, &modified)
	if err != nil {
		return nil, err
	}

	f.CreatedAt, _ = time.Parse(timeLayout, created)
	f.ModifiedAt, _ = time.Parse(timeLayout, modified)

	return &f, nil
}

// FindFileByPath returns ErrNotFound if no file exists at that path.
func (s *SQLiteStore) FindFileByPath(ctx context.Context, userID, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx, sqlFindFileByPath, userID, path)

	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("find file by path: %w", err)
	}

	return f, nil
}

// FindFileByID returns ErrNotFound if no such file exists for the user.
func (s *SQLiteStore) FindFileByID(ctx context.Context, userID, fileID string) (*File, error) {
	row := s.db.QueryRowContext(ctx, sqlFindFileByID, userID, fileID)

	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("find file by id: %w", err)
	}

	return f, nil
}

// ListFiles returns all files owned by userID, ordered by path.
func (s *SQLiteStore) ListFiles(ctx context.Context, userID string) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, sqlListFiles, userID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*File

	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}

		out = append(out, f)
	}

	return out, rows.Err()
}

// SaveFile upserts a file row (insert-or-update by file_id).
func (s *SQLiteStore) SaveFile(ctx context.Context, f *File) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertFile,
		f.FileID, f.UserID, f.FilePath, f.FileName, f.FileSize, f.Checksum,
		f.CurrentVersionVector, f.SyncStatus, f.ConflictStatus,
		f.CreatedAt.Format(timeLayout), f.ModifiedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save file: %w", err)
	}

	return nil
}

func scanVersion(row interface{ Scan(...any) error }) (*FileVersion, error) {
	var v FileVersion

	var created string

	var isCurrent int

	err := row.Scan(&v.VersionID, &v.FileID, &v.VersionNumber, &v.Checksum, &v.StoragePath, &v.FileSize,
		&v.VersionVector, &v.CreatedByClient, &isCurrent, &created)
	if err != nil {
		return nil, err
	}

	v.IsCurrentVersion = isCurrent != 0
	v.CreatedAt, _ = time.Parse(timeLayout, created)

	return &v, nil
}

// SaveVersion appends a new FileVersion row. Versions are append-only.
func (s *SQLiteStore) SaveVersion(ctx context.Context, v *FileVersion) error {
	isCurrent := 0
	if v.IsCurrentVersion {
		isCurrent = 1
	}

	_, err := s.db.ExecContext(ctx, sqlInsertVersion,
		v.VersionID, v.FileID, v.VersionNumber, v.Checksum, v.StoragePath, v.FileSize,
		v.VersionVector, v.CreatedByClient, isCurrent, v.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save version: %w", err)
	}

	return nil
}

// MarkAllVersionsNonCurrent clears is_current_version for every version of
// fileID, so the caller can then insert exactly one new current version.
func (s *SQLiteStore) MarkAllVersionsNonCurrent(ctx context.Context, fileID string) error {
	if _, err := s.db.ExecContext(ctx, sqlMarkAllNonCurrent, fileID); err != nil {
		return fmt.Errorf("mark versions non-current: %w", err)
	}

	return nil
}

// MaxVersionNumber returns the highest version_number recorded for fileID,
// or 0 if none exist yet.
func (s *SQLiteStore) MaxVersionNumber(ctx context.Context, fileID string) (int, error) {
	var maxV int

	err := s.db.QueryRowContext(ctx, sqlMaxVersionNumber, fileID).Scan(&maxV)
	if err != nil {
		return 0, fmt.Errorf("max version number: %w", err)
	}

	return maxV, nil
}

// ListVersions returns all versions of fileID in ascending version-number order.
func (s *SQLiteStore) ListVersions(ctx context.Context, fileID string) ([]*FileVersion, error) {
	rows, err := s.db.QueryContext(ctx, sqlListVersions, fileID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*FileVersion

	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}

		out = append(out, v)
	}

	return out, rows.Err()
}

// GetVersion returns a single version by id, or ErrNotFound.
func (s *SQLiteStore) GetVersion(ctx context.Context, versionID string) (*FileVersion, error) {
	row := s.db.QueryRowContext(ctx, sqlGetVersion, versionID)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	return v, nil
}

// CurrentVersion returns the single version row with is_current_version=true.
func (s *SQLiteStore) CurrentVersion(ctx context.Context, fileID string) (*FileVersion, error) {
	row := s.db.QueryRowContext(ctx, sqlCurrentVersion, fileID)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("current version: %w", err)
	}

	return v, nil
}

// AppendSyncEvent inserts a new, immutable sync event row.
func (s *SQLiteStore) AppendSyncEvent(ctx context.Context, e *SyncEvent) error {
	var fileID any
	if e.FileID != "" {
		fileID = e.FileID
	}

	_, err := s.db.ExecContext(ctx, sqlInsertSyncEvent,
		e.EventID, e.UserID, fileID, e.EventType, e.Timestamp.Format(timeLayout), e.ClientID,
		e.SyncStatus, e.FilePath, e.Checksum, e.FileSize)
	if err != nil {
		return fmt.Errorf("append sync event: %w", err)
	}

	return nil
}

// SyncEventsSince returns events for userID at or after sinceUnixNano,
// ordered ascending by timestamp.
func (s *SQLiteStore) SyncEventsSince(ctx context.Context, userID string, sinceUnixNano int64) ([]*SyncEvent, error) {
	since := time.Unix(0, sinceUnixNano).UTC().Format(timeLayout)

	rows, err := s.db.QueryContext(ctx, sqlSyncEventsSince, userID, since)
	if err != nil {
		return nil, fmt.Errorf("sync events since: %w", err)
	}
	defer rows.Close()

	var out []*SyncEvent

	for rows.Next() {
		var e SyncEvent

		var ts string

		var fileID, checksum sql.NullString

		var fileSize sql.NullInt64

		if err := rows.Scan(&e.EventID, &e.UserID, &fileID, &e.EventType, &ts, &e.ClientID,
			&e.SyncStatus, &e.FilePath, &checksum, &fileSize); err != nil {
			return nil, fmt.Errorf("scan sync event: %w", err)
		}

		e.FileID = fileID.String
		e.Checksum = checksum.String
		e.FileSize = fileSize.Int64
		e.Timestamp, _ = time.Parse(timeLayout, ts)

		out = append(out, &e)
	}

	return out, rows.Err()
}
