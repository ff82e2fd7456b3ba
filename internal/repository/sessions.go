package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlSaveSession = `INSERT INTO chunk_upload_sessions
		(session_id, user_id, file_id, file_path, client_id, total_chunks, received_chunks_bitset,
		 received_count, total_file_size, received_size, status, version_vector,
		 created_at, completed_at, expires_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
		 received_chunks_bitset = excluded.received_chunks_bitset,
		 received_count = excluded.received_count,
		 received_size = excluded.received_size,
		 status = excluded.status,
		 completed_at = excluded.completed_at,
		 error_message = excluded.error_message`

	sqlGetSession = `SELECT session_id, user_id, file_id, file_path, client_id, total_chunks,
		received_chunks_bitset, received_count, total_file_size, received_size, status, version_vector,
		created_at, completed_at, expires_at, error_message
		FROM chunk_upload_sessions WHERE session_id = ?`

	sqlFindActiveSessionForFile = `SELECT session_id, user_id, file_id, file_path, client_id, total_chunks,
		received_chunks_bitset, received_count, total_file_size, received_size, status, version_vector,
		created_at, completed_at, expires_at, error_message
		FROM chunk_upload_sessions WHERE user_id = ? AND file_id = ? AND status = 'IN_PROGRESS'`

	sqlCountActiveSessions = `SELECT COUNT(*) FROM chunk_upload_sessions WHERE user_id = ? AND status = 'IN_PROGRESS'`

	sqlListActiveSessionsForUser = `SELECT session_id, user_id, file_id, file_path, client_id, total_chunks,
		received_chunks_bitset, received_count, total_file_size, received_size, status, version_vector,
		created_at, completed_at, expires_at, error_message
		FROM chunk_upload_sessions WHERE user_id = ? AND status = 'IN_PROGRESS' ORDER BY created_at`

	sqlListExpiredSessions = `SELECT session_id, user_id, file_id, file_path, client_id, total_chunks,
		received_chunks_bitset, received_count, total_file_size, received_size, status, version_vector,
		created_at, completed_at, expires_at, error_message
		FROM chunk_upload_sessions
		WHERE (status = 'IN_PROGRESS' AND expires_at <= ?)
		   OR (status = 'COMPLETED' AND completed_at IS NOT NULL AND completed_at <= ?)`

	sqlDeleteSession = `DELETE FROM chunk_upload_sessions WHERE session_id = ?`
)

func scanSession(row interface{ Scan(...any) error }) (*UploadSession, error) {
	var s UploadSession

	var created, expires string

	var completed, errMsg sql.NullString

	err := row.Scan(&s.SessionID, &s.UserID, &s.FileID, &s.FilePath, &s.ClientID, &s.TotalChunks,
		&s.Bitset, &s.ReceivedCount, &s.TotalFileSize, &s.ReceivedSize, &s.Status, &s.VersionVector,
		&created, &completed, &expires, &errMsg)
	if err != nil {
		return nil, err
	}

	s.CreatedAt, _ = time.Parse(timeLayout, created)
	s.ExpiresAt, _ = time.Parse(timeLayout, expires)
	s.ErrorMessage = errMsg.String

	if completed.Valid {
		t, perr := time.Parse(timeLayout, completed.String)
		if perr == nil {
			s.CompletedAt = &t
		}
	}

	return &s, nil
}

// SaveUploadSession upserts a session row by session_id.
func (s *SQLiteStore) SaveUploadSession(ctx context.Context, sess *UploadSession) error {
	var completed any
	if sess.CompletedAt != nil {
		completed = sess.CompletedAt.Format(timeLayout)
	}

	var errMsg any
	if sess.ErrorMessage != "" {
		errMsg = sess.ErrorMessage
	}

	_, err := s.db.ExecContext(ctx, sqlSaveSession,
		sess.SessionID, sess.UserID, sess.FileID, sess.FilePath, sess.ClientID, sess.TotalChunks,
		sess.Bitset, sess.ReceivedCount, sess.TotalFileSize, sess.ReceivedSize, sess.Status, sess.VersionVector,
		sess.CreatedAt.Format(timeLayout), completed, sess.ExpiresAt.Format(timeLayout), errMsg)
	if err != nil {
		return fmt.Errorf("save upload session: %w", err)
	}

	return nil
}

// GetUploadSession returns ErrNotFound if no session with that id exists.
func (s *SQLiteStore) GetUploadSession(ctx context.Context, sessionID string) (*UploadSession, error) {
	row := s.db.QueryRowContext(ctx, sqlGetSession, sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get upload session: %w", err)
	}

	return sess, nil
}

// FindActiveSessionForFile returns the IN_PROGRESS session for (userID,
// fileID), or ErrNotFound if none exists.
func (s *SQLiteStore) FindActiveSessionForFile(ctx context.Context, userID, fileID string) (*UploadSession, error) {
	row := s.db.QueryRowContext(ctx, sqlFindActiveSessionForFile, userID, fileID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}

	return sess, nil
}

// CountActiveSessions returns the number of IN_PROGRESS sessions for userID,
// used to enforce the per-user concurrent-session cap.
func (s *SQLiteStore) CountActiveSessions(ctx context.Context, userID string) (int, error) {
	var n int

	if err := s.db.QueryRowContext(ctx, sqlCountActiveSessions, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}

	return n, nil
}

// ListActiveSessionsForUser returns every IN_PROGRESS session owned by
// userID, ordered by creation time (spec.md §6 GET /files/upload/sessions).
func (s *SQLiteStore) ListActiveSessionsForUser(ctx context.Context, userID string) ([]*UploadSession, error) {
	rows, err := s.db.QueryContext(ctx, sqlListActiveSessionsForUser, userID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []*UploadSession

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		out = append(out, sess)
	}

	return out, rows.Err()
}

// ListExpiredSessions returns IN_PROGRESS sessions past expiry and COMPLETED
// sessions past their retention window, as of now.
func (s *SQLiteStore) ListExpiredSessions(ctx context.Context, nowUnixNano int64) ([]*UploadSession, error) {
	now := time.Unix(0, nowUnixNano).UTC().Format(timeLayout)

	rows, err := s.db.QueryContext(ctx, sqlListExpiredSessions, now, now)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()

	var out []*UploadSession

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		out = append(out, sess)
	}

	return out, rows.Err()
}

// DeleteUploadSession removes a session row (used after cancel/expiry cleanup).
func (s *SQLiteStore) DeleteUploadSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteSession, sessionID); err != nil {
		return fmt.Errorf("delete upload session: %w", err)
	}

	return nil
}
