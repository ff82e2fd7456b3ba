package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	sqlFindUserByUsername = `SELECT user_id, username, email, password_hash, storage_quota, used_storage, account_status
		FROM users WHERE username = ?`

	sqlFindUserByID = `SELECT user_id, username, email, password_hash, storage_quota, used_storage, account_status
		FROM users WHERE user_id = ?`

	sqlInsertUser = `INSERT INTO users
		(user_id, username, email, password_hash, storage_quota, used_storage, account_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// FindUserByUsername returns ErrNotFound if no user has that username.
func (s *SQLiteStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, sqlFindUserByUsername, username)

	var u User

	err := row.Scan(&u.UserID, &u.Username, &u.Email, &u.PasswordHash, &u.StorageQuota, &u.UsedStorage, &u.AccountStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("find user by username: %w", err)
	}

	return &u, nil
}

// FindUserByID returns ErrNotFound if no user has that id. Used by the
// upload session completion handler, which only carries a userID through
// the chunk machinery and needs the username to call the decision engine
// (spec.md §4.6 classifies by username, not userID).
func (s *SQLiteStore) FindUserByID(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, sqlFindUserByID, userID)

	var u User

	err := row.Scan(&u.UserID, &u.Username, &u.Email, &u.PasswordHash, &u.StorageQuota, &u.UsedStorage, &u.AccountStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}

	return &u, nil
}

// CreateUser inserts a new user row.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, sqlInsertUser,
		u.UserID, u.Username, u.Email, u.PasswordHash, u.StorageQuota, u.UsedStorage, u.AccountStatus)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}
