// Package repository implements the File Repository persistence contract
// (spec.md §4.5, §3): Users, Files, FileVersions, SyncEvents, and
// ChunkUploadSessions, backed by an embedded SQLite database. Grounded
// directly on onedrive-go's internal/sync/state.go: an embedded migration
// set applied at open time, WAL journaling, and SQL statement text grouped
// by domain as package constants.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// walJournalSizeLimit bounds the WAL file size the same way the teacher's
// SQLite store does (named constant to satisfy linters against magic
// numbers, 64 MiB).
const walJournalSizeLimit = 67108864

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("repository: not found")

// Store is the persistence contract required by the sync decision engine
// and the upload session manager (spec.md §4.5). It is implemented by
// *SQLiteStore; tests may substitute a fake.
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindUserByID(ctx context.Context, userID string) (*User, error)
	CreateUser(ctx context.Context, u *User) error

	FindFileByPath(ctx context.Context, userID, path string) (*File, error)
	FindFileByID(ctx context.Context, userID, fileID string) (*File, error)
	ListFiles(ctx context.Context, userID string) ([]*File, error)
	SaveFile(ctx context.Context, f *File) error

	SaveVersion(ctx context.Context, v *FileVersion) error
	MarkAllVersionsNonCurrent(ctx context.Context, fileID string) error
	MaxVersionNumber(ctx context.Context, fileID string) (int, error)
	ListVersions(ctx context.Context, fileID string) ([]*FileVersion, error)
	GetVersion(ctx context.Context, versionID string) (*FileVersion, error)
	CurrentVersion(ctx context.Context, fileID string) (*FileVersion, error)

	AppendSyncEvent(ctx context.Context, e *SyncEvent) error
	SyncEventsSince(ctx context.Context, userID string, sinceUnixNano int64) ([]*SyncEvent, error)

	SaveUploadSession(ctx context.Context, s *UploadSession) error
	GetUploadSession(ctx context.Context, sessionID string) (*UploadSession, error)
	FindActiveSessionForFile(ctx context.Context, userID, fileID string) (*UploadSession, error)
	ListActiveSessionsForUser(ctx context.Context, userID string) ([]*UploadSession, error)
	CountActiveSessions(ctx context.Context, userID string) (int, error)
	ListExpiredSessions(ctx context.Context, nowUnixNano int64) ([]*UploadSession, error)
	DeleteUploadSession(ctx context.Context, sessionID string) error

	// WithTx runs fn within a single transaction, committing on success and
	// rolling back on error or panic. The decision engine does not use it:
	// its statements run one at a time, so a submission that fails partway
	// leaves the rows it already wrote in place.
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error

	Close() error
}

// SQLiteStore implements Store using an embedded SQLite database in WAL
// mode. All sync state lives here: users, files, versions, events, and
// upload sessions.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath, applies
// embedded migrations, and sets WAL pragmas. Use ":memory:" for tests.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening repository database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single shared connection avoids SQLITE_BUSY under WAL with the
	// pure-Go driver's lack of busy-timeout retries across connections.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := applyMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA journal_size_limit=%d", walJournalSizeLimit),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	return nil
}

func applyMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	for _, name := range names {
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		logger.Debug("applying migration", "name", name)

		if _, err := db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	return nil
}

// WithTx runs fn within a single *sql.Tx, committing on success. On error
// (including panic, which is re-panicked after rollback) the transaction is
// rolled back, leaving no partial rows (spec.md §5, §7).
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %w (rollback also failed: %v)", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
