// ABOUTME: SQLite-backed credential store using modernc.org/sqlite
// ABOUTME: Same Store contract as FileStore for embedders that carry a database

package credstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a SQLite database. The schema is created
// automatically; the failed-attempt counter lives in the user row so the
// lockout survives restarts.
type SQLiteStore struct {
	db          *sql.DB
	maxAttempts int
	logger      *slog.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite credential store at
// the given path. Parent directories are created if needed.
func NewSQLiteStore(path string, maxAttempts int, logger *slog.Logger) (*SQLiteStore, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "credstore")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, maxAttempts: maxAttempts, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite credential store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			uid TEXT PRIMARY KEY,
			roles TEXT NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			failed_attempts INTEGER NOT NULL DEFAULT 0
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) getRow(uid string) (*UserRecord, error) {
	var roles, hash string
	var failed int
	err := s.db.QueryRow(
		"SELECT roles, password_hash, failed_attempts FROM users WHERE uid = ?", uid,
	).Scan(&roles, &hash, &failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	rec := &UserRecord{UID: uid, passwordHash: hash, failedAttempts: failed}
	for _, r := range strings.Split(roles, ",") {
		if r != "" {
			rec.Roles = append(rec.Roles, r)
		}
	}
	return rec, nil
}

// Verify implements Store.
func (s *SQLiteStore) Verify(uid string, password []byte) (*UserRecord, error) {
	defer Zero(password)

	rec, err := s.getRow(uid)
	if err != nil {
		return nil, err
	}
	if rec.failedAttempts >= s.maxAttempts {
		return nil, ErrLockedOut
	}

	if rec.passwordHash == "" {
		s.bumpFailures(uid)
		return nil, ErrWrongPassword
	}

	if err := VerifyPassword(password, rec.passwordHash); err != nil {
		if !errors.Is(err, ErrHashMismatch) {
			s.logger.Warn("unreadable password hash", "uid", uid, "error", err)
		}
		s.bumpFailures(uid)
		return nil, ErrWrongPassword
	}

	if _, err := s.db.Exec("UPDATE users SET failed_attempts = 0 WHERE uid = ?", uid); err != nil {
		s.logger.Error("failed to reset attempt counter", "uid", uid, "error", err)
	}
	return rec.clone(), nil
}

func (s *SQLiteStore) bumpFailures(uid string) {
	if _, err := s.db.Exec(
		"UPDATE users SET failed_attempts = failed_attempts + 1 WHERE uid = ?", uid,
	); err != nil {
		s.logger.Error("failed to increment attempt counter", "uid", uid, "error", err)
	}
}

// AddUser implements Store.
func (s *SQLiteStore) AddUser(uid string, password []byte, roles []string) error {
	defer Zero(password)

	var hash string
	if len(password) > 0 {
		h, err := HashPassword(password)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		hash = h
	}

	_, err := s.db.Exec(
		"INSERT INTO users (uid, roles, password_hash) VALUES (?, ?, ?)",
		uid, strings.Join(roles, ","), hash,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrUserExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// RemoveUser implements Store.
func (s *SQLiteStore) RemoveUser(uid string) bool {
	res, err := s.db.Exec("DELETE FROM users WHERE uid = ?", uid)
	if err != nil {
		s.logger.Error("failed to delete user", "uid", uid, "error", err)
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

// Lookup implements Store.
func (s *SQLiteStore) Lookup(uid string) (*UserRecord, bool) {
	rec, err := s.getRow(uid)
	if err != nil {
		return nil, false
	}
	return rec.clone(), true
}

// RemainingAttempts implements Store.
func (s *SQLiteStore) RemainingAttempts(uid string) int {
	rec, err := s.getRow(uid)
	if err != nil {
		return -1
	}
	left := s.maxAttempts - rec.failedAttempts
	if left < 0 {
		left = 0
	}
	return left
}

// ResetAttempts implements Store.
func (s *SQLiteStore) ResetAttempts(uid string) bool {
	res, err := s.db.Exec("UPDATE users SET failed_attempts = 0 WHERE uid = ?", uid)
	if err != nil {
		s.logger.Error("failed to reset attempt counter", "uid", uid, "error", err)
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}
