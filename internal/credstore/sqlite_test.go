// ABOUTME: Tests for the SQLite credential store backend
// ABOUTME: Exercises the same contract as the in-memory/file store

package credstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "creds.db"), 3, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_VerifyAndLockout(t *testing.T) {
	s := newSQLiteStore(t)
	if err := s.AddUser("kermit", []byte("banjo"), []string{"user", "frog"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	rec, err := s.Verify("kermit", []byte("banjo"))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !rec.HasRole("frog") {
		t.Error("Verify() record missing role 'frog'")
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Verify("kermit", []byte("wrong")); !errors.Is(err, ErrWrongPassword) {
			t.Fatalf("Verify() #%d error = %v, want ErrWrongPassword", i, err)
		}
	}
	if _, err := s.Verify("kermit", []byte("banjo")); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("Verify() error = %v, want ErrLockedOut", err)
	}
	if got := s.RemainingAttempts("kermit"); got != 0 {
		t.Errorf("RemainingAttempts() = %d, want 0", got)
	}
	if !s.ResetAttempts("kermit") {
		t.Fatal("ResetAttempts() = false, want true")
	}
	if _, err := s.Verify("kermit", []byte("banjo")); err != nil {
		t.Errorf("Verify() after reset error = %v", err)
	}
}

func TestSQLiteStore_DuplicateAndRemove(t *testing.T) {
	s := newSQLiteStore(t)
	if err := s.AddUser("piggy", []byte("hiya"), nil); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if err := s.AddUser("piggy", []byte("hiya"), nil); !errors.Is(err, ErrUserExists) {
		t.Errorf("AddUser() duplicate error = %v, want ErrUserExists", err)
	}
	if !s.RemoveUser("piggy") {
		t.Error("RemoveUser() = false, want true")
	}
	if s.RemoveUser("piggy") {
		t.Error("RemoveUser() second call = true, want false")
	}
	if got := s.RemainingAttempts("piggy"); got != -1 {
		t.Errorf("RemainingAttempts() after removal = %d, want -1", got)
	}
}
