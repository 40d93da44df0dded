// ABOUTME: Tests for credential file load/save round trips
// ABOUTME: Verifies malformed lines are skipped and output stays sorted

package credstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStore_LoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")

	s, err := NewFileStore(path, 3, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if err := s.AddUser("zed", []byte("zpass"), []string{"user"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if err := s.AddUser("alice", []byte("apass"), []string{"admin", "user"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("credential file has %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "alice:admin,user:$argon2id$") {
		t.Errorf("line 0 = %q, want alice first (sorted)", lines[0])
	}
	if !strings.HasPrefix(lines[1], "zed:user:$argon2id$") {
		t.Errorf("line 1 = %q, want zed record", lines[1])
	}

	// A fresh store loads the same records and can verify against them.
	s2, err := NewFileStore(path, 3, nil)
	if err != nil {
		t.Fatalf("NewFileStore() reload error = %v", err)
	}
	if _, err := s2.Verify("alice", []byte("apass")); err != nil {
		t.Errorf("Verify() after reload error = %v", err)
	}
	rec, ok := s2.Lookup("alice")
	if !ok || !rec.HasRole("admin") {
		t.Errorf("Lookup() after reload = %v, %v; want admin role present", rec, ok)
	}
}

func TestFileStore_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	hash, err := HashPassword([]byte("good"))
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	content := strings.Join([]string{
		"",                       // blank, ignored
		"# comment",              // comment, ignored
		"broken-no-separators",   // malformed, skipped
		":user:" + hash,          // empty uid, skipped
		"evil:user:not-a-hash",   // garbage hash, skipped (never fail open)
		"passless:user:",         // registration-only, kept
		"good:user,admin:" + hash, // kept
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s, err := NewFileStore(path, 3, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if _, ok := s.Lookup("good"); !ok {
		t.Error("good record was not loaded")
	}
	if _, ok := s.Lookup("passless"); !ok {
		t.Error("registration-only record was not loaded")
	}
	if _, ok := s.Lookup("evil"); ok {
		t.Error("malformed record was loaded")
	}
	if _, ok := s.Lookup("broken-no-separators"); ok {
		t.Error("separator-less line was loaded")
	}

	// The malformed record must not be verifiable either way.
	if _, err := s.Verify("evil", []byte("anything")); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("Verify(evil) error = %v, want ErrUnknownUser", err)
	}
}

func TestFileStore_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "users.txt")
	s, err := NewFileStore(path, 3, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if _, ok := s.Lookup("anyone"); ok {
		t.Error("empty store reported a user")
	}

	// First save creates the directory and file.
	if err := s.AddUser("first", []byte("pw"), nil); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("credential file not created: %v", err)
	}
}
