// ABOUTME: Unit tests for credential verification, lockout and zeroing
// ABOUTME: Covers MemStore semantics shared by the file and SQLite backends

package credstore

import (
	"errors"
	"testing"
)

func pw(s string) []byte { return []byte(s) }

func newTestStore(t *testing.T, maxAttempts int) *MemStore {
	t.Helper()
	s := NewMemStore(maxAttempts, nil)
	if err := s.AddUser("gonzo", pw("whatever"), []string{"user"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	return s
}

func TestVerify_Success(t *testing.T) {
	s := newTestStore(t, 3)

	rec, err := s.Verify("gonzo", pw("whatever"))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if rec.UID != "gonzo" {
		t.Errorf("Verify() uid = %q, want %q", rec.UID, "gonzo")
	}
	if !rec.HasRole("user") {
		t.Error("Verify() record missing role 'user'")
	}
	if rec.HasRole("admin") {
		t.Error("Verify() record should not have role 'admin'")
	}
}

func TestVerify_UnknownUser(t *testing.T) {
	s := newTestStore(t, 3)

	if _, err := s.Verify("nobody", pw("whatever")); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("Verify() error = %v, want ErrUnknownUser", err)
	}
	if got := s.RemainingAttempts("nobody"); got != -1 {
		t.Errorf("RemainingAttempts() = %d, want -1", got)
	}
}

func TestVerify_WrongPasswordIncrementsCounter(t *testing.T) {
	s := newTestStore(t, 3)

	if _, err := s.Verify("gonzo", pw("nope")); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("Verify() error = %v, want ErrWrongPassword", err)
	}
	if got := s.RemainingAttempts("gonzo"); got != 2 {
		t.Errorf("RemainingAttempts() = %d, want 2", got)
	}

	// A success resets the counter.
	if _, err := s.Verify("gonzo", pw("whatever")); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got := s.RemainingAttempts("gonzo"); got != 3 {
		t.Errorf("RemainingAttempts() after success = %d, want 3", got)
	}
}

func TestVerify_LockoutIgnoresCorrectPassword(t *testing.T) {
	s := newTestStore(t, 3)

	for i := 0; i < 3; i++ {
		if _, err := s.Verify("gonzo", pw("nope")); !errors.Is(err, ErrWrongPassword) {
			t.Fatalf("Verify() #%d error = %v, want ErrWrongPassword", i, err)
		}
	}

	// Locked out now, even with the correct password.
	if _, err := s.Verify("gonzo", pw("whatever")); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("Verify() error = %v, want ErrLockedOut", err)
	}
	if got := s.RemainingAttempts("gonzo"); got != 0 {
		t.Errorf("RemainingAttempts() = %d, want 0", got)
	}

	// Admin reset unlocks.
	if !s.ResetAttempts("gonzo") {
		t.Fatal("ResetAttempts() = false, want true")
	}
	if _, err := s.Verify("gonzo", pw("whatever")); err != nil {
		t.Errorf("Verify() after reset error = %v", err)
	}
}

func TestVerify_ZeroesPasswordBuffer(t *testing.T) {
	s := newTestStore(t, 3)

	tests := []struct {
		name     string
		uid      string
		password string
	}{
		{name: "success path", uid: "gonzo", password: "whatever"},
		{name: "wrong password path", uid: "gonzo", password: "nope"},
		{name: "unknown user path", uid: "nobody", password: "whatever"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := []byte(tt.password)
			_, _ = s.Verify(tt.uid, buf)
			for i, b := range buf {
				if b != 0 {
					t.Fatalf("password buffer byte %d = %#x, want 0", i, b)
				}
			}
		})
	}
}

func TestVerify_RegistrationOnlyRecordNeverSucceeds(t *testing.T) {
	s := NewMemStore(3, nil)
	if err := s.AddUser("passless", nil, []string{"user"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	if _, err := s.Verify("passless", pw("")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Verify() error = %v, want ErrWrongPassword", err)
	}
}

func TestAddUser_Duplicate(t *testing.T) {
	s := newTestStore(t, 3)
	if err := s.AddUser("gonzo", pw("other"), nil); !errors.Is(err, ErrUserExists) {
		t.Errorf("AddUser() error = %v, want ErrUserExists", err)
	}
}

func TestRemoveUser(t *testing.T) {
	s := newTestStore(t, 3)
	if !s.RemoveUser("gonzo") {
		t.Error("RemoveUser() = false, want true")
	}
	if s.RemoveUser("gonzo") {
		t.Error("RemoveUser() second call = true, want false")
	}
}

func TestLookup_DoesNotExposeHash(t *testing.T) {
	s := newTestStore(t, 3)
	rec, ok := s.Lookup("gonzo")
	if !ok {
		t.Fatal("Lookup() = false, want true")
	}
	if rec.passwordHash != "" {
		t.Error("Lookup() leaked the password hash")
	}
}
