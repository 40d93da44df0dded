// ABOUTME: In-memory credential store with failed-attempt lockout
// ABOUTME: Backs the file-persisted user table; SQLite variant lives in sqlite.go

package credstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Verification errors. Callers surface these as rejection reasons; the
// store never retries on their behalf.
var (
	ErrUnknownUser   = errors.New("unknown user")
	ErrWrongPassword = errors.New("wrong password")
	ErrLockedOut     = errors.New("max attempts exceeded")
	ErrUserExists    = errors.New("user already exists")
)

// DefaultMaxAttempts is the lockout threshold when none is configured.
const DefaultMaxAttempts = 3

// UserRecord is a single user entry. The password hash and attempt counter
// are deliberately unexported; nothing outside this package can read them.
type UserRecord struct {
	UID   string
	Roles []string

	passwordHash   string
	failedAttempts int
}

// HasRole reports whether the record carries the given role. An empty
// required role always matches.
func (u *UserRecord) HasRole(role string) bool {
	if role == "" {
		return true
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *UserRecord) clone() *UserRecord {
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return &UserRecord{UID: u.UID, Roles: roles}
}

// Store is the credential verification interface used by the auth protocol
// layer. Implementations must be safe for concurrent use.
type Store interface {
	// Verify checks uid/password and zeroes the password buffer before
	// returning, on every path. Failures are ErrUnknownUser, ErrLockedOut
	// (short-circuits before hashing) or ErrWrongPassword (increments the
	// attempt counter). Success resets the counter.
	Verify(uid string, password []byte) (*UserRecord, error)

	// AddUser creates a user with a hashed password. A nil/empty password
	// creates a registration-only record that can never pass Verify.
	// The password buffer is zeroed before returning.
	AddUser(uid string, password []byte, roles []string) error

	// RemoveUser deletes a user, reporting whether it existed.
	RemoveUser(uid string) bool

	// Lookup returns a copy of the record (uid and roles only) if present.
	Lookup(uid string) (*UserRecord, bool)

	// RemainingAttempts returns how many verification failures are left
	// before lockout, or -1 for an unknown user.
	RemainingAttempts(uid string) int

	// ResetAttempts clears the lockout counter (admin operation),
	// reporting whether the user existed.
	ResetAttempts(uid string) bool
}

// MemStore keeps user records in a single lock-guarded map. The slow
// argon2 comparison always runs outside the lock.
type MemStore struct {
	mu          sync.Mutex
	users       map[string]*UserRecord
	maxAttempts int
	logger      *slog.Logger
}

// NewMemStore creates an empty store. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewMemStore(maxAttempts int, logger *slog.Logger) *MemStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemStore{
		users:       make(map[string]*UserRecord),
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "credstore"),
	}
}

// Verify implements Store.
func (s *MemStore) Verify(uid string, password []byte) (*UserRecord, error) {
	defer Zero(password)

	s.mu.Lock()
	rec, ok := s.users[uid]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownUser
	}
	if rec.failedAttempts >= s.maxAttempts {
		// Locked out: do not hash, the lockout signal is the only
		// timing difference we allow here.
		s.mu.Unlock()
		return nil, ErrLockedOut
	}
	hash := rec.passwordHash
	s.mu.Unlock()

	if hash == "" {
		// Registration-only record, password logins never succeed.
		return nil, s.recordFailure(uid)
	}

	// Slow comparison runs without holding the map lock.
	err := VerifyPassword(password, hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok = s.users[uid]
	if !ok {
		return nil, ErrUnknownUser
	}
	if err != nil {
		if !errors.Is(err, ErrHashMismatch) {
			s.logger.Warn("unreadable password hash", "uid", uid, "error", err)
		}
		rec.failedAttempts++
		if rec.failedAttempts >= s.maxAttempts {
			s.logger.Warn("user locked out", "uid", uid, "attempts", rec.failedAttempts)
		}
		return nil, ErrWrongPassword
	}

	rec.failedAttempts = 0
	return rec.clone(), nil
}

func (s *MemStore) recordFailure(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[uid]; ok {
		rec.failedAttempts++
	}
	return ErrWrongPassword
}

// AddUser implements Store.
func (s *MemStore) AddUser(uid string, password []byte, roles []string) error {
	defer Zero(password)

	var hash string
	if len(password) > 0 {
		h, err := HashPassword(password)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		hash = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[uid]; exists {
		return ErrUserExists
	}
	rs := make([]string, len(roles))
	copy(rs, roles)
	sort.Strings(rs)
	s.users[uid] = &UserRecord{UID: uid, Roles: rs, passwordHash: hash}
	return nil
}

// RemoveUser implements Store.
func (s *MemStore) RemoveUser(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[uid]; !ok {
		return false
	}
	delete(s.users, uid)
	return true
}

// Lookup implements Store.
func (s *MemStore) Lookup(uid string) (*UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[uid]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// RemainingAttempts implements Store.
func (s *MemStore) RemainingAttempts(uid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[uid]
	if !ok {
		return -1
	}
	left := s.maxAttempts - rec.failedAttempts
	if left < 0 {
		left = 0
	}
	return left
}

// ResetAttempts implements Store.
func (s *MemStore) ResetAttempts(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[uid]
	if !ok {
		return false
	}
	rec.failedAttempts = 0
	return true
}

// uids returns all user ids, sorted. Used by the file writer.
func (s *MemStore) uids() []string {
	ids := make([]string, 0, len(s.users))
	for uid := range s.users {
		ids = append(ids, uid)
	}
	sort.Strings(ids)
	return ids
}
