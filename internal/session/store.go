// ABOUTME: Bearer session token store with one-time rotation semantics
// ABOUTME: Every rotate consumes the old token so a stolen cookie replays at most once

package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Rejection errors. A rejected token is never retried by this package;
// the route layer decides what to tell the client.
var (
	ErrUnknownSession   = errors.New("unknown session")
	ErrExpiredSession   = errors.New("session expired")
	ErrInsufficientRole = errors.New("insufficient role")
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 10 * time.Minute

// tokenBytes is the entropy of a session token before base64url encoding.
const tokenBytes = 32

// Entry is one live session. Exactly one entry exists per uid: a second
// Issue for the same uid supersedes the first.
type Entry struct {
	Token      string
	UID        string
	Roles      []string
	IssuedAt   time.Time
	RemoteAddr string
}

// Rotation is the successful result of Rotate: the fresh token the caller
// must hand back to the client, plus the identity it is bound to.
type Rotation struct {
	Token string
	UID   string
	Roles []string
}

// Store issues, rotates and revokes session tokens. All operations are
// serialized by a single mutex; none of them do I/O or hashing while
// holding it.
type Store struct {
	mu      sync.Mutex
	byToken map[string]*Entry
	byUID   map[string]string // uid -> live token
	ttl     time.Duration
	logger  *slog.Logger
}

// New creates a Store. ttl <= 0 selects DefaultTTL.
func New(ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		byToken: make(map[string]*Entry),
		byUID:   make(map[string]string),
		ttl:     ttl,
		logger:  logger.With("component", "session"),
	}
}

// newToken returns a fresh cryptographically random base64url token.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a session for uid and returns its token. Any existing
// session for the same uid is superseded.
func (s *Store) Issue(remoteAddr, uid string, roles []string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	rs := make([]string, len(roles))
	copy(rs, roles)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byUID[uid]; ok {
		delete(s.byToken, old)
		s.logger.Info("superseding existing session", "uid", uid)
	}
	s.byToken[token] = &Entry{
		Token:      token,
		UID:        uid,
		Roles:      rs,
		IssuedAt:   time.Now(),
		RemoteAddr: remoteAddr,
	}
	s.byUID[uid] = token
	return token, nil
}

// lookup fetches and expiry-checks an entry; the caller holds the lock.
// Expired entries are removed on sight.
func (s *Store) lookup(token string) (*Entry, error) {
	e, ok := s.byToken[token]
	if !ok {
		return nil, ErrUnknownSession
	}
	if time.Since(e.IssuedAt) > s.ttl {
		s.remove(e)
		return nil, ErrExpiredSession
	}
	return e, nil
}

// remove deletes an entry from both indices; the caller holds the lock.
func (s *Store) remove(e *Entry) {
	delete(s.byToken, e.Token)
	if s.byUID[e.UID] == e.Token {
		delete(s.byUID, e.UID)
	}
}

func hasRole(roles []string, required string) bool {
	if required == "" {
		return true
	}
	for _, r := range roles {
		if r == required {
			return true
		}
	}
	return false
}

// Rotate consumes oldToken and issues a replacement bound to the same uid
// and address. The removal and reissue are atomic with respect to
// concurrent callers: a token can be rotated exactly once. A role failure
// leaves the token intact.
func (s *Store) Rotate(oldToken, requiredRole string) (*Rotation, error) {
	next, err := newToken()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(oldToken)
	if err != nil {
		return nil, err
	}
	if !hasRole(e.Roles, requiredRole) {
		return nil, ErrInsufficientRole
	}

	s.remove(e)
	s.byToken[next] = &Entry{
		Token:      next,
		UID:        e.UID,
		Roles:      e.Roles,
		IssuedAt:   time.Now(),
		RemoteAddr: e.RemoteAddr,
	}
	s.byUID[e.UID] = next

	return &Rotation{Token: next, UID: e.UID, Roles: e.Roles}, nil
}

// MatchOnly runs the same checks as Rotate but does not consume the token.
// Used for WebSocket promotion, where the upgrade response cannot reliably
// carry a new cookie value; the token stays valid within its normal TTL.
func (s *Store) MatchOnly(token, requiredRole string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(token)
	if err != nil {
		return "", err
	}
	if !hasRole(e.Roles, requiredRole) {
		return "", ErrInsufficientRole
	}
	return e.UID, nil
}

// Revoke removes the session for token, returning the uid it was bound to.
// A missing token is not an error.
func (s *Store) Revoke(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byToken[token]
	if !ok {
		return "", false
	}
	s.remove(e)
	return e.UID, true
}

// RevokeUser removes the live session for uid, if any.
func (s *Store) RevokeUser(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byUID[uid]
	if !ok {
		return false
	}
	if e, ok := s.byToken[token]; ok {
		s.remove(e)
	} else {
		delete(s.byUID, uid)
	}
	return true
}

// IsLoggedIn reports whether an unexpired session exists for uid.
func (s *Store) IsLoggedIn(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byUID[uid]
	if !ok {
		return false
	}
	_, err := s.lookup(token)
	return err == nil
}

// StartSweep runs a periodic expiry sweep until ctx is cancelled. Lookups
// already drop expired entries, so the sweep only bounds map growth from
// sessions that are never presented again.
func (s *Store) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, e := range s.byToken {
		if time.Since(e.IssuedAt) > s.ttl {
			s.remove(e)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept expired sessions", "removed", removed)
	}
}

// issueAt is a test hook: it installs a session with a caller-chosen issue
// time so expiry paths can be exercised without sleeping.
func (s *Store) issueAt(remoteAddr, uid string, roles []string, issuedAt time.Time) (string, error) {
	token, err := s.Issue(remoteAddr, uid, roles)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byToken[token]; ok {
		e.IssuedAt = issuedAt
	}
	return token, nil
}
