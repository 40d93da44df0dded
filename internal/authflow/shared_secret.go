// ABOUTME: Two-message shared-password login protocol with pending-request table
// ABOUTME: authUser opens an exchange keyed by client address, authCredentials closes it

package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seaward/pushgate/internal/credstore"
)

// Defaults for the shared-secret exchange.
const (
	DefaultMaxFailed      = 3
	DefaultPendingTimeout = time.Minute
)

// pendingAuth is one in-flight exchange. It is keyed by client address, so
// two clients logging in as the same uid never share failure counters.
type pendingAuth struct {
	uid      string
	failed   int
	deadline time.Time
}

// SharedSecret implements the two-message uid/password protocol:
//
//	client: {"authUser": "<uid>"}
//	server: {"requestCredentials": "<uid>"}   (Challenge)
//	client: {"authCredentials": [ ... ]}
//	server: {"accept": "<uid>"}               (Accept)
//	     or {"alert": "..."}                  (Challenge, retry allowed)
//	     or {"reject": "..."}                 (Reject, exchange discarded)
//
// A new authUser message replaces any pending exchange for that client.
// Exchanges expire after the configured timeout, checked lazily on the
// next message plus an optional background sweep.
type SharedSecret struct {
	users     credstore.Store
	maxFailed int
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingAuth
}

// NewSharedSecret creates the method. maxFailed/timeout <= 0 select the
// package defaults.
func NewSharedSecret(users credstore.Store, maxFailed int, timeout time.Duration, logger *slog.Logger) *SharedSecret {
	if maxFailed <= 0 {
		maxFailed = DefaultMaxFailed
	}
	if timeout <= 0 {
		timeout = DefaultPendingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SharedSecret{
		users:     users,
		maxFailed: maxFailed,
		timeout:   timeout,
		logger:    logger.With("component", "auth"),
		pending:   make(map[string]*pendingAuth),
	}
}

// ProcessMessage implements Method.
func (m *SharedSecret) ProcessMessage(client string, raw []byte) *Response {
	msg, err := parseClientMessage(raw)
	if err != nil {
		return NewReject(rejectMsg("malformed message"))
	}

	switch {
	case msg.AuthUser != "":
		return m.startExchange(client, msg.AuthUser)
	case msg.AuthCredentials != nil:
		return m.finishExchange(client, msg.AuthCredentials)
	default:
		return nil
	}
}

func (m *SharedSecret) startExchange(client, uid string) *Response {
	if _, known := m.users.Lookup(uid); !known {
		m.logger.Warn("login attempt for unknown user", "uid", uid, "client", client)
		return NewReject(rejectMsg("unknown user"))
	}

	m.mu.Lock()
	// Replaces any pending exchange for this client, including one for
	// a different uid.
	m.pending[client] = &pendingAuth{uid: uid, deadline: time.Now().Add(m.timeout)}
	m.mu.Unlock()

	return NewChallenge(requestCredentialsMsg(uid))
}

func (m *SharedSecret) finishExchange(client string, creds []byte) *Response {
	m.mu.Lock()
	p, ok := m.pending[client]
	if ok && time.Now().After(p.deadline) {
		delete(m.pending, client)
		ok = false
	}
	var uid string
	if ok {
		uid = p.uid
	}
	m.mu.Unlock()

	if !ok {
		credstore.Zero(creds)
		return NewReject(rejectMsg("no pending authentication"))
	}

	// Verify zeroes the credential bytes and runs the slow hash; it must
	// not happen under the pending-table lock.
	_, err := m.users.Verify(uid, creds)
	if err == nil {
		m.mu.Lock()
		delete(m.pending, client)
		m.mu.Unlock()
		m.logger.Info("login accepted", "uid", uid, "client", client)
		return NewAccept(uid, acceptMsg(uid))
	}

	switch {
	case errors.Is(err, credstore.ErrWrongPassword):
		return m.recordFailure(client, uid)
	case errors.Is(err, credstore.ErrLockedOut):
		m.dropPending(client)
		m.logger.Warn("login rejected, user locked out", "uid", uid, "client", client)
		return NewReject(rejectMsg("max attempts exceeded"))
	case errors.Is(err, credstore.ErrUnknownUser):
		// User removed while the exchange was pending.
		m.dropPending(client)
		return NewReject(rejectMsg("unknown user"))
	default:
		m.dropPending(client)
		m.logger.Error("credential verification failed", "uid", uid, "error", err)
		return NewReject(rejectMsg("authentication failed"))
	}
}

func (m *SharedSecret) recordFailure(client, uid string) *Response {
	m.mu.Lock()
	p, ok := m.pending[client]
	if !ok || p.uid != uid {
		// Exchange was replaced or dropped while we were hashing.
		m.mu.Unlock()
		return NewReject(rejectMsg("no pending authentication"))
	}
	p.failed++
	failed := p.failed
	if failed >= m.maxFailed {
		delete(m.pending, client)
	}
	m.mu.Unlock()

	if failed >= m.maxFailed {
		m.logger.Warn("login rejected after max failures", "uid", uid, "client", client)
		return NewReject(rejectMsg("max attempts exceeded"))
	}
	left := m.maxFailed - failed
	return NewChallenge(alertMsg(fmt.Sprintf("wrong credentials, %d attempts left", left)))
}

func (m *SharedSecret) dropPending(client string) {
	m.mu.Lock()
	delete(m.pending, client)
	m.mu.Unlock()
}

// ClientClosed implements ClientCloser: a disconnecting client tears down
// its half-finished exchange.
func (m *SharedSecret) ClientClosed(client string) {
	m.dropPending(client)
}

// StartSweep removes timed-out exchanges periodically until ctx is
// cancelled. Lazy checks already keep stale entries from being used; the
// sweep bounds table growth.
func (m *SharedSecret) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *SharedSecret) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for client, p := range m.pending {
		if now.After(p.deadline) {
			delete(m.pending, client)
		}
	}
}
