// ABOUTME: WebAuthn-backed Authenticator using the go-webauthn library
// ABOUTME: Begin/finish exchanges ride the Conn; credentials persist as JSON

package authflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// webauthnExchangeTTL bounds how long a begin-register/begin-login waits
// for the client's response.
const webauthnExchangeTTL = 5 * time.Minute

// storedCredential pairs a registered credential with the server time it
// was stored at.
type storedCredential struct {
	Credential webauthn.Credential `json:"credential"`
	StoredAt   time.Time           `json:"storedAt"`
}

// waUser maps a uid to its user handle and credentials, and implements
// webauthn.User.
type waUser struct {
	UID    string             `json:"uid"`
	Handle []byte             `json:"uh"`
	Creds  []storedCredential `json:"credentials"`
}

func (u *waUser) WebAuthnID() []byte          { return u.Handle }
func (u *waUser) WebAuthnName() string        { return u.UID }
func (u *waUser) WebAuthnDisplayName() string { return u.UID }

func (u *waUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.Creds))
	for i, c := range u.Creds {
		creds[i] = c.Credential
	}
	return creds
}

// waExchange is an in-flight begin/finish pair, keyed by uid.
type waExchange struct {
	register bool
	session  *webauthn.SessionData
	conn     Conn
	cb       Callback
	deadline time.Time
}

// WebAuthnAuthenticator is an Authenticator wrapping a public-key
// credential (passkey) ceremony. The begin options are pushed to the
// client over the Conn as a single-key JSON message
// ({"webauthnRegister": ...} or {"webauthnAuthenticate": ...}); the
// client's response is fed back through HandleClientResponse.
type WebAuthnAuthenticator struct {
	wa     *webauthn.WebAuthn
	logger *slog.Logger

	mu       sync.Mutex
	users    map[string]*waUser
	exchange map[string]*waExchange
}

// NewWebAuthn creates the authenticator for the given relying party.
func NewWebAuthn(rpDisplayName, rpID string, rpOrigins []string, logger *slog.Logger) (*WebAuthnAuthenticator, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rpDisplayName,
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebAuthnAuthenticator{
		wa:       wa,
		logger:   logger.With("component", "webauthn"),
		users:    make(map[string]*waUser),
		exchange: make(map[string]*waExchange),
	}, nil
}

// IsRegistered implements Authenticator.
func (a *WebAuthnAuthenticator) IsRegistered(uid string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[uid]
	return ok && len(u.Creds) > 0
}

func (a *WebAuthnAuthenticator) userEntry(uid string) *waUser {
	u, ok := a.users[uid]
	if !ok {
		handle := uuid.New()
		u = &waUser{UID: uid, Handle: handle[:]}
		a.users[uid] = u
	}
	return u
}

// Register implements Authenticator: it starts the credential-creation
// ceremony and parks the exchange until the client responds.
func (a *WebAuthnAuthenticator) Register(_ context.Context, uid string, conn Conn, cb Callback) {
	a.mu.Lock()
	user := a.userEntry(uid)
	options, session, err := a.wa.BeginRegistration(user)
	if err != nil {
		a.mu.Unlock()
		a.logger.Error("failed to begin registration", "uid", uid, "error", err)
		cb.OnFailure(uid, "registration unavailable")
		return
	}
	a.exchange[uid] = &waExchange{
		register: true,
		session:  session,
		conn:     conn,
		cb:       cb,
		deadline: time.Now().Add(webauthnExchangeTTL),
	}
	a.mu.Unlock()

	a.sendOptions(uid, conn, cb, "webauthnRegister", options)
}

// Authenticate implements Authenticator: it starts the assertion ceremony.
func (a *WebAuthnAuthenticator) Authenticate(_ context.Context, uid string, conn Conn, cb Callback) {
	a.mu.Lock()
	user, ok := a.users[uid]
	if !ok || len(user.Creds) == 0 {
		a.mu.Unlock()
		cb.OnFailure(uid, "not registered")
		return
	}
	options, session, err := a.wa.BeginLogin(user)
	if err != nil {
		a.mu.Unlock()
		a.logger.Error("failed to begin login", "uid", uid, "error", err)
		cb.OnFailure(uid, "authentication unavailable")
		return
	}
	a.exchange[uid] = &waExchange{
		session:  session,
		conn:     conn,
		cb:       cb,
		deadline: time.Now().Add(webauthnExchangeTTL),
	}
	a.mu.Unlock()

	a.sendOptions(uid, conn, cb, "webauthnAuthenticate", options)
}

func (a *WebAuthnAuthenticator) sendOptions(uid string, conn Conn, cb Callback, key string, options any) {
	payload, err := json.Marshal(map[string]any{key: options})
	if err != nil {
		a.dropExchange(uid)
		cb.OnFailure(uid, "internal error")
		return
	}
	if err := conn.Send(payload); err != nil {
		a.dropExchange(uid)
		a.logger.Warn("failed to send webauthn options", "uid", uid, "error", err)
		cb.OnFailure(uid, "connection lost")
	}
}

func (a *WebAuthnAuthenticator) dropExchange(uid string) {
	a.mu.Lock()
	delete(a.exchange, uid)
	a.mu.Unlock()
}

// HandleClientResponse implements ResponseRouter: it finishes the pending
// ceremony for uid with the client's raw response. Returns false when no
// exchange is in flight for uid.
func (a *WebAuthnAuthenticator) HandleClientResponse(uid string, raw []byte) bool {
	a.mu.Lock()
	ex, ok := a.exchange[uid]
	if ok && time.Now().After(ex.deadline) {
		delete(a.exchange, uid)
		ok = false
	}
	if !ok {
		a.mu.Unlock()
		return false
	}
	delete(a.exchange, uid)
	user := a.userEntry(uid)
	a.mu.Unlock()

	if ex.register {
		a.finishRegistration(uid, user, ex, raw)
	} else {
		a.finishLogin(uid, user, ex, raw)
	}
	return true
}

func (a *WebAuthnAuthenticator) finishRegistration(uid string, user *waUser, ex *waExchange, raw []byte) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(raw))
	if err != nil {
		a.logger.Warn("unparseable registration response", "uid", uid, "error", err)
		ex.cb.OnFailure(uid, "invalid registration response")
		return
	}

	cred, err := a.wa.CreateCredential(user, *ex.session, parsed)
	if err != nil {
		a.logger.Warn("credential creation failed", "uid", uid, "error", err)
		ex.cb.OnFailure(uid, "registration failed")
		return
	}

	a.mu.Lock()
	user.Creds = append(user.Creds, storedCredential{Credential: *cred, StoredAt: time.Now()})
	a.mu.Unlock()

	a.logger.Info("webauthn credential registered", "uid", uid)
	ex.cb.OnRegistered(uid)
}

func (a *WebAuthnAuthenticator) finishLogin(uid string, user *waUser, ex *waExchange, raw []byte) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(raw))
	if err != nil {
		a.logger.Warn("unparseable login response", "uid", uid, "error", err)
		ex.cb.OnFailure(uid, "invalid authentication response")
		return
	}

	cred, err := a.wa.ValidateLogin(user, *ex.session, parsed)
	if err != nil {
		a.logger.Warn("webauthn login failed", "uid", uid, "error", err)
		ex.cb.OnFailure(uid, "authentication failed")
		return
	}

	// Persist the updated sign counter.
	a.mu.Lock()
	for i := range user.Creds {
		if bytes.Equal(user.Creds[i].Credential.ID, cred.ID) {
			user.Creds[i].Credential.Authenticator.SignCount = cred.Authenticator.SignCount
			break
		}
	}
	a.mu.Unlock()

	a.logger.Info("webauthn login successful", "uid", uid)
	ex.cb.OnAuthenticated(uid)
}

// ClientClosed drops any exchange whose connection matches the departing
// client address.
func (a *WebAuthnAuthenticator) ClientClosed(client string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for uid, ex := range a.exchange {
		if ex.conn.RemoteAddr() == client {
			delete(a.exchange, uid)
		}
	}
}

// SaveTo writes all user entries and credentials to path as JSON.
func (a *WebAuthnAuthenticator) SaveTo(path string) error {
	a.mu.Lock()
	entries := make([]*waUser, 0, len(a.users))
	for _, u := range a.users {
		entries = append(entries, u)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding webauthn credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing webauthn credentials: %w", err)
	}
	return nil
}

// LoadFrom replaces the user table with entries read from path. A missing
// file yields an empty table.
func (a *WebAuthnAuthenticator) LoadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading webauthn credentials: %w", err)
	}
	var entries []*waUser
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decoding webauthn credentials: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.users = make(map[string]*waUser, len(entries))
	for _, u := range entries {
		a.users[u.UID] = u
	}
	return nil
}
