// ABOUTME: Tests for the WebAuthn authenticator's routing and credential persistence
// ABOUTME: Ceremony options and persistence only; assertions need a real authenticator

package authflow

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWebAuthn(t *testing.T) *WebAuthnAuthenticator {
	t.Helper()
	wa, err := NewWebAuthn("pushgate test", "localhost", []string{"http://localhost"}, nil)
	require.NoError(t, err)
	return wa
}

func TestWebAuthnRegisterSendsOptions(t *testing.T) {
	wa := newTestWebAuthn(t)
	conn := &memConn{addr: "10.0.0.1:4000"}
	cb := &recordingCallback{}

	require.False(t, wa.IsRegistered("alice"))
	wa.Register(context.Background(), "alice", conn, cb)

	require.Len(t, conn.sent, 1, "registration must send one options message")
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(conn.sent[0], &msg))
	assert.Contains(t, msg, "webauthnRegister")

	// A user with a pending exchange but no finished ceremony is still
	// unregistered.
	assert.False(t, wa.IsRegistered("alice"))
}

func TestWebAuthnAuthenticateUnknownUser(t *testing.T) {
	wa := newTestWebAuthn(t)
	conn := &memConn{addr: "10.0.0.1:4000"}
	cb := &recordingCallback{}

	wa.Authenticate(context.Background(), "nobody", conn, cb)

	assert.Empty(t, conn.sent)
	require.Len(t, cb.failures, 1)
}

func TestWebAuthnGarbageResponse(t *testing.T) {
	wa := newTestWebAuthn(t)
	conn := &memConn{addr: "10.0.0.1:4000"}
	cb := &recordingCallback{}

	wa.Register(context.Background(), "alice", conn, cb)

	// A malformed ceremony response is claimed (it belongs to the pending
	// exchange) but fails the ceremony.
	assert.True(t, wa.HandleClientResponse("alice", []byte("not json")))
	require.Len(t, cb.failures, 1)

	// With the exchange gone, further responses are not claimed.
	assert.False(t, wa.HandleClientResponse("alice", []byte("{}")))
}

func TestWebAuthnClientClosedDropsExchange(t *testing.T) {
	wa := newTestWebAuthn(t)
	conn := &memConn{addr: "10.0.0.1:4000"}
	cb := &recordingCallback{}

	wa.Register(context.Background(), "alice", conn, cb)
	wa.ClientClosed("10.0.0.1:4000")

	assert.False(t, wa.HandleClientResponse("alice", []byte("{}")))
}

func TestWebAuthnPersistenceRoundTrip(t *testing.T) {
	wa := newTestWebAuthn(t)

	// Seed a user with a stored credential as a finished ceremony would.
	wa.mu.Lock()
	user := wa.userEntry("alice")
	user.Creds = append(user.Creds, storedCredential{
		Credential: webauthn.Credential{
			ID:        []byte("credential-id"),
			PublicKey: []byte("public-key-bytes"),
		},
		StoredAt: time.Now().UTC(),
	})
	handle := append([]byte(nil), user.Handle...)
	wa.mu.Unlock()

	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, wa.SaveTo(path))

	restored := newTestWebAuthn(t)
	require.NoError(t, restored.LoadFrom(path))

	assert.True(t, restored.IsRegistered("alice"))
	restored.mu.Lock()
	got := restored.users["alice"]
	restored.mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, handle, got.Handle, "user handle must survive persistence")
	require.Len(t, got.Creds, 1)
	assert.Equal(t, []byte("credential-id"), got.Creds[0].Credential.ID)
	assert.False(t, got.Creds[0].StoredAt.IsZero())
}

func TestWebAuthnLoadFromMissingFile(t *testing.T) {
	wa := newTestWebAuthn(t)
	require.NoError(t, wa.LoadFrom(filepath.Join(t.TempDir(), "absent.json")))
	assert.False(t, wa.IsRegistered("alice"))
}
