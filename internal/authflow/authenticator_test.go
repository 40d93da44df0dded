// ABOUTME: Tests for the Authenticator abstraction and NoAuth variant
// ABOUTME: Uses a recording callback and an in-memory Conn

package authflow

import (
	"context"
	"sync"
	"testing"
)

type recordingCallback struct {
	mu            sync.Mutex
	registered    []string
	authenticated []string
	failures      []string
}

func (c *recordingCallback) OnRegistered(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = append(c.registered, uid)
}

func (c *recordingCallback) OnAuthenticated(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = append(c.authenticated, uid)
}

func (c *recordingCallback) OnFailure(uid, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, uid+": "+reason)
}

type memConn struct {
	addr string
	sent [][]byte
}

func (c *memConn) RemoteAddr() string { return c.addr }
func (c *memConn) Send(data []byte) error {
	c.sent = append(c.sent, data)
	return nil
}

// fakeAuthenticator registers on first contact, authenticates afterwards.
type fakeAuthenticator struct {
	registered map[string]bool
}

func (f *fakeAuthenticator) IsRegistered(uid string) bool { return f.registered[uid] }

func (f *fakeAuthenticator) Register(_ context.Context, uid string, _ Conn, cb Callback) {
	f.registered[uid] = true
	cb.OnRegistered(uid)
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, uid string, _ Conn, cb Callback) {
	cb.OnAuthenticated(uid)
}

func TestIdentify_RoutesRegisterThenAuthenticate(t *testing.T) {
	a := &fakeAuthenticator{registered: make(map[string]bool)}
	cb := &recordingCallback{}
	conn := &memConn{addr: "10.0.0.1:1"}

	Identify(context.Background(), a, "newbie", conn, cb)
	if len(cb.registered) != 1 || cb.registered[0] != "newbie" {
		t.Fatalf("first Identify registered = %v, want [newbie]", cb.registered)
	}

	Identify(context.Background(), a, "newbie", conn, cb)
	if len(cb.authenticated) != 1 || cb.authenticated[0] != "newbie" {
		t.Fatalf("second Identify authenticated = %v, want [newbie]", cb.authenticated)
	}
	if len(cb.failures) != 0 {
		t.Errorf("failures = %v, want none", cb.failures)
	}
}

func TestNoAuth_AlwaysSucceeds(t *testing.T) {
	var a NoAuth
	cb := &recordingCallback{}
	conn := &memConn{addr: "10.0.0.1:1"}

	if !a.IsRegistered("anyone") {
		t.Error("IsRegistered() = false, want true")
	}

	Identify(context.Background(), a, "anyone", conn, cb)
	if len(cb.authenticated) != 1 {
		t.Errorf("authenticated = %v, want one entry", cb.authenticated)
	}
}
