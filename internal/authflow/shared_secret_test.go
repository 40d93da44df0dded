// ABOUTME: Tests for the shared-secret challenge/response exchange
// ABOUTME: Walks the full protocol including failure limits and isolation

package authflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/seaward/pushgate/internal/credstore"
)

func credMsg(password string) []byte {
	vals := make([]string, len(password))
	for i := 0; i < len(password); i++ {
		vals[i] = fmt.Sprintf("%d", password[i])
	}
	return []byte(`{"authCredentials": [` + strings.Join(vals, ",") + `]}`)
}

func userMsg(uid string) []byte {
	return []byte(`{"authUser": "` + uid + `"}`)
}

func newSharedSecret(t *testing.T) *SharedSecret {
	t.Helper()
	users := credstore.NewMemStore(100, nil)
	if err := users.AddUser("bob", []byte("hunter2"), []string{"user"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	return NewSharedSecret(users, 3, time.Minute, nil)
}

func payloadKey(t *testing.T, resp *Response, key string) string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal(resp.Payload, &m); err != nil {
		t.Fatalf("payload %q is not single-key JSON: %v", resp.Payload, err)
	}
	v, ok := m[key]
	if !ok {
		t.Fatalf("payload %q missing key %q", resp.Payload, key)
	}
	return v
}

func TestSharedSecret_UnknownUserRejected(t *testing.T) {
	m := newSharedSecret(t)

	resp := m.ProcessMessage("client-1", userMsg("mallory"))
	if resp == nil || resp.Kind != KindReject {
		t.Fatalf("ProcessMessage() = %+v, want Reject", resp)
	}
	if got := payloadKey(t, resp, "reject"); got != "unknown user" {
		t.Errorf("reject reason = %q, want %q", got, "unknown user")
	}
}

func TestSharedSecret_FullExchange(t *testing.T) {
	m := newSharedSecret(t)

	resp := m.ProcessMessage("client-1", userMsg("bob"))
	if resp == nil || resp.Kind != KindChallenge {
		t.Fatalf("authUser response = %+v, want Challenge", resp)
	}
	if got := payloadKey(t, resp, "requestCredentials"); got != "bob" {
		t.Errorf("challenge uid = %q, want %q", got, "bob")
	}

	resp = m.ProcessMessage("client-1", credMsg("hunter2"))
	if resp == nil || resp.Kind != KindAccept {
		t.Fatalf("authCredentials response = %+v, want Accept", resp)
	}
	if resp.UID != "bob" {
		t.Errorf("accept uid = %q, want %q", resp.UID, "bob")
	}

	// The exchange is spent: a second credentials message has nothing
	// pending to match.
	resp = m.ProcessMessage("client-1", credMsg("hunter2"))
	if resp == nil || resp.Kind != KindReject {
		t.Errorf("replayed credentials = %+v, want Reject", resp)
	}
}

func TestSharedSecret_MaxFailedThenReject(t *testing.T) {
	m := newSharedSecret(t)

	if resp := m.ProcessMessage("client-1", userMsg("bob")); resp.Kind != KindChallenge {
		t.Fatalf("authUser response kind = %v, want Challenge", resp.Kind)
	}

	// Two wrong guesses keep the exchange alive with an alert.
	for i := 1; i <= 2; i++ {
		resp := m.ProcessMessage("client-1", credMsg("wrong"))
		if resp == nil || resp.Kind != KindChallenge {
			t.Fatalf("wrong guess #%d = %+v, want Challenge", i, resp)
		}
		alert := payloadKey(t, resp, "alert")
		want := fmt.Sprintf("%d attempts left", 3-i)
		if !strings.Contains(alert, want) {
			t.Errorf("alert #%d = %q, want it to mention %q", i, alert, want)
		}
	}

	// Third failure is terminal.
	resp := m.ProcessMessage("client-1", credMsg("wrong"))
	if resp == nil || resp.Kind != KindReject {
		t.Fatalf("third wrong guess = %+v, want Reject", resp)
	}
	if got := payloadKey(t, resp, "reject"); got != "max attempts exceeded" {
		t.Errorf("reject reason = %q, want %q", got, "max attempts exceeded")
	}

	// The pending exchange is discarded with it.
	resp = m.ProcessMessage("client-1", credMsg("hunter2"))
	if resp == nil || resp.Kind != KindReject {
		t.Errorf("credentials after terminal reject = %+v, want Reject", resp)
	}
}

func TestSharedSecret_ClientIsolation(t *testing.T) {
	m := newSharedSecret(t)

	// Two clients run exchanges for the same uid concurrently.
	m.ProcessMessage("client-a", userMsg("bob"))
	m.ProcessMessage("client-b", userMsg("bob"))

	// client-a burns two attempts.
	for i := 0; i < 2; i++ {
		if resp := m.ProcessMessage("client-a", credMsg("wrong")); resp.Kind != KindChallenge {
			t.Fatalf("client-a wrong guess #%d kind = %v, want Challenge", i, resp.Kind)
		}
	}

	// client-b's counter is untouched: its first failure still alerts
	// with the full remaining count.
	resp := m.ProcessMessage("client-b", credMsg("wrong"))
	if resp == nil || resp.Kind != KindChallenge {
		t.Fatalf("client-b wrong guess = %+v, want Challenge", resp)
	}
	if alert := payloadKey(t, resp, "alert"); !strings.Contains(alert, "2 attempts left") {
		t.Errorf("client-b alert = %q, want full remaining count", alert)
	}

	// And client-b can still succeed.
	if resp := m.ProcessMessage("client-b", credMsg("hunter2")); resp.Kind != KindAccept {
		t.Errorf("client-b correct guess kind = %v, want Accept", resp.Kind)
	}
}

func TestSharedSecret_NewAuthUserReplacesPending(t *testing.T) {
	users := credstore.NewMemStore(100, nil)
	_ = users.AddUser("bob", []byte("hunter2"), nil)
	_ = users.AddUser("eve", []byte("apples"), nil)
	m := NewSharedSecret(users, 3, time.Minute, nil)

	m.ProcessMessage("client-1", userMsg("bob"))
	m.ProcessMessage("client-1", userMsg("eve"))

	// bob's password no longer matches; the pending exchange is eve's.
	if resp := m.ProcessMessage("client-1", credMsg("hunter2")); resp.Kind != KindChallenge {
		t.Errorf("bob credentials after replacement kind = %v, want Challenge (alert)", resp.Kind)
	}
	if resp := m.ProcessMessage("client-1", credMsg("apples")); resp.Kind != KindAccept || resp.UID != "eve" {
		t.Errorf("eve credentials = %+v, want Accept for eve", resp)
	}
}

func TestSharedSecret_PendingTimeout(t *testing.T) {
	users := credstore.NewMemStore(100, nil)
	_ = users.AddUser("bob", []byte("hunter2"), nil)
	m := NewSharedSecret(users, 3, time.Nanosecond, nil)

	m.ProcessMessage("client-1", userMsg("bob"))
	time.Sleep(time.Millisecond)

	resp := m.ProcessMessage("client-1", credMsg("hunter2"))
	if resp == nil || resp.Kind != KindReject {
		t.Fatalf("credentials after timeout = %+v, want Reject", resp)
	}
}

func TestSharedSecret_ClientClosedDropsPending(t *testing.T) {
	m := newSharedSecret(t)

	m.ProcessMessage("client-1", userMsg("bob"))
	m.ClientClosed("client-1")

	resp := m.ProcessMessage("client-1", credMsg("hunter2"))
	if resp == nil || resp.Kind != KindReject {
		t.Errorf("credentials after disconnect = %+v, want Reject", resp)
	}
}

func TestSharedSecret_MalformedMessage(t *testing.T) {
	m := newSharedSecret(t)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: "not json at all"},
		{name: "credential bytes out of range", raw: `{"authCredentials": [300]}`},
		{name: "credential bytes wrong type", raw: `{"authCredentials": "string"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := m.ProcessMessage("client-1", []byte(tt.raw))
			if resp == nil || resp.Kind != KindReject {
				t.Errorf("ProcessMessage(%q) = %+v, want Reject", tt.raw, resp)
			}
		})
	}

	// A message with no auth keys is simply not ours.
	if resp := m.ProcessMessage("client-1", []byte(`{"chat": "hello"}`)); resp != nil {
		t.Errorf("non-auth message = %+v, want nil", resp)
	}
}

func TestSharedSecret_Sweep(t *testing.T) {
	users := credstore.NewMemStore(100, nil)
	_ = users.AddUser("bob", []byte("hunter2"), nil)
	m := NewSharedSecret(users, 3, time.Nanosecond, nil)

	m.ProcessMessage("client-1", userMsg("bob"))
	time.Sleep(time.Millisecond)
	m.sweep()

	m.mu.Lock()
	n := len(m.pending)
	m.mu.Unlock()
	if n != 0 {
		t.Errorf("pending table has %d entries after sweep, want 0", n)
	}
}

func TestAlwaysAccept(t *testing.T) {
	var m AlwaysAccept

	resp := m.ProcessMessage("client-1", userMsg("anyone"))
	if resp == nil || resp.Kind != KindAccept || resp.UID != "anyone" {
		t.Errorf("ProcessMessage() = %+v, want Accept for anyone", resp)
	}

	if resp := m.ProcessMessage("client-1", []byte("garbage")); resp == nil || resp.Kind != KindReject {
		t.Errorf("malformed message = %+v, want Reject", resp)
	}

	if resp := m.ProcessMessage("client-1", []byte(`{"other": 1}`)); resp != nil {
		t.Errorf("non-auth message = %+v, want nil", resp)
	}
}
