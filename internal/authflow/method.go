// ABOUTME: AuthMethod interface plus the trivial AlwaysAccept variant
// ABOUTME: Methods are message-driven and keyed by the client's address

package authflow

// Method is a pluggable, message-driven login protocol. ProcessMessage is
// invoked with the client's address (the protocol state key) and one raw
// message; it returns nil when the message is not part of the auth
// protocol. Implementations must be safe for concurrent use across
// different client addresses.
type Method interface {
	ProcessMessage(client string, raw []byte) *Response
}

// ClientCloser is implemented by methods that keep per-client protocol
// state. The route layer calls ClientClosed when a client disconnects so
// half-finished exchanges are torn down.
type ClientCloser interface {
	ClientClosed(client string)
}

// AlwaysAccept accepts any well-formed login request. Test and demo
// deployments only.
type AlwaysAccept struct{}

// ProcessMessage implements Method.
func (AlwaysAccept) ProcessMessage(client string, raw []byte) *Response {
	msg, err := parseClientMessage(raw)
	if err != nil {
		return NewReject(rejectMsg("malformed message"))
	}
	if msg.AuthUser == "" {
		return nil
	}
	return NewAccept(msg.AuthUser, acceptMsg(msg.AuthUser))
}
