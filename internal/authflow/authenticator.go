// ABOUTME: Registration-or-authenticate Authenticator abstraction for multi-step protocols
// ABOUTME: Results are reported through a callback so round trips can be asynchronous

package authflow

import "context"

// Conn is the duplex channel an Authenticator uses for protocol round
// trips with the client.
type Conn interface {
	RemoteAddr() string
	Send(data []byte) error
}

// Callback receives the asynchronous outcome of an Authenticator exchange.
// Protocols needing several round trips with the client (public-key
// challenge protocols in particular) cannot report through a return value.
type Callback interface {
	OnRegistered(uid string)
	OnAuthenticated(uid string)
	OnFailure(uid string, reason string)
}

// Authenticator generalizes Method for protocols that distinguish
// first-contact registration from subsequent authentication.
type Authenticator interface {
	// IsRegistered reports whether uid has completed registration.
	IsRegistered(uid string) bool

	// Register runs the registration protocol for a new uid, reporting
	// through cb when the (possibly multi-message) exchange settles.
	Register(ctx context.Context, uid string, conn Conn, cb Callback)

	// Authenticate runs the authentication protocol for a registered
	// uid, reporting through cb.
	Authenticate(ctx context.Context, uid string, conn Conn, cb Callback)
}

// ResponseRouter is implemented by Authenticators whose protocols need
// client replies delivered mid-exchange. The route layer forwards raw
// messages here while an exchange is in flight; the return value reports
// whether the message was consumed.
type ResponseRouter interface {
	HandleClientResponse(uid string, raw []byte) bool
}

// Identify routes a uid to registration or authentication, the single
// entry point route code should use.
func Identify(ctx context.Context, a Authenticator, uid string, conn Conn, cb Callback) {
	if a.IsRegistered(uid) {
		a.Authenticate(ctx, uid, conn, cb)
	} else {
		a.Register(ctx, uid, conn, cb)
	}
}

// NoAuth reports success for everyone without any exchange. Only for
// trusted or internal test deployments.
type NoAuth struct{}

// IsRegistered implements Authenticator.
func (NoAuth) IsRegistered(string) bool { return true }

// Register implements Authenticator.
func (NoAuth) Register(_ context.Context, uid string, _ Conn, cb Callback) {
	cb.OnRegistered(uid)
}

// Authenticate implements Authenticator.
func (NoAuth) Authenticate(_ context.Context, uid string, _ Conn, cb Callback) {
	cb.OnAuthenticated(uid)
}
