// ABOUTME: Package gate is the HTTP surface: login, one-time cookies, WS promotion
// ABOUTME: It is the only layer that turns auth Accepts into sessions

// Package gate wires authentication onto HTTP routes.
//
// The login handler drives the active authflow.Method and is the single
// place an Accept becomes a session. Protected routes go through
// RequireSession/RequireRole, which consume the presented session token and
// set a fresh cookie on every request; a replayed cookie is refused.
// Programmatic clients may instead present an HS256 bearer token, which is
// stateless and does not rotate.
//
// HandlePromote upgrades an authenticated request to a WebSocket and
// registers it in the push registry. The token is checked before the
// upgrade and never again for the life of the socket; if the server wants
// the client to prove itself anew it pushes a startAuth prompt and the
// exchange runs in-band over the open connection.
package gate
