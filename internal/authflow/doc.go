// Package authflow implements the pluggable challenge/response login
// protocol.
//
// A Method consumes one raw client message at a time and answers with a
// Challenge (keep talking), Accept (caller establishes a session) or
// Reject (attempt over) — or nothing, when the message is not part of the
// protocol. The same Method instance serves the document POST login flow
// and in-socket authentication over an open WebSocket; per-client protocol
// state is keyed by client address and invisible to other clients.
//
// Variants:
//
//   - AlwaysAccept: accepts any well-formed request (tests, demos).
//   - SharedSecret: two-message uid/password exchange backed by a
//     credstore.Store, with per-exchange failure limits and timeouts.
//   - Authenticator: register-or-authenticate generalization for
//     multi-round-trip protocols; WebAuthnAuthenticator wraps a passkey
//     ceremony, NoAuth short-circuits for trusted deployments.
package authflow
