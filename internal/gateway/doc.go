// Package gateway orchestrates the pushgate server components.
//
// # Overview
//
// The gateway package is the central coordinator of the pushgate server.
// It owns and wires all major components: the credential store, the session
// store, the active authentication method, the push connection registry and
// the HTTP routes that glue them together.
//
// # Routes
//
// The gateway mounts:
//
//   - POST /auth/login - Drive the active auth method; Accept issues a session
//   - GET /auth/logout - Revoke the session behind the cookie
//   - GET /ws - Promote an authenticated request to a push WebSocket
//   - GET /health - Liveness check
//
// Embedding applications can mount more handlers on Mux(), typically wrapped
// in Gate().RequireSession or Gate().RequireRole.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Run launches the liveness monitor and the session/pending-auth sweeps,
// serves HTTP (TLS when cert_file and key_file are configured) and shuts
// everything down when the context is cancelled:
//
//	cancel()
package gateway
