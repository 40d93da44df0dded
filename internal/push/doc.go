// ABOUTME: Package push manages server-initiated message delivery to connected clients
// ABOUTME: Registry + bounded per-client queues + a ping/pong liveness monitor

// Package push implements the server-push side of the gateway.
//
// Each connected client is represented by a Connection registered in the
// Registry under its remote address. Outbound messages go through a bounded
// per-connection Queue whose OverflowPolicy decides what happens when a slow
// client falls behind: drop the oldest, drop the newest, flush everything,
// or fail the connection outright.
//
// The Monitor keeps the registry honest: it queues a ping for every
// connection once per interval and evicts any connection that has not ponged
// back since the previous cycle. Liveness is judged on server receipt time
// only, never on anything the client claims.
//
// Producers never block on a slow consumer: Push and friends snapshot the
// connection set under a read lock and enqueue outside it.
package push
