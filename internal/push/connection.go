// ABOUTME: Connection tracks one registered push client: its queue, state and pong time
// ABOUTME: State transitions are CAS-guarded so concurrent removals settle on one winner

package push

import (
	"sync/atomic"
	"time"
)

// State is the lifecycle stage of a push connection.
type State int32

const (
	// StateOpen accepts pushes.
	StateOpen State = iota
	// StateClosing was removed by the application or a client disconnect.
	StateClosing
	// StateFailed overflowed its queue under FailConnection.
	StateFailed
	// StateEvicted missed a liveness pong.
	StateEvicted
	// StateRemoved is terminal; the connection is out of the registry.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	case StateEvicted:
		return "evicted"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Connection is one registered push client.
type Connection struct {
	remoteAddr string
	uid        string
	queue      *Queue

	state    atomic.Int32
	lastPong atomic.Int64 // unix nanos, server receipt time
}

func newConnection(remoteAddr, uid string, capacity int, policy OverflowPolicy) *Connection {
	c := &Connection{
		remoteAddr: remoteAddr,
		uid:        uid,
		queue:      newQueue(capacity, policy),
	}
	c.state.Store(int32(StateOpen))
	return c
}

// RemoteAddr returns the client address the connection is keyed by.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// UID returns the authenticated user the connection belongs to, or "" for
// connections registered without one.
func (c *Connection) UID() string { return c.uid }

// Queue returns the connection's outbound queue.
func (c *Connection) Queue() *Queue { return c.queue }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// transition moves from one state to another; reports whether this call won.
func (c *Connection) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Connection) markPong(at time.Time) {
	c.lastPong.Store(at.UnixNano())
}

func (c *Connection) lastPongTime() time.Time {
	n := c.lastPong.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
