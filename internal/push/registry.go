// ABOUTME: Registry is the set of live push connections keyed by client address
// ABOUTME: Fan-out snapshots under RLock and enqueues outside it; removal is idempotent

package push

import (
	"errors"
	"log/slog"
	"sync"
)

// Registry errors.
var (
	ErrAlreadyRegistered = errors.New("client already registered")
	ErrNotConnected      = errors.New("client not connected")
)

// Handler consumes an inbound client message and returns zero or more
// replies to queue back to that client.
type Handler func(remoteAddr string, data []byte) [][]byte

// Registry tracks connected push clients and fans messages out to them.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	capacity int
	policy   OverflowPolicy
	handler  Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Every connection it registers gets
// a queue of the given capacity and overflow policy.
func NewRegistry(capacity int, policy OverflowPolicy, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Registry{
		conns:    make(map[string]*Connection),
		capacity: capacity,
		policy:   policy,
		logger:   logger.With("component", "push"),
	}
}

// SetHandler installs the inbound message handler. Call before serving.
func (r *Registry) SetHandler(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// Register adds a connection for remoteAddr. A second registration for the
// same address fails with ErrAlreadyRegistered until the first is removed.
func (r *Registry) Register(remoteAddr, uid string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[remoteAddr]; exists {
		return nil, ErrAlreadyRegistered
	}

	conn := newConnection(remoteAddr, uid, r.capacity, r.policy)
	r.conns[remoteAddr] = conn

	r.logger.Info("push client registered", "remote", remoteAddr, "uid", uid, "total", len(r.conns))
	return conn, nil
}

// Push queues data on every open connection.
func (r *Registry) Push(data []byte) {
	for _, conn := range r.snapshot() {
		r.enqueue(conn, Message{Data: data})
	}
}

// PushTo queues data on the connection registered for remoteAddr.
func (r *Registry) PushTo(remoteAddr string, data []byte) error {
	r.mu.RLock()
	conn, ok := r.conns[remoteAddr]
	r.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	r.enqueue(conn, Message{Data: data})
	return nil
}

// PushFiltered queues data on every open connection the predicate accepts.
func (r *Registry) PushFiltered(accept func(conn *Connection) bool, data []byte) {
	for _, conn := range r.snapshot() {
		if accept(conn) {
			r.enqueue(conn, Message{Data: data})
		}
	}
}

// Remove drops remoteAddr from the registry after a normal close. It is
// idempotent: concurrent and repeated calls settle on a single removal.
func (r *Registry) Remove(remoteAddr string) bool {
	return r.remove(remoteAddr, StateClosing, "closed")
}

// Evict drops remoteAddr for failing the liveness check.
func (r *Registry) Evict(remoteAddr string) bool {
	return r.remove(remoteAddr, StateEvicted, "missed pong")
}

func (r *Registry) fail(remoteAddr string) bool {
	return r.remove(remoteAddr, StateFailed, "queue overflow")
}

func (r *Registry) remove(remoteAddr string, via State, reason string) bool {
	r.mu.Lock()
	conn, ok := r.conns[remoteAddr]
	if ok {
		delete(r.conns, remoteAddr)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return false
	}
	// Only the call that pulled the entry out of the map gets here, but the
	// CAS still pins down which terminal path the connection took.
	if !conn.transition(StateOpen, via) {
		return false
	}
	conn.transition(via, StateRemoved)
	conn.queue.Close()

	r.logger.Info("push client removed", "remote", remoteAddr, "reason", reason, "total", total)
	return true
}

// MarkPong records a liveness pong from remoteAddr, stamped with the server
// receipt time.
func (r *Registry) MarkPong(remoteAddr string) {
	r.mu.RLock()
	conn, ok := r.conns[remoteAddr]
	r.mu.RUnlock()
	if ok {
		conn.markPong(timeNow())
	}
}

// HandleClientMessage routes an inbound message to the installed handler and
// queues any replies. A panicking handler is contained: the message is
// dropped and the connection stays up.
func (r *Registry) HandleClientMessage(remoteAddr string, data []byte) {
	r.mu.RLock()
	conn, ok := r.conns[remoteAddr]
	handler := r.handler
	r.mu.RUnlock()
	if !ok || handler == nil {
		return
	}

	replies := r.invoke(handler, remoteAddr, data)
	for _, reply := range replies {
		r.enqueue(conn, Message{Data: reply})
	}
}

func (r *Registry) invoke(handler Handler, remoteAddr string, data []byte) (replies [][]byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("client message handler panicked", "remote", remoteAddr, "panic", rec)
			replies = nil
		}
	}()
	return handler(remoteAddr, data)
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Connection returns the connection for remoteAddr, if registered.
func (r *Registry) Connection(remoteAddr string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[remoteAddr]
	return conn, ok
}

func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) enqueue(conn *Connection, msg Message) {
	err := conn.queue.Enqueue(msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrQueueClosed):
		// Raced a removal; nothing to do.
	case errors.Is(err, ErrQueueOverflow):
		r.logger.Warn("push queue overflow", "remote", conn.remoteAddr)
		r.fail(conn.remoteAddr)
	}
}
