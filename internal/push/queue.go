// ABOUTME: Bounded per-connection outbound queue with pluggable overflow policy
// ABOUTME: Enqueue never blocks; Next blocks until a message, close or cancellation

package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Queue errors.
var (
	ErrQueueOverflow = errors.New("outbound queue overflow")
	ErrQueueClosed   = errors.New("outbound queue closed")
)

// DefaultQueueCapacity is used when no capacity is configured.
const DefaultQueueCapacity = 64

// OverflowPolicy selects what Enqueue does when the queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued message to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest silently discards the message being enqueued.
	DropNewest
	// DropAll discards the queue contents and the new message.
	DropAll
	// FailConnection reports ErrQueueOverflow; the registry removes the
	// connection in response.
	FailConnection
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "dropOldest"
	case DropNewest:
		return "dropNewest"
	case DropAll:
		return "dropAll"
	case FailConnection:
		return "failConnection"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy converts a config string into a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "dropOldest", "":
		return DropOldest, nil
	case "dropNewest":
		return DropNewest, nil
	case "dropAll":
		return DropAll, nil
	case "failConnection":
		return FailConnection, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Message is one outbound item. Ping messages are delivered as WebSocket
// ping control frames by the transport layer; everything else is data.
type Message struct {
	Ping bool
	Data []byte
}

// Queue is the bounded outbound buffer of one connection.
type Queue struct {
	mu       sync.Mutex
	items    []Message
	capacity int
	policy   OverflowPolicy
	closed   bool
	signal   chan struct{}
}

func newQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		policy:   policy,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a message, applying the overflow policy when full. It never
// blocks. ErrQueueOverflow is only returned under FailConnection.
func (q *Queue) Enqueue(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.items) >= q.capacity {
		switch q.policy {
		case DropOldest:
			q.items = q.items[1:]
		case DropNewest:
			return nil
		case DropAll:
			q.items = q.items[:0]
			return nil
		case FailConnection:
			return ErrQueueOverflow
		}
	}

	q.items = append(q.items, msg)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until a message is available, the queue is closed, or ctx is
// cancelled. The second result is false when no message will ever follow.
func (q *Queue) Next(ctx context.Context) (Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, true
		}
		if q.closed {
			q.mu.Unlock()
			return Message{}, false
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, false
		case <-q.signal:
		}
	}
}

// Close marks the queue dead. Pending messages are discarded; Enqueue and
// Next fail from now on. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len reports the number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain pops everything currently buffered without waiting.
func (q *Queue) drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
