// ABOUTME: Monitor runs the ping cycle that keeps the registry honest about liveness
// ABOUTME: A connection that never pongs back between two cycles gets evicted

package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultPingInterval is used when no interval is configured.
const DefaultPingInterval = 30 * time.Second

// timeNow is swapped out in tests.
var timeNow = time.Now

// Monitor periodically pings every registered connection and evicts the ones
// that did not pong since the previous cycle. Pong receipt is stamped with
// server time, so a client lying about timestamps cannot dodge eviction.
type Monitor struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	// lastPing is touched only by the Run goroutine.
	lastPing map[string]time.Time
}

// NewMonitor creates a monitor over the given registry.
func NewMonitor(registry *Registry, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		logger:   logger.With("component", "push-monitor"),
		lastPing: make(map[string]time.Time),
	}
}

// Run executes ping cycles until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Debug("liveness monitor started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("liveness monitor stopped")
			return
		case <-ticker.C:
			m.cycle()
		}
	}
}

func (m *Monitor) cycle() {
	now := timeNow()
	live := make(map[string]bool)

	for _, conn := range m.registry.snapshot() {
		addr := conn.RemoteAddr()
		live[addr] = true

		if pingAt, pinged := m.lastPing[addr]; pinged && conn.lastPongTime().Before(pingAt) {
			m.logger.Warn("evicting unresponsive client", "remote", addr, "lastPing", pingAt)
			m.registry.Evict(addr)
			delete(m.lastPing, addr)
			continue
		}

		m.registry.enqueue(conn, Message{Ping: true, Data: []byte(uuid.NewString())})
		m.lastPing[addr] = now
	}

	// Forget connections that went away between cycles.
	for addr := range m.lastPing {
		if !live[addr] {
			delete(m.lastPing, addr)
		}
	}
}
