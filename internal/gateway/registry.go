// ABOUTME: Tracks live connections and closes the ones that have gone quiet
// ABOUTME: The idle sweep runs on a fixed interval until the gateway stops

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/discuss-gateway/internal/metrics"
)

// registry holds every open connection.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	idleTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func newRegistry(idleTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *registry {
	return &registry{
		conns:       make(map[string]*Connection),
		idleTimeout: idleTimeout,
		metrics:     m,
		logger:      logger.With("component", "connections"),
		now:         time.Now,
	}
}

// add registers c. It must be called before c joins any room.
func (r *registry) add(c *Connection) {
	c.onClose = r.closed

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
	r.logger.Info("client connected",
		"conn_id", c.ID(),
		"user_id", c.Identity().UserID,
		"authenticated", c.Identity().IsAuthenticated(),
		"total_connections", len(r.conns),
	)
}

func (r *registry) remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID()]; !ok {
		return
	}
	delete(r.conns, c.ID())
	r.logger.Info("client disconnected",
		"conn_id", c.ID(),
		"reason", c.reason,
		"total_connections", len(r.conns),
	)
}

// closed runs once per connection, possibly under the room manager's lock.
func (r *registry) closed(c *Connection, reason string) {
	switch reason {
	case reasonIdle:
		r.metrics.IdleClosed()
	case reasonSlowClient:
		r.metrics.SlowClientClosed()
	}
}

// Count returns the number of open connections.
func (r *registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// sweepLoop periodically closes idle connections.
func (r *registry) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep closes connections with no inbound frame for longer than the idle timeout.
func (r *registry) sweep() int {
	now := r.now()

	r.mu.RLock()
	var idle []*Connection
	for _, c := range r.conns {
		if c.idleFor(now) > r.idleTimeout {
			idle = append(idle, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range idle {
		r.logger.Debug("closing idle connection", "conn_id", c.ID(), "idle", c.idleFor(now))
		c.Close(reasonIdle)
	}
	return len(idle)
}

// closeAll closes every connection, used on shutdown.
func (r *registry) closeAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close(reasonShutdown)
	}
}
