// ABOUTME: A live WebSocket client with a bounded outbound queue and a single writer goroutine
// ABOUTME: Delivery never blocks; a client that cannot keep up is disconnected

package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	"github.com/2389/discuss-gateway/internal/auth"
	"github.com/2389/discuss-gateway/internal/discussion"
	"github.com/2389/discuss-gateway/internal/protocol"
)

// writeTimeout bounds a single frame write to a client.
const writeTimeout = 10 * time.Second

// Close reasons
const (
	reasonClientClosed = "client closed"
	reasonSlowClient   = "slow client"
	reasonIdle         = "idle"
	reasonWriteFailed  = "write failed"
	reasonShutdown     = "shutdown"
)

// Connection is one WebSocket client.
type Connection struct {
	id       string
	identity auth.Identity
	ws       *websocket.Conn
	logger   *slog.Logger

	out  chan protocol.Event
	done chan struct{}

	closeOnce sync.Once
	reason    string

	// unix nanos of the last inbound frame
	lastActivity atomic.Int64

	onClose func(c *Connection, reason string)
}

var _ discussion.Conn = (*Connection)(nil)

func newConnection(id string, ws *websocket.Conn, identity auth.Identity, buffer int, logger *slog.Logger) *Connection {
	if buffer < 1 {
		buffer = 1
	}
	c := &Connection{
		id:       id,
		identity: identity,
		ws:       ws,
		logger:   logger.With("conn_id", id),
		out:      make(chan protocol.Event, buffer),
		done:     make(chan struct{}),
	}
	c.touch(time.Now())
	return c
}

// ID returns the connection's id.
func (c *Connection) ID() string { return c.id }

// DisplayName returns the name announced to rooms.
func (c *Connection) DisplayName() string { return c.identity.Name() }

// Identity returns who is connected.
func (c *Connection) Identity() auth.Identity { return c.identity }

// Done is closed once the connection is closing.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Deliver queues ev for the writer. A full queue closes the connection.
// It may be called with the room manager's lock held, so it must not block.
func (c *Connection) Deliver(ev protocol.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- ev:
		return true
	default:
		c.logger.Warn("outbound queue full, disconnecting", "type", ev.Type, "buffer", cap(c.out))
		c.Close(reasonSlowClient)
		return false
	}
}

// Close marks the connection closed. The writer closes the socket, which ends the reader.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
		if c.onClose != nil {
			c.onClose(c, reason)
		}
	})
}

func (c *Connection) touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

func (c *Connection) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActivity.Load()))
}

// writeLoop is the only goroutine that writes to the socket.
func (c *Connection) writeLoop() {
	defer func() {
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			f, err := ev.Frame()
			if err != nil {
				c.logger.Error("failed to encode event", "type", ev.Type, "error", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.JSON.Send(c.ws, f); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close(reasonWriteFailed)
				return
			}
		}
	}
}
