// ABOUTME: WebSocket endpoint: handshake authentication, per-connection read loop and teardown
// ABOUTME: Inbound frames are rate limited and handed to the discussion dispatcher in order

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/2389/discuss-gateway/internal/protocol"
	"github.com/2389/discuss-gateway/internal/store"
)

// Inbound frame limits
const (
	maxFramePayloadBytes   = 64 << 10
	maxDecodeErrorsPerConn = 8
)

// websocketHandler returns the /ws handler.
func (g *Gateway) websocketHandler() http.Handler {
	return websocket.Server{
		Handshake: g.checkOrigin,
		Handler:   g.serveConn,
	}
}

// checkOrigin accepts any origin unless server.allowed_origins is set.
func (g *Gateway) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	allowed := g.config.Server.AllowedOrigins
	if len(allowed) == 0 {
		return nil
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return errors.New("missing origin")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if !slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, origin) }) {
		return fmt.Errorf("origin %q not allowed", origin)
	}
	cfg.Origin = u
	return nil
}

func (g *Gateway) serveConn(ws *websocket.Conn) {
	r := ws.Request()
	ws.MaxPayloadBytes = maxFramePayloadBytes

	identity := g.authenticator.AuthenticateRequest(r)
	if identity.IsAuthenticated() {
		err := g.directory.Remember(r.Context(), store.Profile{
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
			Avatar:      identity.AvatarRef,
		})
		if err != nil {
			g.logger.Warn("failed to record profile", "user_id", identity.UserID, "error", err)
		}
	}

	c := newConnection(uuid.New().String(), ws, identity, g.config.Chat.OutboundBuffer, g.logger)
	g.registry.add(c)
	go c.writeLoop()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	// Close before leaving: a closed member can no longer join a room
	defer func() {
		c.Close(reasonClientClosed)
		g.service.Disconnect(c)
		g.registry.remove(c)
	}()

	g.readLoop(ctx, c)
}

func (g *Gateway) readLoop(ctx context.Context, c *Connection) {
	limiter := rate.NewLimiter(rate.Limit(g.config.Chat.EventsPerSecond), g.config.Chat.EventBurst)
	decodeErrors := 0

	for {
		var f protocol.Frame
		if err := websocket.JSON.Receive(c.ws, &f); err != nil {
			if !isDecodeError(err) {
				if !errors.Is(err, io.EOF) {
					c.logger.Debug("read failed", "error", err)
				}
				return
			}
			decodeErrors++
			g.metrics.ScopedError(protocol.KindValidation)
			c.Deliver(protocol.ScopedError("", protocol.KindValidation, "invalid frame"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				c.logger.Warn("too many invalid frames, disconnecting")
				return
			}
			continue
		}
		decodeErrors = 0
		c.touch(g.registry.now())

		// Back-pressure: wait for a token rather than dropping the frame
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		g.service.Dispatch(ctx, c, f)
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, websocket.ErrFrameTooLarge)
}
