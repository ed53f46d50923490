// Package gateway orchestrates the discuss-gateway server components.
//
// # Overview
//
// The gateway package owns the process-level wiring: it opens the store,
// builds the room manager, presence broadcaster, user directory, discussion
// service and retention scheduler, and exposes them over HTTP and gRPC.
//
// # Endpoints
//
//   - GET /ws - WebSocket endpoint for live topic rooms
//   - GET /api/topics/{topicID}/messages - History page (limit, before)
//   - POST /api/topics/{topicID}/messages - Post a message
//   - POST /api/messages/{messageID}/reactions - Set the caller's reaction
//   - DELETE /api/messages/{messageID} - Soft-delete the caller's message
//   - GET /api/rooms - Live rooms and their occupancy
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//   - GET /metrics - Prometheus metrics, when enabled
//
// The gRPC listener serves only grpc.health.v1 and reflection.
//
// # Connections
//
// Every WebSocket client is a [Connection] with a bounded outbound queue
// drained by a single writer goroutine. Delivery never blocks the sender: a
// client whose queue is full is disconnected. The reader decodes one frame at
// a time, waits on a per-connection token bucket and dispatches the frame to
// the discussion service, so a client's frames are handled in arrival order.
//
// Connections with no inbound frame for chat.idle_timeout are closed by a
// sweep that runs every chat.sweep_interval.
//
// # Authentication
//
// The handshake credential is read from the Authorization header, the
// access_token query parameter or the discuss_token cookie. Missing or
// invalid credentials never reject the upgrade; the client joins as a guest
// who can read history and watch rooms but cannot publish.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// On shutdown the health service reports NOT_SERVING, every connection is
// closed, the HTTP and gRPC servers stop and the store is closed.
//
// # Tailscale
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// listens there on :80 (HTTP) and :50051 (gRPC) instead of the configured
// TCP addresses.
package gateway
