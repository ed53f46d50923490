// ABOUTME: REST fallback for clients without a WebSocket plus the live room listing
// ABOUTME: Shares the discussion service, so mutations are broadcast to live rooms

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/discuss-gateway/internal/auth"
	"github.com/2389/discuss-gateway/internal/discussion"
	"github.com/2389/discuss-gateway/internal/protocol"
	"github.com/2389/discuss-gateway/internal/room"
)

// maxRequestBodyBytes caps REST request bodies.
const maxRequestBodyBytes = 64 << 10

// HistoryResponse is the body of GET /api/topics/{topicID}/messages.
type HistoryResponse struct {
	Messages []protocol.MessageView `json:"messages"`
	Count    int                    `json:"count"`
}

// PostMessageRequest is the body of POST /api/topics/{topicID}/messages.
type PostMessageRequest struct {
	Body    string `json:"body" validate:"required"`
	ReplyTo string `json:"replyTo,omitempty" validate:"omitempty,max=64"`
}

// ReactionRequest is the body of POST /api/messages/{messageID}/reactions.
type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required,emoji"`
}

// ReactionsResponse lists a message's reactions after a change.
type ReactionsResponse struct {
	MessageID string                  `json:"messageId"`
	Reactions []protocol.ReactionView `json:"reactions"`
}

// RoomsResponse is the body of GET /api/rooms.
type RoomsResponse struct {
	Rooms []room.Info `json:"rooms"`
}

// ErrorResponse is the body of every failed REST call.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// registerAPIRoutes registers the REST routes behind optional authentication.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	withAuth := auth.OptionalAuthMiddleware(g.authenticator)

	mux.Handle("GET /api/topics/{topicID}/messages", withAuth(http.HandlerFunc(g.handleHistory)))
	mux.Handle("POST /api/topics/{topicID}/messages", withAuth(http.HandlerFunc(g.handlePostMessage)))
	mux.Handle("POST /api/messages/{messageID}/reactions", withAuth(http.HandlerFunc(g.handleReaction)))
	mux.Handle("DELETE /api/messages/{messageID}", withAuth(http.HandlerFunc(g.handleDeleteMessage)))
	mux.HandleFunc("GET /api/rooms", g.handleListRooms)
}

// handleHistory handles GET /api/topics/{topicID}/messages?limit=&before=.
// before is an RFC 3339 timestamp; only older messages are returned.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topicID")

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendAPIError(w, fmt.Errorf("%w: limit must be a positive integer", protocol.ErrInvalid))
			return
		}
		limit = parsed
	}

	var before time.Time
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		parsed, err := time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			g.sendAPIError(w, fmt.Errorf("%w: before must be an RFC 3339 timestamp", protocol.ErrInvalid))
			return
		}
		before = parsed
	}

	msgs, count, err := g.service.History(r.Context(), topicID, limit, before)
	if err != nil {
		g.sendAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Messages: g.service.Views(msgs), Count: count})
}

// handlePostMessage handles POST /api/topics/{topicID}/messages.
func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if !id.IsAuthenticated() {
		g.sendAPIError(w, discussion.ErrAuthRequired)
		return
	}

	var req PostMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendAPIError(w, err)
		return
	}

	msg, err := g.service.Post(r.Context(), id, r.PathValue("topicID"), req.Body, req.ReplyTo)
	if err != nil {
		g.sendAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, g.service.View(msg))
}

// handleReaction handles POST /api/messages/{messageID}/reactions.
func (g *Gateway) handleReaction(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if !id.IsAuthenticated() {
		g.sendAPIError(w, discussion.ErrAuthRequired)
		return
	}

	var req ReactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendAPIError(w, err)
		return
	}

	messageID := r.PathValue("messageID")
	reactions, err := g.service.React(r.Context(), id, messageID, req.Emoji)
	if err != nil {
		g.sendAPIError(w, err)
		return
	}

	views := make([]protocol.ReactionView, len(reactions))
	for i, rc := range reactions {
		views[i] = protocol.ReactionView{Emoji: rc.Emoji, UserID: rc.UserID, CreatedAt: rc.CreatedAt}
	}
	writeJSON(w, http.StatusOK, ReactionsResponse{MessageID: messageID, Reactions: views})
}

// handleDeleteMessage handles DELETE /api/messages/{messageID}.
func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if err := g.service.Delete(r.Context(), id, r.PathValue("messageID")); err != nil {
		g.sendAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListRooms handles GET /api/rooms.
func (g *Gateway) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RoomsResponse{Rooms: g.rooms.Rooms()})
}

// decodeBody reads a size-limited JSON body into dst and validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body too large", protocol.ErrInvalid)
		}
		return fmt.Errorf("%w: reading request body: %v", protocol.ErrInvalid, err)
	}
	return protocol.Decode(body, dst)
}

// sendAPIError maps err to its kind and status and writes a JSON error response.
func (g *Gateway) sendAPIError(w http.ResponseWriter, err error) {
	kind := discussion.Kind(err)
	g.metrics.ScopedError(kind)
	if kind == protocol.KindTransient {
		g.logger.Warn("request failed", "error", err)
	}
	writeJSON(w, protocol.HTTPStatus(kind), ErrorResponse{Error: discussion.Detail(err), Kind: kind})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
