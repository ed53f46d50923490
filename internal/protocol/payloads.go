// ABOUTME: Payload types for inbound and outbound discussion events
// ABOUTME: Inbound payloads carry validator tags; outbound payloads mirror the persisted message shape

package protocol

import (
	"encoding/json"
	"time"
)

// JoinPayload asks to enter a topic's room. TopicMetadata is opaque and kept
// with the room when this join creates it.
type JoinPayload struct {
	TopicID       string          `json:"topicId" validate:"required,max=128,topicid"`
	TopicMetadata json.RawMessage `json:"topicMetadata,omitempty"`
}

// SendPayload publishes a message to the current room.
type SendPayload struct {
	TopicID string `json:"topicId" validate:"omitempty,max=128,topicid"`
	Body    string `json:"body" validate:"required"`
	ReplyTo string `json:"replyTo,omitempty" validate:"omitempty,max=64"`
}

// AddReactionPayload sets the caller's reaction on a message.
type AddReactionPayload struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
	Emoji     string `json:"emoji" validate:"required,emoji"`
}

// DeletePayload soft-deletes one of the caller's messages.
type DeletePayload struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
}

// ReactionView is a reaction as sent to clients.
type ReactionView struct {
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageView is a persisted message as sent to clients.
type MessageView struct {
	ID         string         `json:"id"`
	TopicID    string         `json:"topicId"`
	AuthorID   string         `json:"authorId"`
	AuthorName string         `json:"authorName"`
	Avatar     string         `json:"avatar,omitempty"`
	Body       string         `json:"body"`
	HTML       string         `json:"html,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	EditedAt   *time.Time     `json:"editedAt,omitempty"`
	Deleted    bool           `json:"deleted"`
	DeletedAt  *time.Time     `json:"deletedAt,omitempty"`
	ReplyTo    string         `json:"replyTo,omitempty"`
	Reactions  []ReactionView `json:"reactions"`
}

// HistoryPayload is delivered to a joiner only.
type HistoryPayload struct {
	TopicID  string        `json:"topicId"`
	Messages []MessageView `json:"messages"`
}

// NewMessagePayload announces an appended message to the room.
type NewMessagePayload struct {
	Message MessageView `json:"message"`
}

// PresencePayload is used by joined, left, typingStarted and typingStopped.
type PresencePayload struct {
	DisplayName string `json:"displayName"`
}

// OccupancyPayload carries the live member count of a room.
type OccupancyPayload struct {
	TopicID string `json:"topicId"`
	Count   int    `json:"count"`
}

// ReactionUpdatedPayload carries a message's full reaction list after a change.
type ReactionUpdatedPayload struct {
	MessageID string         `json:"messageId"`
	Reactions []ReactionView `json:"reactions"`
}

// MessageDeletedPayload announces a soft delete.
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

// ScopedErrorPayload is sent to the triggering connection only.
type ScopedErrorPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}
