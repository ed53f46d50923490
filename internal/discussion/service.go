// ABOUTME: Discussion service tying the message store to live rooms
// ABOUTME: Posts, reactions, deletes and history loads with one retry on transient store failures

package discussion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/discuss-gateway/internal/auth"
	"github.com/2389/discuss-gateway/internal/dedupe"
	"github.com/2389/discuss-gateway/internal/directory"
	"github.com/2389/discuss-gateway/internal/metrics"
	"github.com/2389/discuss-gateway/internal/presence"
	"github.com/2389/discuss-gateway/internal/protocol"
	"github.com/2389/discuss-gateway/internal/room"
	"github.com/2389/discuss-gateway/internal/store"
)

// DefaultStoreTimeout bounds a single store call made on behalf of a client.
const DefaultStoreTimeout = 5 * time.Second

// Conn is a live client connection.
type Conn interface {
	room.Member
	Identity() auth.Identity
}

// Config tunes the service.
type Config struct {
	HistoryLimit   int
	RenderMarkdown bool
	StoreTimeout   time.Duration
}

// Deps are the collaborators the service drives.
type Deps struct {
	Store     store.Store
	Rooms     *room.Manager
	Presence  *presence.Broadcaster
	Directory *directory.Directory
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Sends suppresses repeated WebSocket sends; nil disables it
	Sends *dedupe.Cache
}

// Service implements every discussion operation for both WebSocket and REST callers.
type Service struct {
	cfg       Config
	store     store.Store
	rooms     *room.Manager
	presence  *presence.Broadcaster
	directory *directory.Directory
	metrics   *metrics.Metrics
	logger    *slog.Logger
	markdown  goldmark.Markdown
	sends     *dedupe.Cache

	topics keyedMutex
}

// New creates a Service.
func New(cfg Config, deps Deps) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		rooms:     deps.Rooms,
		presence:  deps.Presence,
		directory: deps.Directory,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "discussion"),
		sends:     deps.Sends,
	}
	if cfg.RenderMarkdown {
		// goldmark's default renderer omits raw HTML from the output
		s.markdown = goldmark.New()
	}
	return s
}

// Post appends a message to a topic and broadcasts it to the topic's room.
// Appends to one topic are serialised with their broadcast so every member
// sees messages in store order.
func (s *Service) Post(ctx context.Context, id auth.Identity, topicID, body, replyTo string) (*store.Message, error) {
	if !id.IsAuthenticated() {
		return nil, ErrAuthRequired
	}
	if !protocol.ValidTopicID(topicID) {
		return nil, fmt.Errorf("%w: topicId is not a valid topic id", protocol.ErrInvalid)
	}

	params := store.AppendParams{
		TopicID: topicID,
		Author:  s.author(ctx, id),
		Body:    body,
		ReplyTo: replyTo,
	}

	unlock := s.topics.Lock(topicID)
	defer unlock()

	var msg *store.Message
	err := s.retry(ctx, "Append", func(ctx context.Context) error {
		var err error
		msg, err = s.store.Append(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.MessageAppended()
	s.rooms.Broadcast(topicID, "", protocol.Event{
		Type:      protocol.TypeNewMessage,
		Payload:   protocol.NewMessagePayload{Message: s.View(msg)},
		MessageID: msg.ID,
	})
	s.logger.Debug("message posted", "topic_id", topicID, "message_id", msg.ID, "author_id", id.UserID)
	return msg, nil
}

// React replaces the caller's reaction on a message and broadcasts the
// message's full reaction list to its topic's room.
func (s *Service) React(ctx context.Context, id auth.Identity, messageID, emoji string) ([]store.Reaction, error) {
	if !id.IsAuthenticated() {
		return nil, ErrAuthRequired
	}
	if messageID == "" {
		return nil, fmt.Errorf("%w: messageId is required", protocol.ErrInvalid)
	}
	if err := protocol.ValidateReaction(emoji); err != nil {
		return nil, err
	}

	var msg *store.Message
	err := s.retry(ctx, "GetMessage", func(ctx context.Context) error {
		var err error
		msg, err = s.store.GetMessage(ctx, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}

	var reactions []store.Reaction
	err = s.retry(ctx, "SetReaction", func(ctx context.Context) error {
		var err error
		reactions, err = s.store.SetReaction(ctx, messageID, id.UserID, emoji)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.rooms.Broadcast(msg.TopicID, "", protocol.Event{
		Type: protocol.TypeReactionUpdated,
		Payload: protocol.ReactionUpdatedPayload{
			MessageID: messageID,
			Reactions: reactionViews(reactions),
		},
	})
	return reactions, nil
}

// Delete soft-deletes one of the caller's messages and tells its topic's room.
func (s *Service) Delete(ctx context.Context, id auth.Identity, messageID string) error {
	if !id.IsAuthenticated() {
		return ErrAuthRequired
	}
	if messageID == "" {
		return fmt.Errorf("%w: messageId is required", protocol.ErrInvalid)
	}

	var msg *store.Message
	err := s.retry(ctx, "SoftDelete", func(ctx context.Context) error {
		var err error
		msg, err = s.store.SoftDelete(ctx, messageID, id.UserID)
		return err
	})
	if err != nil {
		return err
	}

	s.rooms.Broadcast(msg.TopicID, "", protocol.Event{
		Type:    protocol.TypeMessageDeleted,
		Payload: protocol.MessageDeletedPayload{MessageID: messageID},
	})
	s.logger.Debug("message deleted", "topic_id", msg.TopicID, "message_id", messageID)
	return nil
}

// History returns a page of a topic's live messages and the topic's total count.
// A zero before means the most recent page.
func (s *Service) History(ctx context.Context, topicID string, limit int, before time.Time) ([]*store.Message, int, error) {
	if !protocol.ValidTopicID(topicID) {
		return nil, 0, fmt.Errorf("%w: topicId is not a valid topic id", protocol.ErrInvalid)
	}

	var msgs []*store.Message
	err := s.retry(ctx, "History", func(ctx context.Context) error {
		var err error
		msgs, err = s.store.History(ctx, store.HistoryQuery{TopicID: topicID, Limit: limit, Before: before})
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	var count int
	err = s.retry(ctx, "CountMessages", func(ctx context.Context) error {
		var err error
		count, err = s.store.CountMessages(ctx, topicID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return msgs, count, nil
}

// JoinRoom moves c into topicID's room and delivers the topic's history to it.
func (s *Service) JoinRoom(ctx context.Context, c Conn, topicID string, metadata json.RawMessage) error {
	err := s.rooms.Join(ctx, c, topicID, metadata, s.loadHistory)
	if errors.Is(err, room.ErrMemberGone) {
		return nil
	}
	return err
}

// LeaveRoom removes c from its room, if any.
func (s *Service) LeaveRoom(c Conn) {
	s.rooms.Leave(c)
}

// Disconnect runs the leave for a connection that has gone away.
// The connection's Done channel must already be closed.
func (s *Service) Disconnect(c Conn) {
	if s.rooms.Leave(c) {
		s.logger.Debug("disconnected member left room", "member_id", c.ID())
	}
}

func (s *Service) loadHistory(ctx context.Context, topicID string) (room.History, error) {
	var msgs []*store.Message
	err := s.retry(ctx, "History", func(ctx context.Context) error {
		var err error
		msgs, err = s.store.History(ctx, store.HistoryQuery{TopicID: topicID, Limit: s.cfg.HistoryLimit})
		return err
	})
	if err != nil {
		return room.History{}, err
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return room.History{
		Event: protocol.Event{
			Type:    protocol.TypeHistory,
			Payload: protocol.HistoryPayload{TopicID: topicID, Messages: s.Views(msgs)},
		},
		MessageIDs: ids,
	}, nil
}

// retry runs fn once more if it fails with anything other than a domain
// error. A second failure is reported as ErrTransient.
func (s *Service) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.call(ctx, fn)
	if err == nil || isDomainError(err) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}

	s.metrics.StoreRetry(op)
	s.logger.Warn("store call failed, retrying", "op", op, "error", err)

	err = s.call(ctx, fn)
	if err == nil || isDomainError(err) {
		return err
	}
	s.logger.Error("store call failed after retry", "op", op, "error", err)
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

// author snapshots the identity written with a message, preferring the directory's profile.
func (s *Service) author(ctx context.Context, id auth.Identity) store.Author {
	a := store.Author{ID: id.UserID, Name: id.Name(), Avatar: id.AvatarRef}
	if s.directory == nil {
		return a
	}
	if p, ok := s.directory.Lookup(ctx, id.UserID); ok {
		if p.DisplayName != "" {
			a.Name = p.DisplayName
		}
		if p.Avatar != "" {
			a.Avatar = p.Avatar
		}
	}
	return a
}

// Views converts messages to their wire form.
func (s *Service) Views(msgs []*store.Message) []protocol.MessageView {
	views := make([]protocol.MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = s.View(m)
	}
	return views
}

// View converts one message to its wire form, rendering markdown when enabled.
func (s *Service) View(m *store.Message) protocol.MessageView {
	v := protocol.MessageView{
		ID:         m.ID,
		TopicID:    m.TopicID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Name,
		Avatar:     m.Author.Avatar,
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
		EditedAt:   m.EditedAt,
		Deleted:    m.Deleted,
		DeletedAt:  m.DeletedAt,
		ReplyTo:    m.ReplyTo,
		Reactions:  reactionViews(m.Reactions),
	}
	if s.markdown != nil && !m.Deleted {
		var buf bytes.Buffer
		if err := s.markdown.Convert([]byte(m.Body), &buf); err != nil {
			s.logger.Warn("failed to render markdown", "message_id", m.ID, "error", err)
		} else {
			v.HTML = buf.String()
		}
	}
	return v
}

func reactionViews(rs []store.Reaction) []protocol.ReactionView {
	views := make([]protocol.ReactionView, len(rs))
	for i, r := range rs {
		views[i] = protocol.ReactionView{Emoji: r.Emoji, UserID: r.UserID, CreatedAt: r.CreatedAt}
	}
	return views
}

// keyedMutex hands out one mutex per key and frees it when nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
