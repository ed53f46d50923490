// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject backend failures

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	opts     options
	messages map[string]*Message  // keyed by message ID
	order    []string             // message IDs in append order
	profiles map[string]*Profile  // keyed by user ID
	failures map[string][]error   // keyed by operation name, consumed FIFO
	calls    map[string]int       // keyed by operation name
	now      func() time.Time
	last     time.Time
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore(opts ...Option) *MockStore {
	return &MockStore{
		opts:     applyOptions(opts),
		messages: make(map[string]*Message),
		profiles: make(map[string]*Profile),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FailNext makes the next call to op ("Append", "History", ...) return err.
// Calling it repeatedly queues several failures.
func (m *MockStore) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Calls returns how many times op has been invoked.
func (m *MockStore) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// enter records a call and pops an injected failure. Callers must hold mu.
func (m *MockStore) enter(op string) error {
	m.calls[op]++
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	m.failures[op] = queue[1:]
	return queue[0]
}

func (m *MockStore) nextCreated() time.Time {
	now := m.now()
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now
	return now
}

// Append stores a message.
func (m *MockStore) Append(ctx context.Context, p AppendParams) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("Append"); err != nil {
		return nil, err
	}

	p, err := validateAppend(p, m.opts.maxBodyChars)
	if err != nil {
		return nil, err
	}

	if p.ReplyTo != "" {
		parent, ok := m.messages[p.ReplyTo]
		if !ok || parent.Deleted || parent.TopicID != p.TopicID || parent.Kind != KindMessage {
			return nil, fmt.Errorf("reply target %s: %w", p.ReplyTo, ErrNotFound)
		}
	}

	msg := &Message{
		ID:        uuid.New().String(),
		TopicID:   p.TopicID,
		Kind:      KindMessage,
		Author:    p.Author,
		Body:      p.Body,
		ReplyTo:   p.ReplyTo,
		CreatedAt: m.nextCreated(),
		Reactions: []Reaction{},
	}
	if msg.Author.Name == "" {
		msg.Author.Name = msg.Author.ID
	}
	m.messages[msg.ID] = msg
	m.order = append(m.order, msg.ID)

	return copyMessage(msg), nil
}

// AppendSystem stores a system notice.
func (m *MockStore) AppendSystem(ctx context.Context, topicID, body string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("AppendSystem"); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        uuid.New().String(),
		TopicID:   topicID,
		Kind:      KindSystem,
		Author:    Author{ID: "system", Name: "system"},
		Body:      body,
		CreatedAt: m.nextCreated(),
		Reactions: []Reaction{},
	}
	m.messages[msg.ID] = msg
	m.order = append(m.order, msg.ID)

	return copyMessage(msg), nil
}

// History returns a page of a topic's live messages, oldest first.
func (m *MockStore) History(ctx context.Context, q HistoryQuery) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("History"); err != nil {
		return nil, err
	}

	limit := clampLimit(q.Limit, m.opts.historyLimit, m.opts.historyMax)

	// Walk newest to oldest, then reverse
	var result []*Message
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		msg := m.messages[m.order[i]]
		if msg == nil || msg.TopicID != q.TopicID || msg.Deleted || msg.Kind != KindMessage {
			continue
		}
		if !q.Before.IsZero() && !msg.CreatedAt.Before(q.Before) {
			continue
		}
		result = append(result, copyMessage(msg))
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("GetMessage"); err != nil {
		return nil, err
	}

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// SetReaction replaces userID's reaction on a message.
func (m *MockStore) SetReaction(ctx context.Context, messageID, userID, emoji string) ([]Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("SetReaction"); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}
	if emoji == "" {
		return nil, fmt.Errorf("%w: emoji is required", ErrValidation)
	}

	msg, ok := m.messages[messageID]
	if !ok || msg.Deleted || msg.Kind != KindMessage {
		return nil, ErrNotFound
	}

	kept := msg.Reactions[:0]
	for _, r := range msg.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	msg.Reactions = append(kept, Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: m.now(),
	})

	out := make([]Reaction, len(msg.Reactions))
	copy(out, msg.Reactions)
	return out, nil
}

// SoftDelete marks a message deleted if requesterID is its author.
func (m *MockStore) SoftDelete(ctx context.Context, messageID, requesterID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("SoftDelete"); err != nil {
		return nil, err
	}

	msg, ok := m.messages[messageID]
	if !ok || msg.Kind != KindMessage {
		return nil, ErrNotFound
	}
	if msg.Author.ID != requesterID {
		return nil, ErrPermissionDenied
	}
	if !msg.Deleted {
		now := m.now()
		msg.Deleted = true
		msg.DeletedAt = &now
	}
	return copyMessage(msg), nil
}

// PurgeDeleted removes messages soft-deleted before the cutoff.
func (m *MockStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("PurgeDeleted"); err != nil {
		return 0, err
	}

	var purged int64
	order := m.order[:0]
	for _, id := range m.order {
		msg := m.messages[id]
		if msg.Deleted && msg.DeletedAt != nil && msg.DeletedAt.Before(before) {
			delete(m.messages, id)
			purged++
			continue
		}
		order = append(order, id)
	}
	m.order = order
	return purged, nil
}

// CountMessages returns the number of live messages in a topic.
func (m *MockStore) CountMessages(ctx context.Context, topicID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("CountMessages"); err != nil {
		return 0, err
	}

	n := 0
	for _, msg := range m.messages {
		if msg.TopicID == topicID && !msg.Deleted && msg.Kind == KindMessage {
			n++
		}
	}
	return n, nil
}

// UpsertProfile stores a profile.
func (m *MockStore) UpsertProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("UpsertProfile"); err != nil {
		return err
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}

	cp := *p
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = m.now()
	}
	m.profiles[cp.UserID] = &cp
	return nil
}

// GetProfile retrieves a profile by user ID.
func (m *MockStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("GetProfile"); err != nil {
		return nil, err
	}

	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Ping reports injected failures only.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("Ping")
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// ErrInjected is a convenience error for FailNext in tests.
var ErrInjected = errors.New("injected store failure")

func copyMessage(msg *Message) *Message {
	cp := *msg
	cp.Reactions = make([]Reaction, len(msg.Reactions))
	copy(cp.Reactions, msg.Reactions)
	return &cp
}
