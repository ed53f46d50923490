// ABOUTME: Store interface and data types for discuss-gateway persistence
// ABOUTME: Defines Message, Reaction, Profile and the sentinel errors shared by every backend

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrPermissionDenied is returned when a user acts on a message they do not own
var ErrPermissionDenied = errors.New("permission denied")

// ErrValidation is returned when input fails store-level validation
var ErrValidation = errors.New("validation failed")

// MaxBodyChars is the maximum message body length, counted in Unicode code points
const MaxBodyChars = 2000

// History limits applied when a query does not specify its own bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 50
)

// Message kinds
const (
	KindMessage = "message" // User-authored chat message
	KindSystem  = "system"  // Gateway-authored notice, excluded from history
)

// Author is the snapshot of a user's identity captured when a message is written
type Author struct {
	ID     string
	Name   string
	Avatar string
}

// Message is a single persisted chat message within a topic
type Message struct {
	ID        string
	TopicID   string
	Kind      string
	Author    Author
	Body      string
	ReplyTo   string
	CreatedAt time.Time
	EditedAt  *time.Time
	Deleted   bool
	DeletedAt *time.Time
	Reactions []Reaction
}

// Reaction is one user's emoji on a message. A user holds at most one reaction per message.
type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

// Profile is the directory entry for a known user
type Profile struct {
	UserID      string
	DisplayName string
	Avatar      string
	UpdatedAt   time.Time
}

// AppendParams describes a message to be appended to a topic
type AppendParams struct {
	TopicID string
	Author  Author
	Body    string
	ReplyTo string
}

// HistoryQuery selects a page of a topic's history.
// Before is an exclusive cursor on CreatedAt; the zero value means "latest".
type HistoryQuery struct {
	TopicID string
	Limit   int
	Before  time.Time
}

// Store defines the interface for message persistence
type Store interface {
	// Append validates and persists a new message, returning it with its assigned ID and timestamp.
	Append(ctx context.Context, p AppendParams) (*Message, error)

	// AppendSystem persists a gateway-authored notice. System entries never appear in history or counts
	// and cannot be reacted to or replied to.
	AppendSystem(ctx context.Context, topicID, body string) (*Message, error)

	// History returns up to q.Limit non-deleted messages of a topic, oldest first, with reactions attached.
	History(ctx context.Context, q HistoryQuery) ([]*Message, error)

	// GetMessage returns a message by ID regardless of its deleted flag.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// SetReaction replaces the user's reaction on a message and returns the message's full reaction list.
	SetReaction(ctx context.Context, messageID, userID, emoji string) ([]Reaction, error)

	// SoftDelete marks a message deleted if requesterID is its author. Deleting twice succeeds.
	SoftDelete(ctx context.Context, messageID, requesterID string) (*Message, error)

	// PurgeDeleted hard-deletes messages soft-deleted before the cutoff.
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)

	// CountMessages returns the number of non-deleted messages in a topic.
	CountMessages(ctx context.Context, topicID string) (int, error)

	// UpsertProfile records a user's latest display name and avatar.
	UpsertProfile(ctx context.Context, p *Profile) error

	// GetProfile returns a user's profile.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the store
	Close() error
}

// NormalizeBody trims and NFC-normalizes a message body and checks it is
// between one and maxChars code points. A maxChars outside 1..MaxBodyChars means MaxBodyChars.
func NormalizeBody(body string, maxChars int) (string, error) {
	if maxChars <= 0 || maxChars > MaxBodyChars {
		maxChars = MaxBodyChars
	}
	body = norm.NFC.String(strings.TrimSpace(body))
	n := utf8.RuneCountInString(body)
	if n == 0 {
		return "", fmt.Errorf("%w: message body is empty", ErrValidation)
	}
	if n > maxChars {
		return "", fmt.Errorf("%w: message body exceeds %d characters", ErrValidation, maxChars)
	}
	return body, nil
}

func validateAppend(p AppendParams, maxChars int) (AppendParams, error) {
	if strings.TrimSpace(p.TopicID) == "" {
		return p, fmt.Errorf("%w: topic id is required", ErrValidation)
	}
	if p.Author.ID == "" {
		return p, fmt.Errorf("%w: author is required", ErrValidation)
	}
	body, err := NormalizeBody(p.Body, maxChars)
	if err != nil {
		return p, err
	}
	p.Body = body
	return p, nil
}

// Option configures a store backend.
type Option func(*options)

type options struct {
	driver       string
	historyLimit int
	historyMax   int
	maxBodyChars int
}

func defaultOptions() options {
	return options{
		driver:       DriverModernc,
		historyLimit: DefaultHistoryLimit,
		historyMax:   MaxHistoryLimit,
		maxBodyChars: MaxBodyChars,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDriver selects the database/sql driver name ("sqlite" or "sqlite3").
func WithDriver(driver string) Option {
	return func(o *options) {
		if driver != "" {
			o.driver = driver
		}
	}
}

// WithHistoryLimits sets the default page size and the maximum a caller may request.
func WithHistoryLimits(def, ceiling int) Option {
	return func(o *options) {
		if def > 0 {
			o.historyLimit = def
		}
		if ceiling > 0 {
			o.historyMax = ceiling
		}
		if o.historyLimit > o.historyMax {
			o.historyLimit = o.historyMax
		}
	}
}

// WithMaxBodyChars lowers the accepted body length below MaxBodyChars.
func WithMaxBodyChars(n int) Option {
	return func(o *options) {
		if n > 0 && n <= MaxBodyChars {
			o.maxBodyChars = n
		}
	}
}

// clampLimit applies the default when limit is unset and caps it at ceiling.
func clampLimit(limit, def, ceiling int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > ceiling {
		limit = ceiling
	}
	return limit
}
