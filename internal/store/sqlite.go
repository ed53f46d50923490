// ABOUTME: SQLite implementation of the Store interface using database/sql
// ABOUTME: Persists messages, reactions and profiles with automatic schema creation and migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by WithDriver.
const (
	DriverModernc = "sqlite"  // pure Go, modernc.org/sqlite
	DriverCgo     = "sqlite3" // cgo, github.com/mattn/go-sqlite3
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	opts   options
	logger *slog.Logger

	// writeMu serializes writers so append order is the creation order.
	writeMu     sync.Mutex
	lastCreated int64
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := applyOptions(opts)
	logger := slog.Default().With("component", "store")

	if o.driver != DriverModernc && o.driver != DriverCgo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", o.driver)
	}

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(o.driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would see its own empty database
	if memory {
		db.SetMaxOpenConns(1)
	}

	if !memory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		opts:   o,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", o.driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			topic_id    TEXT NOT NULL,
			kind        TEXT NOT NULL DEFAULT 'message',
			author_id   TEXT NOT NULL,
			author_name TEXT NOT NULL,
			avatar      TEXT,
			body        TEXT NOT NULL,
			reply_to    TEXT,
			created_at  INTEGER NOT NULL,
			deleted     INTEGER NOT NULL DEFAULT 0,
			deleted_at  INTEGER,

			CHECK (kind IN ('message', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_topic_created
			ON messages(topic_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_deleted_at
			ON messages(deleted, deleted_at);

		CREATE TABLE IF NOT EXISTS reactions (
			message_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			emoji      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (message_id, user_id),
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS profiles (
			user_id      TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			avatar       TEXT,
			updated_at   INTEGER NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies additive column changes to databases created by earlier releases.
// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so each migration checks first.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'edited_at'`,
			apply:  `ALTER TABLE messages ADD COLUMN edited_at INTEGER`,
			column: "edited_at",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to messages: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "messages")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// nextCreatedLocked returns a creation timestamp strictly greater than the previous one.
// Callers must hold writeMu.
func (s *SQLiteStore) nextCreatedLocked() time.Time {
	now := time.Now().UTC().UnixNano()
	if now <= s.lastCreated {
		now = s.lastCreated + 1
	}
	s.lastCreated = now
	return time.Unix(0, now).UTC()
}

// Append validates and persists a new message.
func (s *SQLiteStore) Append(ctx context.Context, p AppendParams) (*Message, error) {
	p, err := validateAppend(p, s.opts.maxBodyChars)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if p.ReplyTo != "" {
		var exists int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM messages WHERE id = ? AND topic_id = ? AND deleted = 0 AND kind = 'message'
		`, p.ReplyTo, p.TopicID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reply target %s: %w", p.ReplyTo, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("checking reply target: %w", err)
		}
	}

	msg := &Message{
		ID:        uuid.New().String(),
		TopicID:   p.TopicID,
		Kind:      KindMessage,
		Author:    p.Author,
		Body:      p.Body,
		ReplyTo:   p.ReplyTo,
		CreatedAt: s.nextCreatedLocked(),
		Reactions: []Reaction{},
	}
	if msg.Author.Name == "" {
		msg.Author.Name = msg.Author.ID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, topic_id, kind, author_id, author_name, avatar, body, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.TopicID, msg.Kind, msg.Author.ID, msg.Author.Name,
		nullString(msg.Author.Avatar), msg.Body, nullString(msg.ReplyTo), msg.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	return msg, nil
}

// AppendSystem persists a gateway-authored notice.
func (s *SQLiteStore) AppendSystem(ctx context.Context, topicID, body string) (*Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := &Message{
		ID:        uuid.New().String(),
		TopicID:   topicID,
		Kind:      KindSystem,
		Author:    Author{ID: "system", Name: "system"},
		Body:      body,
		CreatedAt: s.nextCreatedLocked(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, topic_id, kind, author_id, author_name, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.TopicID, msg.Kind, msg.Author.ID, msg.Author.Name, msg.Body, msg.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("inserting system message: %w", err)
	}
	return msg, nil
}

const messageColumns = `id, topic_id, kind, author_id, author_name, avatar, body, reply_to,
	created_at, edited_at, deleted, deleted_at`

// History returns a page of a topic's live messages, oldest first.
func (s *SQLiteStore) History(ctx context.Context, q HistoryQuery) ([]*Message, error) {
	limit := clampLimit(q.Limit, s.opts.historyLimit, s.opts.historyMax)

	before := int64(math.MaxInt64)
	if !q.Before.IsZero() {
		before = q.Before.UnixNano()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE topic_id = ? AND deleted = 0 AND kind = 'message' AND created_at < ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, q.TopicID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	rows.Close()

	// Newest-first from the query; delivered oldest-first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := s.attachReactions(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// attachReactions loads the reactions of every given message in one query.
func (s *SQLiteStore) attachReactions(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	byID := make(map[string]*Message, len(messages))
	args := make([]any, len(messages))
	for i, msg := range messages {
		msg.Reactions = []Reaction{}
		byID[msg.ID] = msg
		args[i] = msg.ID
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messages)), ",")
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id IN (`+placeholders+`)
		ORDER BY created_at ASC, rowid ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("querying reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			return err
		}
		if msg, ok := byID[r.MessageID]; ok {
			msg.Reactions = append(msg.Reactions, r)
		}
	}
	return rows.Err()
}

// GetMessage returns a message by ID, including soft-deleted ones.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachReactions(ctx, []*Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// SetReaction replaces userID's reaction on a live message.
func (s *SQLiteStore) SetReaction(ctx context.Context, messageID, userID, emoji string) ([]Reaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}
	if emoji == "" {
		return nil, fmt.Errorf("%w: emoji is required", ErrValidation)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var deleted bool
	err = tx.QueryRowContext(ctx, `SELECT deleted FROM messages WHERE id = ? AND kind = 'message'`, messageID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE message_id = ? AND user_id = ?`, messageID, userID); err != nil {
		return nil, fmt.Errorf("removing prior reaction: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)
	`, messageID, userID, emoji, time.Now().UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("inserting reaction: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying reactions: %w", err)
	}
	reactions := []Reaction{}
	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating reactions: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reaction: %w", err)
	}
	return reactions, nil
}

// SoftDelete marks a message deleted. Ownership is checked before the deleted flag,
// so a non-owner is refused even when the message is already gone.
func (s *SQLiteStore) SoftDelete(ctx context.Context, messageID, requesterID string) (*Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ? AND kind = 'message'`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if msg.Author.ID != requesterID {
		return nil, ErrPermissionDenied
	}
	if msg.Deleted {
		return msg, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET deleted = 1, deleted_at = ? WHERE id = ?`, now.UnixNano(), messageID); err != nil {
		return nil, fmt.Errorf("marking message deleted: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}

	msg.Deleted = true
	msg.DeletedAt = &now
	return msg, nil
}

// PurgeDeleted physically removes messages soft-deleted before the cutoff, with their reactions.
func (s *SQLiteStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UnixNano()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM reactions WHERE message_id IN (
			SELECT id FROM messages WHERE deleted = 1 AND deleted_at < ?
		)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("purging reactions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE deleted = 1 AND deleted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing purge: %w", err)
	}
	return n, nil
}

// CountMessages returns the number of live, non-system messages in a topic.
func (s *SQLiteStore) CountMessages(ctx context.Context, topicID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE topic_id = ? AND deleted = 0 AND kind = 'message'
	`, topicID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// UpsertProfile inserts or refreshes a user's profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, display_name, avatar, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar = excluded.avatar,
			updated_at = excluded.updated_at
	`, p.UserID, p.DisplayName, nullString(p.Avatar), p.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// GetProfile returns a user's profile.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var (
		p         Profile
		avatar    sql.NullString
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, avatar, updated_at FROM profiles WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.DisplayName, &avatar, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	p.Avatar = avatar.String
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg       Message
		avatar    sql.NullString
		replyTo   sql.NullString
		createdAt int64
		editedAt  sql.NullInt64
		deletedAt sql.NullInt64
	)
	err := row.Scan(&msg.ID, &msg.TopicID, &msg.Kind, &msg.Author.ID, &msg.Author.Name, &avatar,
		&msg.Body, &replyTo, &createdAt, &editedAt, &msg.Deleted, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	msg.Author.Avatar = avatar.String
	msg.ReplyTo = replyTo.String
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	msg.EditedAt = nullTime(editedAt)
	msg.DeletedAt = nullTime(deletedAt)
	return &msg, nil
}

func scanReaction(row rowScanner) (Reaction, error) {
	var (
		r         Reaction
		createdAt int64
	)
	if err := row.Scan(&r.MessageID, &r.UserID, &r.Emoji, &createdAt); err != nil {
		return Reaction{}, fmt.Errorf("scanning reaction: %w", err)
	}
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
