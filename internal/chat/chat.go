// Package chat stores coaching conversations: threads and their messages.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ai-workout-planner/internal/database"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Message roles.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

const (
	// DefaultTitle names a thread until its first question renames it.
	DefaultTitle = "New chat"
	// Greeting is the bot message every new thread starts with.
	Greeting = "Hi! Share your training goal or a question about your form."

	titleMaxRunes = 40
)

// Thread is one conversation.
type Thread struct {
	ID        string `db:"id" json:"id"`
	Owner     string `db:"owner" json:"owner"`
	Title     string `db:"title" json:"title"`
	CreatedAt string `db:"created_at" json:"createdAt"`
	UpdatedAt string `db:"updated_at" json:"updatedAt"`
}

// ThreadSummary is a thread with its latest message.
type ThreadSummary struct {
	Thread
	LastMessageText *string `db:"last_message_text" json:"lastMessageText"`
	LastMessageRole *string `db:"last_message_role" json:"lastMessageRole"`
	LastMessageAt   *string `db:"last_message_at" json:"lastMessageAt"`
}

// Message is one turn of a thread.
type Message struct {
	ID        string `db:"id" json:"id"`
	ThreadID  string `db:"thread_id" json:"threadId"`
	Role      string `db:"role" json:"role"`
	Text      string `db:"text" json:"text"`
	CreatedAt string `db:"created_at" json:"createdAt"`
}

// DeriveTitle turns a first question into a thread title: whitespace is
// collapsed and long text is cut to 40 characters with an ellipsis.
func DeriveTitle(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(normalized) <= titleMaxRunes {
		return normalized
	}
	runes := []rune(normalized)
	return string(runes[:titleMaxRunes]) + "…"
}

// Repository is a database-backed store for chat threads and messages.
type Repository struct {
	db   *sqlx.DB
	q    sqlx.ExtContext
	inTx bool
	now  func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, q: db, now: time.Now}
}

// InTx runs fn with a Repository bound to a single transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	return database.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(&Repository{db: r.db, q: tx, inTx: true, now: r.now})
	})
}

// CreateThread starts a thread for owner with the default title and the
// greeting message.
func (r *Repository) CreateThread(ctx context.Context, owner string) (*Thread, error) {
	now := database.FormatTime(r.now())
	t := &Thread{ID: "chat_thread_" + uuid.NewString(), Owner: owner, Title: DefaultTitle, CreatedAt: now, UpdatedAt: now}

	err := r.InTx(ctx, func(tx *Repository) error {
		_, err := tx.q.ExecContext(ctx,
			`INSERT INTO chat_threads (id, owner, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			t.ID, t.Owner, t.Title, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create chat thread: %w", err)
		}
		_, err = tx.AddMessage(ctx, t.ID, RoleBot, Greeting)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Thread returns a thread by id, or nil.
func (r *Repository) Thread(ctx context.Context, id string) (*Thread, error) {
	return r.oneThread(ctx, `SELECT id, owner, title, created_at, updated_at FROM chat_threads WHERE id = ?`, id)
}

// LatestThread returns owner's most recently updated thread, or nil.
func (r *Repository) LatestThread(ctx context.Context, owner string) (*Thread, error) {
	return r.oneThread(ctx,
		`SELECT id, owner, title, created_at, updated_at FROM chat_threads
		 WHERE owner = ? ORDER BY updated_at DESC, rowid DESC LIMIT 1`, owner)
}

func (r *Repository) oneThread(ctx context.Context, query string, args ...any) (*Thread, error) {
	var t Thread
	err := sqlx.GetContext(ctx, r.q, &t, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat thread: %w", err)
	}
	return &t, nil
}

// ListThreads lists threads, most recently updated first, each with its
// latest message. An owner of "" matches every owner.
func (r *Repository) ListThreads(ctx context.Context, owner string) ([]ThreadSummary, error) {
	var threads []ThreadSummary
	err := sqlx.SelectContext(ctx, r.q, &threads, `
		SELECT t.id, t.owner, t.title, t.created_at, t.updated_at,
		       m.text AS last_message_text, m.role AS last_message_role, m.created_at AS last_message_at
		FROM chat_threads t
		LEFT JOIN chat_messages m ON m.rowid = (
			SELECT rowid FROM chat_messages WHERE thread_id = t.id
			ORDER BY created_at DESC, rowid DESC LIMIT 1)
		WHERE ? = '' OR t.owner = ?
		ORDER BY t.updated_at DESC, t.rowid DESC`, owner, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat threads: %w", err)
	}
	return threads, nil
}

// Messages lists a thread's messages, oldest first.
func (r *Repository) Messages(ctx context.Context, threadID string) ([]Message, error) {
	var msgs []Message
	err := sqlx.SelectContext(ctx, r.q, &msgs,
		`SELECT id, thread_id, role, text, created_at FROM chat_messages
		 WHERE thread_id = ? ORDER BY created_at ASC, rowid ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return msgs, nil
}

// AddMessage appends a message to a thread.
func (r *Repository) AddMessage(ctx context.Context, threadID, role, text string) (*Message, error) {
	m := &Message{
		ID:        "chat_msg_" + uuid.NewString(),
		ThreadID:  threadID,
		Role:      role,
		Text:      text,
		CreatedAt: database.FormatTime(r.now()),
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO chat_messages (id, thread_id, role, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.Role, m.Text, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add chat message: %w", err)
	}
	return m, nil
}

// Touch sets a thread's updated time to now, renaming it when title is not
// empty.
func (r *Repository) Touch(ctx context.Context, threadID, title string) error {
	now := database.FormatTime(r.now())
	var err error
	if title != "" {
		_, err = r.q.ExecContext(ctx, `UPDATE chat_threads SET title = ?, updated_at = ? WHERE id = ?`, title, now, threadID)
	} else {
		_, err = r.q.ExecContext(ctx, `UPDATE chat_threads SET updated_at = ? WHERE id = ?`, now, threadID)
	}
	if err != nil {
		return fmt.Errorf("failed to update chat thread %s: %w", threadID, err)
	}
	return nil
}

// DeleteThread removes a thread and its messages. It reports whether the
// thread existed.
func (r *Repository) DeleteThread(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM chat_threads WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete chat thread %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
