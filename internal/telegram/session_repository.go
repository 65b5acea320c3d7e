package telegram

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"ai-workout-planner/internal/database"
	"ai-workout-planner/internal/menu"
	"ai-workout-planner/internal/planner"

	"github.com/jmoiron/sqlx"
)

const SessionTypePendingMenu = "pending_menu"

// Pending menu states. A menu leaves StateAwaitingApply exactly once, through
// Transition.
const (
	StateAwaitingApply = "awaiting_apply"
	StateApplying      = "applying"
	StateApplied       = "applied"
	StateDiscarded     = "discarded"
)

// Session represents an active user session (e.g., a menu awaiting apply)
type Session struct {
	ID          int64  `db:"id"`
	UserID      string `db:"user_id"`
	SessionType string `db:"session_type"`
	State       string `db:"state"`
	ContextData string `db:"context_data"`
	ExpiresAt   string `db:"expires_at"`
	CreatedAt   string `db:"created_at"`
}

// SessionContextData holds structured data stored in the context_data JSON field
type SessionContextData struct {
	Date          string                `json:"date"`
	ApplyStrategy planner.ApplyStrategy `json:"apply_strategy"`
	Menu          *menu.Menu            `json:"menu"`
}

// SessionRepository provides access to session persistence operations
type SessionRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

// Create creates a new session and returns its ID
func (sr *SessionRepository) Create(ctx context.Context, userID, sessionType, state string, contextData SessionContextData, ttl time.Duration) (int64, error) {
	jsonData, err := json.Marshal(contextData)
	if err != nil {
		return 0, err
	}

	now := sr.now()
	res, err := sr.db.ExecContext(ctx, `
		INSERT INTO bot_sessions (user_id, session_type, state, context_data, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, sessionType, state, string(jsonData), database.FormatTime(now.Add(ttl)), database.FormatTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get retrieves a non-expired session owned by userID.
func (sr *SessionRepository) Get(ctx context.Context, id int64, userID string) (*Session, error) {
	var s Session
	err := sr.db.GetContext(ctx, &s, `
		SELECT * FROM bot_sessions
		WHERE id = ? AND user_id = ? AND expires_at > ?`,
		id, userID, database.FormatTime(sr.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetContextData unmarshals the context_data JSON field
func (s *Session) GetContextData() (SessionContextData, error) {
	var data SessionContextData
	err := json.Unmarshal([]byte(s.ContextData), &data)
	return data, err
}

// Transition atomically moves a live session owned by userID from state
// from to state to and returns the updated row. It returns nil when the
// session is missing, expired or no longer in from, so concurrent callers
// racing for the same transition see exactly one winner.
func (sr *SessionRepository) Transition(ctx context.Context, id int64, userID, from, to string) (*Session, error) {
	var s Session
	err := sr.db.GetContext(ctx, &s, `
		UPDATE bot_sessions SET state = ?
		WHERE id = ? AND user_id = ? AND state = ? AND expires_at > ?
		RETURNING *`,
		to, id, userID, from, database.FormatTime(sr.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CleanupExpired removes all expired sessions and reports how many were removed.
func (sr *SessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := sr.db.ExecContext(ctx, `DELETE FROM bot_sessions WHERE expires_at <= ?`, database.FormatTime(sr.now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
