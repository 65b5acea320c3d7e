package ailog

import (
	"context"
	"fmt"
	"time"

	"ai-workout-planner/internal/database"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Record kinds.
const (
	// KindTodayMenu tags records written by today's-menu generation.
	KindTodayMenu = "today_menu"
	// KindChat tags records written by coaching chat replies.
	KindChat = "chat"
)

// Record is one AI interaction, written once per top-level invocation.
type Record struct {
	ID           string  `db:"id" json:"id"`
	Kind         string  `db:"kind" json:"kind"`
	Date         *string `db:"date" json:"date,omitempty"`
	RequestText  string  `db:"request_text" json:"requestText"`
	ResponseText *string `db:"response_text" json:"responseText,omitempty"`
	ParsedJSON   *string `db:"parsed_json" json:"parsedJson,omitempty"`
	Error        *string `db:"error" json:"error,omitempty"`
	CreatedAt    string  `db:"created_at" json:"createdAt"`
}

// Logger persists interaction records.
type Logger interface {
	Create(ctx context.Context, rec Record) (*Record, error)
}

// Repository is an append-only store for AI interaction records.
type Repository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create appends rec, assigning its id and creation time.
func (r *Repository) Create(ctx context.Context, rec Record) (*Record, error) {
	rec.ID = "ailog_" + uuid.NewString()
	rec.CreatedAt = database.FormatTime(r.now())

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO ai_logs (id, kind, date, request_text, response_text, parsed_json, error, created_at)
		VALUES (:id, :kind, :date, :request_text, :response_text, :parsed_json, :error, :created_at)`, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ai log: %w", err)
	}
	return &rec, nil
}

// ListRecent returns up to limit records, newest first. A kind of "" matches all kinds.
func (r *Repository) ListRecent(ctx context.Context, kind string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []Record
	err := r.db.SelectContext(ctx, &recs, `
		SELECT id, kind, date, request_text, response_text, parsed_json, error, created_at
		FROM ai_logs
		WHERE ? = '' OR kind = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ai logs: %w", err)
	}
	return recs, nil
}
