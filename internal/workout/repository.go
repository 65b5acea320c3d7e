package workout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ai-workout-planner/internal/database"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository is a database-backed store for sessions, exercises,
// session-exercise links and set records.
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

// InTx runs fn with a Repository bound to a single transaction. Nested calls
// reuse the outer transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	return database.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(&Repository{db: r.db, q: tx, inTx: true, now: r.now})
	})
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func (r *Repository) timestamp() string {
	return database.FormatTime(r.now())
}

// getOne wraps sqlx.GetContext, mapping sql.ErrNoRows to (false, nil).
func (r *Repository) getOne(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	if err := sqlx.GetContext(ctx, r.q, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// --- sessions ---

// CreateSession inserts a new session for date.
func (r *Repository) CreateSession(ctx context.Context, date string) (*Session, error) {
	s := &Session{ID: newID("session"), Date: date, StartTime: r.timestamp()}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO workout_sessions (id, date, start_time) VALUES (?, ?, ?)`,
		s.ID, s.Date, s.StartTime)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", date, err)
	}
	return s, nil
}

// SessionByDate returns the session for date, or nil when none exists.
func (r *Repository) SessionByDate(ctx context.Context, date string) (*Session, error) {
	var s Session
	ok, err := r.getOne(ctx, &s,
		`SELECT id, date, start_time FROM workout_sessions WHERE date = ? ORDER BY start_time ASC, rowid ASC LIMIT 1`,
		date)
	if err != nil {
		return nil, fmt.Errorf("failed to get session for %s: %w", date, err)
	}
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// GetOrCreateSession returns the session for date, creating it if needed.
func (r *Repository) GetOrCreateSession(ctx context.Context, date string) (*Session, error) {
	s, err := r.SessionByDate(ctx, date)
	if err != nil || s != nil {
		return s, err
	}
	return r.CreateSession(ctx, date)
}

// SessionsBefore lists up to limit sessions strictly before date, most recent first.
func (r *Repository) SessionsBefore(ctx context.Context, date string, limit int) ([]Session, error) {
	var sessions []Session
	err := sqlx.SelectContext(ctx, r.q, &sessions,
		`SELECT id, date, start_time FROM workout_sessions
		 WHERE date < ?
		 ORDER BY date DESC, start_time DESC, rowid DESC
		 LIMIT ?`,
		date, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions before %s: %w", date, err)
	}
	return sessions, nil
}

// AllSessions lists every session in date order.
func (r *Repository) AllSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := sqlx.SelectContext(ctx, r.q, &sessions,
		`SELECT id, date, start_time FROM workout_sessions ORDER BY date ASC, start_time ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// --- exercises ---

// CreateExercise inserts a new exercise.
func (r *Repository) CreateExercise(ctx context.Context, name string, bodyPart *string) (*Exercise, error) {
	e := &Exercise{ID: newID("exercise"), Name: name, BodyPart: bodyPart}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO exercises (id, name, body_part, memo) VALUES (?, ?, ?, ?)`,
		e.ID, e.Name, e.BodyPart, e.Memo)
	if err != nil {
		return nil, fmt.Errorf("failed to create exercise %q: %w", name, err)
	}
	return e, nil
}

// ExerciseByNameAndPart finds an exercise by exact name and body part. A nil
// bodyPart matches only untagged exercises.
func (r *Repository) ExerciseByNameAndPart(ctx context.Context, name string, bodyPart *string) (*Exercise, error) {
	var e Exercise
	ok, err := r.getOne(ctx, &e,
		`SELECT id, name, body_part, memo FROM exercises WHERE name = ? AND body_part IS ? ORDER BY rowid ASC LIMIT 1`,
		name, bodyPart)
	if err != nil {
		return nil, fmt.Errorf("failed to find exercise %q: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// ExerciseByName finds the first exercise with the given name.
func (r *Repository) ExerciseByName(ctx context.Context, name string) (*Exercise, error) {
	var e Exercise
	ok, err := r.getOne(ctx, &e,
		`SELECT id, name, body_part, memo FROM exercises WHERE name = ? ORDER BY rowid ASC LIMIT 1`,
		name)
	if err != nil {
		return nil, fmt.Errorf("failed to find exercise %q: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// UpdateExerciseBodyPart sets the body part tag of an exercise.
func (r *Repository) UpdateExerciseBodyPart(ctx context.Context, id string, bodyPart *string) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE exercises SET body_part = ? WHERE id = ?`, bodyPart, id); err != nil {
		return fmt.Errorf("failed to update body part of %s: %w", id, err)
	}
	return nil
}

// AllExercises lists every exercise by name.
func (r *Repository) AllExercises(ctx context.Context) ([]Exercise, error) {
	var exercises []Exercise
	err := sqlx.SelectContext(ctx, r.q, &exercises,
		`SELECT id, name, body_part, memo FROM exercises ORDER BY name ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list exercises: %w", err)
	}
	return exercises, nil
}

// --- session links ---

// AddExerciseToSession links an exercise into a session at the next position.
// Linking an already linked exercise returns the existing link and created=false.
func (r *Repository) AddExerciseToSession(ctx context.Context, sessionID, exerciseID string) (link *SessionExercise, created bool, err error) {
	var existing SessionExercise
	ok, err := r.getOne(ctx, &existing,
		`SELECT id, session_id, exercise_id, position FROM session_exercises WHERE session_id = ? AND exercise_id = ? LIMIT 1`,
		sessionID, exerciseID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up session link: %w", err)
	}
	if ok {
		return &existing, false, nil
	}

	var maxPos sql.NullInt64
	if err := sqlx.GetContext(ctx, r.q, &maxPos,
		`SELECT MAX(position) FROM session_exercises WHERE session_id = ?`, sessionID); err != nil {
		return nil, false, fmt.Errorf("failed to read max position: %w", err)
	}
	position := 0
	if maxPos.Valid {
		position = int(maxPos.Int64) + 1
	}

	link = &SessionExercise{
		ID:         newID("session_exercise"),
		SessionID:  sessionID,
		ExerciseID: exerciseID,
		Position:   position,
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO session_exercises (id, session_id, exercise_id, position) VALUES (?, ?, ?, ?)`,
		link.ID, link.SessionID, link.ExerciseID, link.Position)
	if err != nil {
		return nil, false, fmt.Errorf("failed to link exercise %s: %w", exerciseID, err)
	}
	return link, true, nil
}

// RemoveExerciseFromSession deletes the exercise's sets in the session and then the link.
func (r *Repository) RemoveExerciseFromSession(ctx context.Context, sessionID, exerciseID string) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM set_records WHERE session_id = ? AND exercise_id = ?`, sessionID, exerciseID); err != nil {
		return fmt.Errorf("failed to delete sets of %s: %w", exerciseID, err)
	}
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM session_exercises WHERE session_id = ? AND exercise_id = ?`, sessionID, exerciseID); err != nil {
		return fmt.Errorf("failed to unlink %s: %w", exerciseID, err)
	}
	return nil
}

// ExercisesBySession lists the exercises linked into a session by position.
func (r *Repository) ExercisesBySession(ctx context.Context, sessionID string) ([]SessionEntry, error) {
	var entries []SessionEntry
	err := sqlx.SelectContext(ctx, r.q, &entries,
		`SELECT e.id, e.name, e.body_part, e.memo, se.position
		 FROM session_exercises se
		 JOIN exercises e ON e.id = se.exercise_id
		 WHERE se.session_id = ?
		 ORDER BY se.position ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exercises of session %s: %w", sessionID, err)
	}
	return entries, nil
}

// AllSessionExercises lists every session link.
func (r *Repository) AllSessionExercises(ctx context.Context) ([]SessionExercise, error) {
	var links []SessionExercise
	err := sqlx.SelectContext(ctx, r.q, &links,
		`SELECT id, session_id, exercise_id, position FROM session_exercises ORDER BY session_id ASC, position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list session links: %w", err)
	}
	return links, nil
}

// --- sets ---

const setColumns = `id, session_id, exercise_id, weight, reps, memo, created_at`

// AddSet appends a set record. There is no dedup key.
func (r *Repository) AddSet(ctx context.Context, sessionID, exerciseID string, weight float64, reps int, memo *string) (*SetRecord, error) {
	s := &SetRecord{
		ID:         newID("set"),
		SessionID:  sessionID,
		ExerciseID: exerciseID,
		Weight:     weight,
		Reps:       reps,
		Memo:       memo,
		CreatedAt:  r.timestamp(),
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO set_records (`+setColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.SessionID, s.ExerciseID, s.Weight, s.Reps, s.Memo, s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add set for %s: %w", exerciseID, err)
	}
	return s, nil
}

// DeleteSet removes a set record by id.
func (r *Repository) DeleteSet(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM set_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete set %s: %w", id, err)
	}
	return nil
}

// LastSetByExercise returns the most recently recorded set of an exercise
// across all sessions, or nil when it has none.
func (r *Repository) LastSetByExercise(ctx context.Context, exerciseID string) (*SetRecord, error) {
	var s SetRecord
	ok, err := r.getOne(ctx, &s,
		`SELECT `+setColumns+` FROM set_records WHERE exercise_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		exerciseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get last set of %s: %w", exerciseID, err)
	}
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// LastSetInSession returns the most recent set of an exercise within one session.
func (r *Repository) LastSetInSession(ctx context.Context, sessionID, exerciseID string) (*SetRecord, error) {
	var s SetRecord
	ok, err := r.getOne(ctx, &s,
		`SELECT `+setColumns+` FROM set_records WHERE session_id = ? AND exercise_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		sessionID, exerciseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get last set of %s in %s: %w", exerciseID, sessionID, err)
	}
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// SetsBySessionAndExercise lists an exercise's sets in a session, oldest first.
func (r *Repository) SetsBySessionAndExercise(ctx context.Context, sessionID, exerciseID string) ([]SetRecord, error) {
	var sets []SetRecord
	err := sqlx.SelectContext(ctx, r.q, &sets,
		`SELECT `+setColumns+` FROM set_records WHERE session_id = ? AND exercise_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID, exerciseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sets of %s in %s: %w", exerciseID, sessionID, err)
	}
	return sets, nil
}

// SetsBySession lists all sets of a session, oldest first.
func (r *Repository) SetsBySession(ctx context.Context, sessionID string) ([]SetRecord, error) {
	var sets []SetRecord
	err := sqlx.SelectContext(ctx, r.q, &sets,
		`SELECT `+setColumns+` FROM set_records WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sets of %s: %w", sessionID, err)
	}
	return sets, nil
}

// AllSets lists every set record, oldest first.
func (r *Repository) AllSets(ctx context.Context) ([]SetRecord, error) {
	var sets []SetRecord
	err := sqlx.SelectContext(ctx, r.q, &sets,
		`SELECT `+setColumns+` FROM set_records ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sets: %w", err)
	}
	return sets, nil
}

// --- stats ---

// SessionsWithStats lists up to limit sessions, most recent first, with their
// exercise and set counts.
func (r *Repository) SessionsWithStats(ctx context.Context, limit int) ([]SessionStats, error) {
	var stats []SessionStats
	err := sqlx.SelectContext(ctx, r.q, &stats,
		`SELECT ws.id, ws.date, ws.start_time,
		        (SELECT COUNT(*) FROM session_exercises se WHERE se.session_id = ws.id) AS exercise_count,
		        (SELECT COUNT(*) FROM set_records sr WHERE sr.session_id = ws.id) AS set_count
		 FROM workout_sessions ws
		 ORDER BY ws.date DESC, ws.start_time DESC, ws.rowid DESC
		 LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session stats: %w", err)
	}
	return stats, nil
}

// RecentSetsByExercise lists the latest limit sets of an exercise across all
// sessions, newest first.
func (r *Repository) RecentSetsByExercise(ctx context.Context, exerciseID string, limit int) ([]ExerciseHistoryItem, error) {
	var items []ExerciseHistoryItem
	err := sqlx.SelectContext(ctx, r.q, &items,
		`SELECT sr.id, sr.session_id, sr.exercise_id, sr.weight, sr.reps, sr.memo, sr.created_at,
		        ws.date AS session_date
		 FROM set_records sr
		 JOIN workout_sessions ws ON ws.id = sr.session_id
		 WHERE sr.exercise_id = ?
		 ORDER BY sr.created_at DESC, sr.rowid DESC
		 LIMIT ?`,
		exerciseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sets of %s: %w", exerciseID, err)
	}
	return items, nil
}

// BestsByExercise returns the single-set maxima of an exercise, where volume
// is weight×reps.
func (r *Repository) BestsByExercise(ctx context.Context, exerciseID string) (ExerciseBests, error) {
	var bests ExerciseBests
	_, err := r.getOne(ctx, &bests,
		`SELECT MAX(weight) AS max_weight, MAX(reps) AS max_reps, MAX(weight * reps) AS best_volume
		 FROM set_records WHERE exercise_id = ?`,
		exerciseID)
	if err != nil {
		return ExerciseBests{}, fmt.Errorf("failed to get bests of %s: %w", exerciseID, err)
	}
	return bests, nil
}
