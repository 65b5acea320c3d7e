package workout

// Session is one training day.
type Session struct {
	ID        string `db:"id" json:"id"`
	Date      string `db:"date" json:"date"`             // YYYY-MM-DD
	StartTime string `db:"start_time" json:"startTime"` // database.TimeLayout
}

// Exercise is a named movement, optionally tagged with a body part.
type Exercise struct {
	ID       string  `db:"id" json:"id"`
	Name     string  `db:"name" json:"name"`
	BodyPart *string `db:"body_part" json:"bodyPart"`
	Memo     *string `db:"memo" json:"memo"`
}

// HasBodyPart reports whether the exercise is tagged with part.
func (e Exercise) HasBodyPart(part string) bool {
	return e.BodyPart != nil && *e.BodyPart == part
}

// SessionExercise links an exercise into a session at a position.
type SessionExercise struct {
	ID         string `db:"id" json:"id"`
	SessionID  string `db:"session_id" json:"sessionId"`
	ExerciseID string `db:"exercise_id" json:"exerciseId"`
	Position   int    `db:"position" json:"position"`
}

// SessionEntry is an exercise as it appears inside a session.
type SessionEntry struct {
	Exercise
	Position int `db:"position" json:"position"`
}

// SetRecord is one performed (or planned) set.
type SetRecord struct {
	ID         string  `db:"id" json:"id"`
	SessionID  string  `db:"session_id" json:"sessionId"`
	ExerciseID string  `db:"exercise_id" json:"exerciseId"`
	Weight     float64 `db:"weight" json:"weight"`
	Reps       int     `db:"reps" json:"reps"`
	Memo       *string `db:"memo" json:"memo"`
	CreatedAt  string  `db:"created_at" json:"createdAt"`
}

// SessionStats is a session with how many exercises and sets it holds.
type SessionStats struct {
	Session
	ExerciseCount int `db:"exercise_count" json:"exerciseCount"`
	SetCount      int `db:"set_count" json:"setCount"`
}

// ExerciseHistoryItem is a set with the date of the session it belongs to.
type ExerciseHistoryItem struct {
	SetRecord
	SessionDate string `db:"session_date" json:"sessionDate"`
}

// ExerciseBests are an exercise's all-time maxima. They are nil while the
// exercise has no sets.
type ExerciseBests struct {
	MaxWeight  *float64 `db:"max_weight" json:"maxWeight"`
	MaxReps    *int     `db:"max_reps" json:"maxReps"`
	BestVolume *float64 `db:"best_volume" json:"bestVolume"`
}

// ExerciseSummary is an exercise's bests and its latest sets.
type ExerciseSummary struct {
	Exercise Exercise              `json:"exercise"`
	Recent   []ExerciseHistoryItem `json:"recent"`
	ExerciseBests
}
