package planner

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ai-workout-planner/internal/workout"
)

const (
	recentSessionLimit   = 5
	namesPerSession      = 6
	partExerciseLimit    = 3
	setsPerPartExercise  = 3
	beginnerSafeNote     = "note: 履歴が少ない場合は初心者向け・安全寄りに提案してください"
	emptyHistoryMarker   = "(none)"
	unknownLastDoneValue = "unknown"
)

// HistoryReader is the read side of the workout store used to summarize
// recent training.
type HistoryReader interface {
	SessionsBefore(ctx context.Context, date string, limit int) ([]workout.Session, error)
	ExercisesBySession(ctx context.Context, sessionID string) ([]workout.SessionEntry, error)
	LastSetInSession(ctx context.Context, sessionID, exerciseID string) (*workout.SetRecord, error)
	SetsBySessionAndExercise(ctx context.Context, sessionID, exerciseID string) ([]workout.SetRecord, error)
}

// BuildRecentTrainingSummary renders the recent-history block for the prompt.
// Only sessions strictly before date are considered; detail sets are listed
// for the selected body part only. Lookups run sequentially so the narrative
// order is deterministic.
func BuildRecentTrainingSummary(ctx context.Context, history HistoryReader, date, bodyPart string) (string, error) {
	sessions, err := history.SessionsBefore(ctx, date, recentSessionLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load recent sessions: %w", err)
	}

	if len(sessions) == 0 {
		return strings.Join([]string{
			"recent_sessions:",
			emptyHistoryMarker,
			"",
			"last_done_for_selected_part: " + unknownLastDoneValue,
			beginnerSafeNote,
		}, "\n"), nil
	}

	lines := []string{"recent_sessions:"}
	var (
		lastDone      string
		partSession   string
		partExercises []workout.Exercise
	)

	for _, s := range sessions {
		entries, err := history.ExercisesBySession(ctx, s.ID)
		if err != nil {
			return "", fmt.Errorf("failed to load exercises of session %s: %w", s.Date, err)
		}

		names := make([]string, 0, namesPerSession)
		for i, e := range entries {
			if i == namesPerSession {
				break
			}
			last, err := history.LastSetInSession(ctx, s.ID, e.ID)
			if err != nil {
				return "", err
			}
			if last != nil {
				names = append(names, fmt.Sprintf("%s (%s)", e.Name, formatSet(*last)))
			} else {
				names = append(names, e.Name)
			}
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", s.Date, strings.Join(names, ", ")))

		if lastDone == "" {
			for _, e := range entries {
				if e.HasBodyPart(bodyPart) {
					partExercises = append(partExercises, e.Exercise)
				}
			}
			if len(partExercises) > 0 {
				lastDone = s.Date
				partSession = s.ID
			}
		}
	}

	lines = append(lines, "")
	if lastDone == "" {
		lines = append(lines, "last_done_for_selected_part: "+unknownLastDoneValue)
	} else {
		lines = append(lines, "last_done_for_selected_part: "+lastDone)
		lines = append(lines, "selected_part_recent_sets:")
		// Exercises without recorded sets do not count toward the limit.
		listed := 0
		for _, e := range partExercises {
			if listed == partExerciseLimit {
				break
			}
			sets, err := history.SetsBySessionAndExercise(ctx, partSession, e.ID)
			if err != nil {
				return "", err
			}
			if len(sets) > setsPerPartExercise {
				sets = sets[len(sets)-setsPerPartExercise:]
			}
			formatted := make([]string, 0, len(sets))
			for _, set := range sets {
				formatted = append(formatted, formatSet(set))
			}
			if len(formatted) == 0 {
				continue
			}
			listed++
			lines = append(lines, fmt.Sprintf("- %s: %s", e.Name, strings.Join(formatted, ", ")))
		}
	}
	lines = append(lines, beginnerSafeNote)

	return strings.Join(lines, "\n"), nil
}

func formatSet(s workout.SetRecord) string {
	return strconv.FormatFloat(s.Weight, 'f', -1, 64) + "×" + strconv.Itoa(s.Reps)
}
