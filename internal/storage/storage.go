package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ai-workout-planner/internal/database"
	"ai-workout-planner/internal/workout"
)

// Source is the workout store read by exports.
type Source interface {
	AllSessions(ctx context.Context) ([]workout.Session, error)
	AllExercises(ctx context.Context) ([]workout.Exercise, error)
	AllSessionExercises(ctx context.Context) ([]workout.SessionExercise, error)
	AllSets(ctx context.Context) ([]workout.SetRecord, error)
}

// Export is a full dump of the workout log.
type Export struct {
	ExportedAt       string                    `json:"exportedAt"`
	Sessions         []workout.Session         `json:"sessions"`
	Exercises        []workout.Exercise        `json:"exercises"`
	SessionExercises []workout.SessionExercise `json:"sessionExercises"`
	Sets             []workout.SetRecord       `json:"sets"`
}

// ExportStore provides a file-based storage for workout log exports.
type ExportStore struct {
	basePath string
	source   Source
	now      func() time.Time
}

// NewExportStore creates a new ExportStore and ensures the base directory exists.
func NewExportStore(basePath string, source Source) (*ExportStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	return &ExportStore{basePath: basePath, source: source, now: time.Now}, nil
}

// sanitizeTimestamp makes the timestamp safe for filenames.
func sanitizeTimestamp(ts string) string {
	return strings.ReplaceAll(ts, ":", "-")
}

// writeVersioned writes data to a new file named after ts with microsecond
// resolution. Exports taken within the same microsecond get a zero-padded
// suffix instead of overwriting each other, which keeps name order
// chronological.
func (s *ExportStore) writeVersioned(ts time.Time, ext string, data []byte) (string, error) {
	stamp := sanitizeTimestamp(database.FormatTime(ts))
	for i := 1; ; i++ {
		filename := fmt.Sprintf("workout_%s.%s", stamp, ext)
		if i > 1 {
			filename = fmt.Sprintf("workout_%s_%03d.%s", stamp, i, ext)
		}
		filePath := filepath.Join(s.basePath, filename)

		f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create export file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write export file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to write export file: %w", err)
		}
		return filePath, nil
	}
}

// Build collects the whole workout log.
func (s *ExportStore) Build(ctx context.Context) (*Export, error) {
	sessions, err := s.source.AllSessions(ctx)
	if err != nil {
		return nil, err
	}
	exercises, err := s.source.AllExercises(ctx)
	if err != nil {
		return nil, err
	}
	links, err := s.source.AllSessionExercises(ctx)
	if err != nil {
		return nil, err
	}
	sets, err := s.source.AllSets(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{
		ExportedAt:       s.now().UTC().Format(time.RFC3339Nano),
		Sessions:         nonNil(sessions),
		Exercises:        nonNil(exercises),
		SessionExercises: nonNil(links),
		Sets:             nonNil(sets),
	}, nil
}

// SaveJSON writes the full export as indented JSON and returns its path.
func (s *ExportStore) SaveJSON(ctx context.Context) (string, error) {
	exp, err := s.Build(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal export: %w", err)
	}

	exportedAt, err := time.Parse(time.RFC3339Nano, exp.ExportedAt)
	if err != nil {
		return "", fmt.Errorf("failed to parse export time: %w", err)
	}
	return s.writeVersioned(exportedAt, "json", data)
}

// SaveSetsCSV writes all set records as CSV and returns its path.
func (s *ExportStore) SaveSetsCSV(ctx context.Context) (string, error) {
	sets, err := s.source.AllSets(ctx)
	if err != nil {
		return "", err
	}
	data, err := SetsCSV(sets)
	if err != nil {
		return "", err
	}

	return s.writeVersioned(s.now(), "csv", data)
}

// SetsCSV renders set records with a header row.
func SetsCSV(sets []workout.SetRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "session_id", "exercise_id", "weight", "reps", "memo", "created_at"}); err != nil {
		return nil, err
	}
	for _, s := range sets {
		memo := ""
		if s.Memo != nil {
			memo = *s.Memo
		}
		row := []string{
			s.ID,
			s.SessionID,
			s.ExerciseID,
			strconv.FormatFloat(s.Weight, 'f', -1, 64),
			strconv.Itoa(s.Reps),
			memo,
			s.CreatedAt,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// RemoveStaleVersions keeps the newest keep exports of each kind and removes
// the rest.
func (s *ExportStore) RemoveStaleVersions(keep int) error {
	for _, ext := range []string{"json", "csv"} {
		pattern := filepath.Join(s.basePath, "workout_*."+ext)
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("failed to glob stale files: %w", err)
		}
		// Timestamped names sort chronologically.
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		if len(matches) <= keep {
			continue
		}
		for _, match := range matches[keep:] {
			if err := os.Remove(match); err != nil {
				return fmt.Errorf("failed to remove stale file %s: %w", match, err)
			}
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
