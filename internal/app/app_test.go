package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ai-workout-planner/internal/config"
	"ai-workout-planner/internal/database"
	"ai-workout-planner/internal/llm"
	"ai-workout-planner/internal/logger"
	"ai-workout-planner/internal/menu"
	"ai-workout-planner/internal/planner"
	"ai-workout-planner/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const menuJSON = `{"version":1,"title":"Legs","warnings":["not medical advice"],"rationale":[],
"items":[{"bodyPart":"legs","exerciseName":"Squat","sets":[{"reps":8,"weight":60},{"reps":8,"weight":null}]}],"cooldown":[]}`

type stubGenerator struct {
	content string
	block   bool
}

func (s *stubGenerator) GenerateContent(ctx context.Context, req llm.Request) (llm.ContentResponse, error) {
	if s.block {
		<-ctx.Done()
		return llm.ContentResponse{}, ctx.Err()
	}
	return llm.ContentResponse{Content: s.content, Usage: shared.TokenUsage{PromptTokens: 100, CompletionTokens: 50, Model: "stub"}}, nil
}

func newTestApp(t *testing.T, gen llm.TextGenerator, timeout time.Duration) *App {
	t.Helper()
	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	cfg := &config.Config{
		DatabasePath:      filepath.Join(dir, "workout.db"),
		ExportPath:        filepath.Join(dir, "exports"),
		Locale:            "ja-JP",
		DeviceTimezone:    "Asia/Tokyo",
		GenerationTimeout: timeout,
	}
	a, err := NewApp(cfg, logger.NewNop(), db, gen)
	require.NoError(t, err)
	return a
}

func mustMenu(t *testing.T) *menu.Menu {
	t.Helper()
	res, err := menu.Normalize(menuJSON, menu.Options{Locale: "ja-JP"})
	require.NoError(t, err)
	return res.Menu
}

func TestGenerateTodayMenu(t *testing.T) {
	ctx := context.Background()

	t.Run("RecordsMetricsAndLog", func(t *testing.T) {
		a := newTestApp(t, &stubGenerator{content: menuJSON}, time.Minute)
		res, err := a.GenerateTodayMenu(ctx, "2026-05-05", GenerateOptions{BodyPart: "legs"})
		require.NoError(t, err)
		assert.Equal(t, "Squat", res.Menu.Items[0].ExerciseName)

		usage, err := a.DailyUsage(ctx, 1)
		require.NoError(t, err)
		require.Len(t, usage, 1)
		assert.Equal(t, 100, usage[0].TotalPrompt)
		assert.Equal(t, 1, usage[0].TotalExecution)

		logs, err := a.RecentLogs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Contains(t, logs[0].RequestText, "timezone: Asia/Tokyo")
	})

	t.Run("CallerTimeout", func(t *testing.T) {
		a := newTestApp(t, &stubGenerator{block: true}, 50*time.Millisecond)
		_, err := a.GenerateTodayMenu(ctx, "2026-05-05", GenerateOptions{BodyPart: "legs"})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "timed out")

		var te *planner.TransportError
		assert.ErrorAs(t, err, &te)
		logs, err := a.RecentLogs(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})
}

func TestApplyAndUndo(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, &stubGenerator{}, time.Minute)
	m := mustMenu(t)

	first, err := a.ApplyTodayMenu(ctx, "2026-05-05", m, planner.ApplyAppend, planner.WeightAIOrLast)
	require.NoError(t, err)
	assert.Len(t, first.SetIDs, 2)
	second, err := a.ApplyTodayMenu(ctx, "2026-05-05", m, planner.ApplyAppend, planner.WeightLast)
	require.NoError(t, err)

	entries, sets, err := a.SessionSummary(ctx, "2026-05-05")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	require.Len(t, sets, 4)
	assert.Equal(t, []float64{60, 0, 0, 0}, []float64{sets[0].Weight, sets[1].Weight, sets[2].Weight, sets[3].Weight})
	assert.Equal(t, 2, a.history.Len())

	undone, err := a.UndoLastApply(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.SetIDs, undone.Result.SetIDs)
	entries, sets, err = a.SessionSummary(ctx, "2026-05-05")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "link created by an earlier apply stays")
	assert.Len(t, sets, 2)

	_, err = a.UndoLastApply(ctx)
	require.NoError(t, err)
	entries, sets, err = a.SessionSummary(ctx, "2026-05-05")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, sets)

	_, err = a.UndoLastApply(ctx)
	assert.True(t, errors.Is(err, ErrNothingToUndo))
}

func TestApplyReplace(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, &stubGenerator{}, time.Minute)

	other := &menu.Menu{Version: 1, Items: []menu.Item{{ExerciseName: "Bench Press", Sets: []menu.Set{{Reps: 5}}}}}
	_, err := a.ApplyTodayMenu(ctx, "2026-05-05", other, planner.ApplyAppend, planner.WeightLast)
	require.NoError(t, err)
	// Another day is untouched by replace.
	_, err = a.ApplyTodayMenu(ctx, "2026-05-04", other, planner.ApplyAppend, planner.WeightLast)
	require.NoError(t, err)

	_, err = a.ApplyTodayMenu(ctx, "2026-05-05", mustMenu(t), planner.ApplyReplace, planner.WeightLast)
	require.NoError(t, err)

	entries, sets, err := a.SessionSummary(ctx, "2026-05-05")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Squat", entries[0].Name)
	assert.Len(t, sets, 2)

	entries, _, err = a.SessionSummary(ctx, "2026-05-04")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCommandHistoryLimit(t *testing.T) {
	h := NewCommandHistory(2)
	for _, d := range []string{"a", "b", "c"} {
		h.Push(ApplyCommand{Date: d})
	}
	assert.Equal(t, 2, h.Len())
	cmd, ok := h.Pop()
	require.True(t, ok)
	assert.Equal(t, "c", cmd.Date)
	cmd, _ = h.Pop()
	assert.Equal(t, "b", cmd.Date)
	_, ok = h.Pop()
	assert.False(t, ok)
}

func TestSessionListAndExerciseSummary(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, &stubGenerator{}, time.Minute)

	_, err := a.ApplyTodayMenu(ctx, "2026-05-04", mustMenu(t), planner.ApplyAppend, planner.WeightAIOrLast)
	require.NoError(t, err)
	_, err = a.ApplyTodayMenu(ctx, "2026-05-05", mustMenu(t), planner.ApplyAppend, planner.WeightAIOrLast)
	require.NoError(t, err)

	sessions, err := a.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "2026-05-05", sessions[0].Date)
	assert.Equal(t, 1, sessions[0].ExerciseCount)
	assert.Equal(t, 2, sessions[0].SetCount)

	summary, err := a.ExerciseSummary(ctx, "Squat")
	require.NoError(t, err)
	assert.Equal(t, "Squat", summary.Exercise.Name)
	assert.Len(t, summary.Recent, 4)
	require.NotNil(t, summary.BestVolume)
	assert.Equal(t, 480.0, *summary.BestVolume)

	_, err = a.ExerciseSummary(ctx, "Snatch")
	assert.ErrorIs(t, err, ErrUnknownExercise)
}

func TestSysHealthSeparatesExports(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, &stubGenerator{}, time.Minute)

	before := a.SysHealth()
	assert.Zero(t, before.ExportFiles)

	_, err := a.ExportJSON(ctx)
	require.NoError(t, err)
	after := a.SysHealth()
	assert.Equal(t, 1, after.ExportFiles)
	assert.Positive(t, after.ExportBytes)
	assert.Zero(t, after.DatabaseBytes, "the test database lives in memory")
}
