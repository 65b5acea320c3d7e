package workout

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ai-workout-planner/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.SQL)
}

func strPtr(s string) *string { return &s }

func TestSessions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	t.Run("GetOrCreateIsStable", func(t *testing.T) {
		first, err := repo.GetOrCreateSession(ctx, "2024-05-03")
		require.NoError(t, err)
		again, err := repo.GetOrCreateSession(ctx, "2024-05-03")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.True(t, strings.HasPrefix(first.ID, "session_"))
	})

	t.Run("SessionByDateMissing", func(t *testing.T) {
		s, err := repo.SessionByDate(ctx, "1999-01-01")
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("SessionsBeforeIsStrictAndRecentFirst", func(t *testing.T) {
		for _, d := range []string{"2024-05-01", "2024-04-28", "2024-05-02"} {
			_, err := repo.CreateSession(ctx, d)
			require.NoError(t, err)
		}
		sessions, err := repo.SessionsBefore(ctx, "2024-05-03", 2)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "2024-05-02", sessions[0].Date)
		assert.Equal(t, "2024-05-01", sessions[1].Date)
	})
}

func TestExerciseLookup(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	chest, err := repo.CreateExercise(ctx, "Bench Press", strPtr("chest"))
	require.NoError(t, err)
	untagged, err := repo.CreateExercise(ctx, "Plank", nil)
	require.NoError(t, err)

	got, err := repo.ExerciseByNameAndPart(ctx, "Bench Press", strPtr("chest"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, chest.ID, got.ID)

	got, err = repo.ExerciseByNameAndPart(ctx, "Bench Press", strPtr("back"))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.ExerciseByNameAndPart(ctx, "Plank", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, untagged.ID, got.ID)

	require.NoError(t, repo.UpdateExerciseBodyPart(ctx, untagged.ID, strPtr("core")))
	got, err = repo.ExerciseByName(ctx, "Plank")
	require.NoError(t, err)
	assert.True(t, got.HasBodyPart("core"))
}

func TestAddExerciseToSession(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	s, err := repo.CreateSession(ctx, "2024-05-01")
	require.NoError(t, err)
	a, _ := repo.CreateExercise(ctx, "Squat", strPtr("legs"))
	b, _ := repo.CreateExercise(ctx, "Lunge", strPtr("legs"))

	linkA, created, err := repo.AddExerciseToSession(ctx, s.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 0, linkA.Position)

	linkB, created, err := repo.AddExerciseToSession(ctx, s.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, linkB.Position)

	again, created, err := repo.AddExerciseToSession(ctx, s.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, linkA.ID, again.ID)

	entries, err := repo.ExercisesBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Squat", entries[0].Name)
	assert.Equal(t, "Lunge", entries[1].Name)

	_, err = repo.AddSet(ctx, s.ID, a.ID, 60, 5, nil)
	require.NoError(t, err)
	require.NoError(t, repo.RemoveExerciseFromSession(ctx, s.ID, a.ID))

	entries, err = repo.ExercisesBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	sets, err := repo.SetsBySessionAndExercise(ctx, s.ID, a.ID)
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestSetOrdering(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	// Frozen clock: every set shares one timestamp, so rowid decides.
	frozen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return frozen }

	s1, _ := repo.CreateSession(ctx, "2024-04-30")
	s2, _ := repo.CreateSession(ctx, "2024-05-01")
	ex, _ := repo.CreateExercise(ctx, "Row", strPtr("back"))

	last, err := repo.LastSetByExercise(ctx, ex.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = repo.AddSet(ctx, s1.ID, ex.ID, 40, 10, nil)
	require.NoError(t, err)
	_, err = repo.AddSet(ctx, s1.ID, ex.ID, 42.5, 8, strPtr("hard"))
	require.NoError(t, err)
	_, err = repo.AddSet(ctx, s2.ID, ex.ID, 45, 6, nil)
	require.NoError(t, err)

	last, err = repo.LastSetByExercise(ctx, ex.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 45.0, last.Weight)

	inS1, err := repo.LastSetInSession(ctx, s1.ID, ex.ID)
	require.NoError(t, err)
	require.NotNil(t, inS1)
	assert.Equal(t, 42.5, inS1.Weight)
	require.NotNil(t, inS1.Memo)
	assert.Equal(t, "hard", *inS1.Memo)

	sets, err := repo.SetsBySessionAndExercise(ctx, s1.ID, ex.ID)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, 40.0, sets[0].Weight)

	require.NoError(t, repo.DeleteSet(ctx, sets[0].ID))
	all, err := repo.AllSets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	boom := errors.New("boom")

	err := repo.InTx(ctx, func(tx *Repository) error {
		if _, err := tx.CreateExercise(ctx, "Deadlift", strPtr("back")); err != nil {
			return err
		}
		// Nested call joins the same transaction.
		return tx.InTx(ctx, func(inner *Repository) error {
			if _, err := inner.CreateExercise(ctx, "Curl", strPtr("arms")); err != nil {
				return err
			}
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	all, err := repo.AllExercises(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	squat, err := repo.CreateExercise(ctx, "Squat", strPtr("legs"))
	require.NoError(t, err)
	row, err := repo.CreateExercise(ctx, "Row", strPtr("back"))
	require.NoError(t, err)

	s1, err := repo.CreateSession(ctx, "2024-05-01")
	require.NoError(t, err)
	s2, err := repo.CreateSession(ctx, "2024-05-03")
	require.NoError(t, err)
	_, err = repo.CreateSession(ctx, "2024-05-02")
	require.NoError(t, err)

	for _, link := range [][2]string{{s1.ID, squat.ID}, {s1.ID, row.ID}, {s2.ID, squat.ID}} {
		_, _, err := repo.AddExerciseToSession(ctx, link[0], link[1])
		require.NoError(t, err)
	}
	for _, set := range []struct {
		session string
		weight  float64
		reps    int
	}{{s1.ID, 60, 8}, {s1.ID, 80, 3}, {s2.ID, 70, 6}, {s2.ID, 40, 12}} {
		_, err := repo.AddSet(ctx, set.session, squat.ID, set.weight, set.reps, nil)
		require.NoError(t, err)
	}
	_, err = repo.AddSet(ctx, s1.ID, row.ID, 50, 10, nil)
	require.NoError(t, err)

	t.Run("SessionsWithStats", func(t *testing.T) {
		stats, err := repo.SessionsWithStats(ctx, 10)
		require.NoError(t, err)
		require.Len(t, stats, 3)
		assert.Equal(t, "2024-05-03", stats[0].Date)
		assert.Equal(t, 1, stats[0].ExerciseCount)
		assert.Equal(t, 2, stats[0].SetCount)
		assert.Equal(t, "2024-05-02", stats[1].Date)
		assert.Zero(t, stats[1].ExerciseCount)
		assert.Zero(t, stats[1].SetCount)
		// Counts are independent: two links and three sets, not their product.
		assert.Equal(t, 2, stats[2].ExerciseCount)
		assert.Equal(t, 3, stats[2].SetCount)

		limited, err := repo.SessionsWithStats(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("RecentSetsByExercise", func(t *testing.T) {
		recent, err := repo.RecentSetsByExercise(ctx, squat.ID, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, 40.0, recent[0].Weight)
		assert.Equal(t, "2024-05-03", recent[0].SessionDate)
		assert.Equal(t, "2024-05-01", recent[2].SessionDate)
	})

	t.Run("BestsByExercise", func(t *testing.T) {
		bests, err := repo.BestsByExercise(ctx, squat.ID)
		require.NoError(t, err)
		require.NotNil(t, bests.MaxWeight)
		assert.Equal(t, 80.0, *bests.MaxWeight)
		require.NotNil(t, bests.MaxReps)
		assert.Equal(t, 12, *bests.MaxReps)
		require.NotNil(t, bests.BestVolume)
		assert.Equal(t, 480.0, *bests.BestVolume)

		unused, err := repo.CreateExercise(ctx, "Dip", nil)
		require.NoError(t, err)
		none, err := repo.BestsByExercise(ctx, unused.ID)
		require.NoError(t, err)
		assert.Nil(t, none.MaxWeight)
		assert.Nil(t, none.MaxReps)
		assert.Nil(t, none.BestVolume)
	})
}
