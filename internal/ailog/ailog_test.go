package ailog

import (
	"context"
	"testing"
	"time"

	"ai-workout-planner/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository(t *testing.T) {
	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db.SQL)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()

	date := "2026-05-01"
	resp := "not json"
	errText := "AI response is not JSON"
	failed, err := repo.Create(ctx, Record{Kind: KindTodayMenu, Date: &date, RequestText: "req-1", ResponseText: &resp, Error: &errText})
	require.NoError(t, err)
	assert.NotEmpty(t, failed.ID)
	assert.Equal(t, database.FormatTime(base.Add(time.Second)), failed.CreatedAt)

	parsed := `{"version":1}`
	_, err = repo.Create(ctx, Record{Kind: KindTodayMenu, RequestText: "req-2", ParsedJSON: &parsed})
	require.NoError(t, err)
	_, err = repo.Create(ctx, Record{Kind: "other", RequestText: "req-3"})
	require.NoError(t, err)

	t.Run("NewestFirst", func(t *testing.T) {
		recs, err := repo.ListRecent(ctx, "", 10)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "req-3", recs[0].RequestText)
		assert.Equal(t, "req-1", recs[2].RequestText)
		assert.Equal(t, errText, *recs[2].Error)
		assert.Nil(t, recs[2].ParsedJSON)
	})

	t.Run("FilterByKind", func(t *testing.T) {
		recs, err := repo.ListRecent(ctx, KindTodayMenu, 1)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "req-2", recs[0].RequestText)
		assert.Equal(t, parsed, *recs[0].ParsedJSON)
	})
}
