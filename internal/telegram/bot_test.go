package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-workout-planner/internal/app"
	"ai-workout-planner/internal/chat"
	"ai-workout-planner/internal/config"
	"ai-workout-planner/internal/database"
	"ai-workout-planner/internal/logger"
	"ai-workout-planner/internal/menu"
	"ai-workout-planner/internal/metrics"
	"ai-workout-planner/internal/planner"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int
}

func (f *fakeAPI) HandleUpdate(r *http.Request) (*tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) last(t *testing.T) tgbotapi.Chattable {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type applyCall struct {
	Date     string
	Menu     *menu.Menu
	Strategy planner.ApplyStrategy
	Weights  planner.WeightStrategy
}

type fakeService struct {
	mu       sync.Mutex
	applyErr error
	result   *menu.Result
	genOpts  app.GenerateOptions
	genDate  string
	applied  []applyCall
	undo     *app.ApplyCommand
	threads  map[string][]string
	asked    []string
	askErr   error
	reply    string
}

func (f *fakeService) GenerateTodayMenu(ctx context.Context, date string, opts app.GenerateOptions) (*menu.Result, error) {
	f.genDate, f.genOpts = date, opts
	return f.result, nil
}

func (f *fakeService) ApplyTodayMenu(ctx context.Context, date string, m *menu.Menu, strategy planner.ApplyStrategy, weights planner.WeightStrategy) (*planner.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		err := f.applyErr
		f.applyErr = nil
		return nil, err
	}
	f.applied = append(f.applied, applyCall{date, m, strategy, weights})
	return &planner.ApplyResult{ExerciseIDs: []string{"ex_1"}, SetIDs: []string{"set_1", "set_2"}}, nil
}

func (f *fakeService) UndoLastApply(ctx context.Context) (*app.ApplyCommand, error) {
	if f.undo == nil {
		return nil, app.ErrNothingToUndo
	}
	cmd := f.undo
	f.undo = nil
	return cmd, nil
}

func (f *fakeService) DailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error) {
	return []metrics.DailyUsage{{Date: "2026-05-05", TotalPrompt: 100, TotalCompletion: 20, TotalExecution: 2}}, nil
}

func (f *fakeService) SysHealth() metrics.SysHealth {
	return metrics.SysHealth{AllocMB: 3, SysMB: 10, Goroutines: 5, DatabaseBytes: 1024 * 1024, ExportBytes: 2048, ExportFiles: 3}
}

func (f *fakeService) ChatThreadFor(ctx context.Context, owner string, fresh bool) (*chat.Thread, error) {
	if f.threads == nil {
		f.threads = map[string][]string{}
	}
	ids := f.threads[owner]
	if fresh || len(ids) == 0 {
		ids = append(ids, fmt.Sprintf("thread_%d", len(ids)+1))
		f.threads[owner] = ids
	}
	return &chat.Thread{ID: ids[len(ids)-1], Owner: owner, Title: chat.DefaultTitle}, nil
}

func (f *fakeService) Ask(ctx context.Context, threadID, question string) (*app.ChatExchange, error) {
	if f.askErr != nil {
		return nil, f.askErr
	}
	f.asked = append(f.asked, threadID+": "+question)
	return &app.ChatExchange{
		Thread:   &chat.Thread{ID: threadID},
		Question: &chat.Message{Role: chat.RoleUser, Text: question},
		Reply:    &chat.Message{Role: chat.RoleBot, Text: f.reply},
	}, nil
}

func floatPtr(f float64) *float64 { return &f }

func sampleResult() *menu.Result {
	note := "Keep your back_straight"
	return &menu.Result{
		Menu: &menu.Menu{
			Version:   1,
			Title:     "Leg Day",
			Warnings:  []string{"Not medical advice."},
			Rationale: []string{"Squats were last done 3 days ago."},
			Items: []menu.Item{{
				BodyPart:     "legs",
				ExerciseName: "Back Squat",
				Note:         &note,
				Sets: []menu.Set{
					{Reps: 8, Weight: floatPtr(62.5), RPE: floatPtr(8), RestSec: floatPtr(90)},
					{Reps: 8},
				},
			}},
			Cooldown: []string{"Hamstring stretch"},
		},
		Shape:   menu.ShapeCanonical,
		Quality: menu.QualityStrict,
	}
}

func newTestBot(t *testing.T, svc Service) (*Bot, *fakeAPI, *SessionRepository) {
	t.Helper()
	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		DeviceTimezone:         "Asia/Tokyo",
		PendingMenuTTL:         30 * time.Minute,
		TelegramAllowedUserIDs: []int64{42},
	}
	api := &fakeAPI{}
	sessions := NewSessionRepository(db.SQL)
	b := newBot(api, cfg, svc, sessions, logger.NewNop())
	b.now = func() time.Time { return time.Date(2026, 5, 5, 20, 0, 0, 0, time.UTC) }
	return b, api, sessions
}

func commandMessage(text string) *tgbotapi.Message {
	cmd := strings.Fields(text)[0]
	return &tgbotapi.Message{
		MessageID: 1,
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
		Chat:      &tgbotapi.Chat{ID: 1},
		From:      &tgbotapi.User{ID: 42},
	}
}

func TestFormatMenuMarkdown(t *testing.T) {
	output := formatMenuMarkdown("2026-05-05", sampleResult())

	if !strings.Contains(output, "🏋️ *Leg Day* (2026-05-05)") {
		t.Error("Missing menu header")
	}
	if !strings.Contains(output, "*1. Back Squat* (legs)") {
		t.Error("Missing exercise line")
	}
	if !strings.Contains(output, "8 reps × 62.5kg · RPE 8 · rest 90s") {
		t.Error("Missing prescribed set with weight")
	}
	if !strings.Contains(output, "  • 8 reps\n") {
		t.Error("Set without weight should list reps only")
	}
	if !strings.Contains(output, `back\_straight`) {
		t.Error("Markdown characters in notes should be escaped")
	}
	if !strings.Contains(output, "🧘 *Cooldown*\n• Hamstring stretch") {
		t.Error("Missing cooldown")
	}
	if strings.Contains(output, "corrected automatically") {
		t.Error("Strict menu should not carry the salvage note")
	}

	salvaged := sampleResult()
	salvaged.Quality = menu.QualitySalvaged
	salvaged.Menu.Title = ""
	output = formatMenuMarkdown("2026-05-05", salvaged)
	if !strings.Contains(output, "*Today's Menu*") {
		t.Error("Empty title should fall back to the default")
	}
	if !strings.Contains(output, "corrected automatically") {
		t.Error("Missing salvage note")
	}
}

func TestParseMenuArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    app.GenerateOptions
		wantErr bool
	}{
		{name: "Empty", args: "  ", wantErr: true},
		{
			name: "BodyPartOnly",
			args: "legs",
			want: app.GenerateOptions{BodyPart: "legs", ApplyStrategy: planner.ApplyAppend, AllowWeightSuggestion: true},
		},
		{
			name: "Full",
			args: "chest 45 REPLACE build strength",
			want: app.GenerateOptions{BodyPart: "chest", TimeLimitMin: 45, ApplyStrategy: planner.ApplyReplace, Goal: "build strength", AllowWeightSuggestion: true},
		},
		{
			name: "SecondNumberIsGoal",
			args: "back 30 5 rounds",
			want: app.GenerateOptions{BodyPart: "back", TimeLimitMin: 30, ApplyStrategy: planner.ApplyAppend, Goal: "5 rounds", AllowWeightSuggestion: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMenuArgs(tt.args)
			if tt.wantErr {
				assert.ErrorIs(t, err, errMenuUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCallbackData(t *testing.T) {
	got, err := parseCallbackData("apply|12|ai_or_last")
	require.NoError(t, err)
	assert.Equal(t, callbackAction{Action: "apply", SessionID: 12, Weights: planner.WeightAIOrLast}, got)

	got, err = parseCallbackData("apply|3")
	require.NoError(t, err)
	assert.Equal(t, planner.WeightLast, got.Weights)

	got, err = parseCallbackData("discard|7")
	require.NoError(t, err)
	assert.Equal(t, callbackAction{Action: "discard", SessionID: 7}, got)

	for _, bad := range []string{"apply", "apply|x|last", "apply|1|heaviest", "redo|1"} {
		_, err := parseCallbackData(bad)
		assert.Error(t, err, bad)
	}
}

func TestMenuThenApply(t *testing.T) {
	svc := &fakeService{result: sampleResult()}
	b, api, sessions := newTestBot(t, svc)

	b.processMessage(commandMessage("/menu legs 40 replace"))

	assert.Equal(t, "2026-05-06", svc.genDate, "date follows the device timezone")
	assert.Equal(t, 40, svc.genOpts.TimeLimitMin)

	edit, ok := api.last(t).(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Contains(t, edit.Text, "Back Squat")
	require.NotNil(t, edit.ReplyMarkup)
	applyData := edit.ReplyMarkup.InlineKeyboard[0][1].CallbackData
	require.NotNil(t, applyData)

	action, err := parseCallbackData(*applyData)
	require.NoError(t, err)
	session, err := sessions.Get(context.Background(), action.SessionID, "42")
	require.NoError(t, err)
	require.NotNil(t, session)

	b.handleCallbackQuery(&tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 1}},
		Data:    *applyData,
	})

	require.Len(t, svc.applied, 1)
	call := svc.applied[0]
	assert.Equal(t, "2026-05-06", call.Date)
	assert.Equal(t, planner.ApplyReplace, call.Strategy)
	assert.Equal(t, planner.WeightAIOrLast, call.Weights)
	assert.Equal(t, "Back Squat", call.Menu.Items[0].ExerciseName)

	done, ok := api.last(t).(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Contains(t, done.Text, "2 sets")

	session, err = sessions.Get(context.Background(), action.SessionID, "42")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, StateApplied, session.State)

	// A second tap on the same keyboard is answered without applying again.
	b.handleCallbackQuery(&tgbotapi.CallbackQuery{
		ID:      "cb2",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 1}},
		Data:    *applyData,
	})
	assert.Len(t, svc.applied, 1)
	assert.Equal(t, done, api.last(t), "applied message is left as is")
	answer, ok := api.requests[len(api.requests)-1].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb2", answer.CallbackQueryID)
	assert.Contains(t, answer.Text, "already applied")
}

func pendingMenu(t *testing.T, sessions *SessionRepository) int64 {
	t.Helper()
	id, err := sessions.Create(context.Background(), "42", SessionTypePendingMenu, StateAwaitingApply, SessionContextData{
		Date:          "2026-05-06",
		ApplyStrategy: planner.ApplyAppend,
		Menu:          sampleResult().Menu,
	}, time.Hour)
	require.NoError(t, err)
	return id
}

func callback(id string, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      id,
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 1}},
		Data:    data,
	}
}

func TestConcurrentApplyTapsApplyOnce(t *testing.T) {
	svc := &fakeService{}
	b, _, sessions := newTestBot(t, svc)
	id := strconv.FormatInt(pendingMenu(t, sessions), 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			weights := planner.WeightLast
			if i%2 == 1 {
				weights = planner.WeightAIOrLast
			}
			b.handleCallbackQuery(callback("cb"+strconv.Itoa(i), "apply|"+id+"|"+string(weights)))
		}(i)
	}
	wg.Wait()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Len(t, svc.applied, 1)
}

func TestApplyFailureKeepsMenuPending(t *testing.T) {
	svc := &fakeService{applyErr: errors.New("database is locked")}
	b, api, sessions := newTestBot(t, svc)
	sessionID := pendingMenu(t, sessions)
	data := "apply|" + strconv.FormatInt(sessionID, 10) + "|last"

	b.handleCallbackQuery(callback("cb1", data))
	failed, ok := api.last(t).(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Contains(t, failed.Text, "Error applying menu")
	require.NotNil(t, failed.ReplyMarkup, "retry keyboard is offered")

	s, err := sessions.Get(context.Background(), sessionID, "42")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApply, s.State)

	b.handleCallbackQuery(callback("cb2", data))
	assert.Len(t, svc.applied, 1)
	done := api.last(t).(tgbotapi.EditMessageTextConfig)
	assert.Contains(t, done.Text, "Applied to 2026-05-06")
}

func TestDiscardThenApply(t *testing.T) {
	svc := &fakeService{}
	b, api, sessions := newTestBot(t, svc)
	id := strconv.FormatInt(pendingMenu(t, sessions), 10)

	b.handleCallbackQuery(callback("cb1", "discard|"+id))
	edit := api.last(t).(tgbotapi.EditMessageTextConfig)
	assert.Contains(t, edit.Text, "discarded")

	b.handleCallbackQuery(callback("cb2", "apply|"+id+"|last"))
	assert.Empty(t, svc.applied)
	answer := api.requests[len(api.requests)-1].(tgbotapi.CallbackConfig)
	assert.Equal(t, "This menu was discarded.", answer.Text)
}

func TestCallbackExpiredOrForeign(t *testing.T) {
	svc := &fakeService{}
	b, api, sessions := newTestBot(t, svc)
	ctx := context.Background()

	id, err := sessions.Create(ctx, "99", SessionTypePendingMenu, StateAwaitingApply, SessionContextData{Date: "2026-05-05", Menu: sampleResult().Menu}, time.Minute)
	require.NoError(t, err)

	b.handleCallbackQuery(&tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 1}},
		Data:    "apply|" + strconv.FormatInt(id, 10) + "|last",
	})

	assert.Empty(t, svc.applied)
	edit, ok := api.last(t).(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Contains(t, edit.Text, "expired")
}

func TestUndoAndMetricsCommands(t *testing.T) {
	svc := &fakeService{undo: &app.ApplyCommand{Date: "2026-05-05", Result: &planner.ApplyResult{SetIDs: []string{"a", "b", "c"}}}}
	b, api, _ := newTestBot(t, svc)

	b.processMessage(commandMessage("/undo"))
	msg := api.last(t).(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "3 sets removed")

	b.processMessage(commandMessage("/undo"))
	msg = api.last(t).(tgbotapi.MessageConfig)
	assert.Equal(t, "Nothing to undo.", msg.Text)

	b.processMessage(commandMessage("/metrics"))
	msg = api.last(t).(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "*2026-05-05*: 120 tokens (2 execs)")
	assert.Contains(t, msg.Text, "Database: 1.0 MB")
	assert.Contains(t, msg.Text, "Exports: 2.0 KB (3 files)")

	b.processMessage(commandMessage("/start"))
	msg = api.last(t).(tgbotapi.MessageConfig)
	assert.Equal(t, helpText, msg.Text)
}

func TestAskAndNewChatCommands(t *testing.T) {
	svc := &fakeService{reply: "## Form\n*Brace* before you descend."}
	b, api, _ := newTestBot(t, svc)

	b.processMessage(commandMessage("/ask"))
	msg := api.last(t).(tgbotapi.MessageConfig)
	assert.Equal(t, errAskUsage.Error(), msg.Text)
	assert.Empty(t, svc.asked)

	b.processMessage(commandMessage("/ask how deep should I squat?"))
	b.processMessage(commandMessage("/ask and how many sets?"))
	edit := api.last(t).(tgbotapi.EditMessageTextConfig)
	assert.Equal(t, svc.reply, edit.Text)
	assert.Empty(t, edit.ParseMode, "replies are plain text")

	b.processMessage(commandMessage("/newchat"))
	msg = api.last(t).(tgbotapi.MessageConfig)
	assert.Equal(t, chat.Greeting, msg.Text)

	b.processMessage(commandMessage("/ask new topic"))
	assert.Equal(t, []string{
		"thread_1: how deep should I squat?",
		"thread_1: and how many sets?",
		"thread_2: new topic",
	}, svc.asked)

	svc.askErr = errors.New("model unavailable")
	b.processMessage(commandMessage("/ask still there?"))
	edit = api.last(t).(tgbotapi.EditMessageTextConfig)
	assert.Contains(t, edit.Text, "Error answering")
	assert.Contains(t, edit.Text, "model unavailable")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "ああ…", truncateRunes("あああああ", 3))
}

func TestWebhookIgnoresUnauthorizedCallbacks(t *testing.T) {
	b, api, _ := newTestBot(t, &fakeService{})
	mux := http.NewServeMux()
	b.RegisterHandlers(mux)

	body := `{"update_id":1,"callback_query":{"id":"cb","from":{"id":7},"data":"discard|1"}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, api.requests)
	assert.Empty(t, api.sent)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db.SQL)
	now := time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	data := SessionContextData{Date: "2026-05-05", ApplyStrategy: planner.ApplyAppend, Menu: sampleResult().Menu}
	short, err := repo.Create(ctx, "42", SessionTypePendingMenu, StateAwaitingApply, data, time.Minute)
	require.NoError(t, err)
	long, err := repo.Create(ctx, "42", SessionTypePendingMenu, StateAwaitingApply, data, time.Hour)
	require.NoError(t, err)

	foreign, err := repo.Transition(ctx, long, "7", StateAwaitingApply, StateApplying)
	require.NoError(t, err)
	assert.Nil(t, foreign, "only the owner can claim a menu")

	claimed, err := repo.Transition(ctx, long, "42", StateAwaitingApply, StateApplying)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, StateApplying, claimed.State)

	got, err := claimed.GetContextData()
	require.NoError(t, err)
	assert.Equal(t, "Back Squat", got.Menu.Items[0].ExerciseName)
	assert.Equal(t, 62.5, *got.Menu.Items[0].Sets[0].Weight)

	again, err := repo.Transition(ctx, long, "42", StateAwaitingApply, StateApplying)
	require.NoError(t, err)
	assert.Nil(t, again, "a claimed menu cannot be claimed twice")

	now = now.Add(10 * time.Minute)
	s, err := repo.Get(ctx, short, "42")
	require.NoError(t, err)
	assert.Nil(t, s, "expired session is not returned")
	expired, err := repo.Transition(ctx, short, "42", StateAwaitingApply, StateApplying)
	require.NoError(t, err)
	assert.Nil(t, expired, "expired session cannot be claimed")

	removed, err := repo.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	s, err = repo.Get(ctx, long, "42")
	require.NoError(t, err)
	assert.Equal(t, StateApplying, s.State)
}
