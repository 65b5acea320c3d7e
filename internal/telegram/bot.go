package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ai-workout-planner/internal/app"
	"ai-workout-planner/internal/chat"
	"ai-workout-planner/internal/config"
	"ai-workout-planner/internal/logger"
	"ai-workout-planner/internal/menu"
	"ai-workout-planner/internal/metrics"
	"ai-workout-planner/internal/planner"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = "🏋️ AI Workout Planner\n\n" +
	"/menu <bodyPart> [minutes] [append|replace] [goal]\n" +
	"/undo - revert the last applied menu\n" +
	"/ask <question> - ask the coach\n" +
	"/newchat - start a new conversation\n" +
	"/metrics - usage and health report"

// Telegram rejects longer message texts.
const maxMessageRunes = 4096

var (
	errMenuUsage = errors.New("usage: /menu <bodyPart> [minutes] [append|replace] [goal]")
	errAskUsage  = errors.New("usage: /ask <question>")
)

// Service is the part of the application the bot drives.
type Service interface {
	GenerateTodayMenu(ctx context.Context, date string, opts app.GenerateOptions) (*menu.Result, error)
	ApplyTodayMenu(ctx context.Context, date string, m *menu.Menu, strategy planner.ApplyStrategy, weights planner.WeightStrategy) (*planner.ApplyResult, error)
	UndoLastApply(ctx context.Context) (*app.ApplyCommand, error)
	DailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
	SysHealth() metrics.SysHealth
	ChatThreadFor(ctx context.Context, owner string, fresh bool) (*chat.Thread, error)
	Ask(ctx context.Context, threadID, question string) (*app.ChatExchange, error)
}

// botAPI is the subset of tgbotapi.BotAPI the bot uses.
type botAPI interface {
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot wraps the Telegram API and the workout planner.
type Bot struct {
	api      botAPI
	service  Service
	sessions *SessionRepository
	cfg      *config.Config
	log      *logger.Logger
	now      func() time.Time
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, service Service, sessions *SessionRepository, log *logger.Logger) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	log.Info("Authorized on account", "username", bot.Self.UserName)

	webhookURL := cfg.TelegramWebhookURL
	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url %s: %w", webhookURL, err)
	}
	resp, err := bot.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", webhookURL, err)
	}
	log.Info("Webhook set", "response", resp.Description)

	return newBot(bot, cfg, service, sessions, log), nil
}

func newBot(api botAPI, cfg *config.Config, service Service, sessions *SessionRepository, log *logger.Logger) *Bot {
	return &Bot{
		api:      api,
		service:  service,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// RegisterHandlers registers the webhook and health handlers on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.log.Warn("Error parsing update", "error", err)
		return
	}

	if update.CallbackQuery != nil {
		if !b.isAllowed(update.CallbackQuery.From) {
			return
		}
		b.handleCallbackQuery(update.CallbackQuery)
		return
	}

	if update.Message == nil || !b.isAllowed(update.Message.From) {
		return
	}

	go b.processMessage(update.Message)
}

func (b *Bot) isAllowed(from *tgbotapi.User) bool {
	if from == nil {
		return false
	}
	for _, id := range b.cfg.TelegramAllowedUserIDs {
		if from.ID == id {
			return true
		}
	}
	b.log.Warn("⚠️ Unauthorized access attempt", "user_id", from.ID, "username", from.UserName)
	return false
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	ctx := context.Background()

	switch msg.Command() {
	case "menu":
		b.handleMenuCommand(ctx, msg)
	case "undo":
		b.handleUndoCommand(ctx, msg.Chat.ID)
	case "ask":
		b.handleAskCommand(ctx, msg)
	case "newchat":
		b.handleNewChatCommand(ctx, msg)
	case "metrics":
		b.handleMetricsCommand(ctx, msg.Chat.ID)
	default:
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, helpText))
	}
}

// parseMenuArgs reads "<bodyPart> [minutes] [append|replace] [goal...]".
func parseMenuArgs(args string) (app.GenerateOptions, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return app.GenerateOptions{}, errMenuUsage
	}

	opts := app.GenerateOptions{
		BodyPart:              fields[0],
		ApplyStrategy:         planner.ApplyAppend,
		AllowWeightSuggestion: true,
	}
	var goal []string
	for _, f := range fields[1:] {
		if n, err := strconv.Atoi(f); err == nil && n > 0 && opts.TimeLimitMin == 0 {
			opts.TimeLimitMin = n
			continue
		}
		switch planner.ApplyStrategy(strings.ToLower(f)) {
		case planner.ApplyAppend:
			opts.ApplyStrategy = planner.ApplyAppend
			continue
		case planner.ApplyReplace:
			opts.ApplyStrategy = planner.ApplyReplace
			continue
		}
		goal = append(goal, f)
	}
	opts.Goal = strings.Join(goal, " ")
	return opts, nil
}

func (b *Bot) handleMenuCommand(ctx context.Context, msg *tgbotapi.Message) {
	opts, err := parseMenuArgs(msg.CommandArguments())
	if err != nil {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, err.Error()))
		return
	}

	replyMsg := tgbotapi.NewMessage(msg.Chat.ID, "🏋️ *Thinking...* \n(Reading your recent training and building today's menu)")
	replyMsg.ParseMode = tgbotapi.ModeMarkdown
	sentMsg, err := b.api.Send(replyMsg)
	if err != nil {
		b.log.Error("Failed to send initial reply", "error", err)
		return
	}

	date := b.today()
	b.log.Info("Generating menu", "date", date, "body_part", opts.BodyPart, "time_limit_min", opts.TimeLimitMin)

	res, err := b.service.GenerateTodayMenu(ctx, date, opts)
	if err != nil {
		b.log.Error("Error generating menu", "error", err)
		b.editMarkdown(msg.Chat.ID, sentMsg.MessageID, errorText("Error generating menu", err), nil)
		return
	}

	text := formatMenuMarkdown(date, res)
	userID := strconv.FormatInt(msg.From.ID, 10)
	sessionID, err := b.sessions.Create(ctx, userID, SessionTypePendingMenu, StateAwaitingApply, SessionContextData{
		Date:          date,
		ApplyStrategy: opts.ApplyStrategy,
		Menu:          res.Menu,
	}, b.cfg.PendingMenuTTL)
	if err != nil {
		b.log.Error("Failed to store pending menu", "error", err)
		b.editMarkdown(msg.Chat.ID, sentMsg.MessageID, text+"\n\n_Could not keep this menu for applying._", nil)
		return
	}

	keyboard := menuKeyboard(sessionID)
	b.editMarkdown(msg.Chat.ID, sentMsg.MessageID, text, &keyboard)
}

func menuKeyboard(sessionID int64) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(sessionID, 10)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Apply (last weights)", "apply|"+id+"|"+string(planner.WeightLast)),
			tgbotapi.NewInlineKeyboardButtonData("🤖 Apply (AI weights)", "apply|"+id+"|"+string(planner.WeightAIOrLast)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Discard", "discard|"+id),
		),
	)
}

type callbackAction struct {
	Action    string
	SessionID int64
	Weights   planner.WeightStrategy
}

// parseCallbackData reads "apply|<id>|<weights>" or "discard|<id>".
func parseCallbackData(data string) (callbackAction, error) {
	parts := strings.Split(data, "|")
	if len(parts) < 2 {
		return callbackAction{}, fmt.Errorf("malformed callback data %q", data)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return callbackAction{}, fmt.Errorf("malformed session id in callback data %q", data)
	}

	switch parts[0] {
	case "discard":
		return callbackAction{Action: "discard", SessionID: id}, nil
	case "apply":
		raw := ""
		if len(parts) > 2 {
			raw = parts[2]
		}
		weights, err := planner.ParseWeightStrategy(raw)
		if err != nil {
			return callbackAction{}, err
		}
		return callbackAction{Action: "apply", SessionID: id, Weights: weights}, nil
	default:
		return callbackAction{}, fmt.Errorf("unknown callback action %q", parts[0])
	}
}

func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	ctx := context.Background()

	action, err := parseCallbackData(query.Data)
	if err != nil || query.Message == nil {
		if err != nil {
			b.log.Warn("Ignoring callback", "error", err)
		}
		b.answerCallback(query.ID, "")
		return
	}
	chatID, messageID := query.Message.Chat.ID, query.Message.MessageID
	userID := strconv.FormatInt(query.From.ID, 10)

	next := StateApplying
	if action.Action == "discard" {
		next = StateDiscarded
	}
	session, err := b.sessions.Transition(ctx, action.SessionID, userID, StateAwaitingApply, next)
	if err != nil {
		b.answerCallback(query.ID, "")
		b.log.Error("Failed to claim pending menu", "error", err)
		b.editMarkdown(chatID, messageID, errorText("Error loading menu", err), nil)
		return
	}
	if session == nil {
		b.rejectCallback(ctx, query, chatID, messageID, action.SessionID, userID)
		return
	}
	b.answerCallback(query.ID, "")

	if action.Action == "discard" {
		b.editMarkdown(chatID, messageID, "🗑 Menu discarded.", nil)
		return
	}

	data, err := session.GetContextData()
	if err != nil || data.Menu == nil {
		b.log.Error("Corrupt pending menu", "session_id", session.ID, "error", err)
		b.settle(ctx, session.ID, userID, StateDiscarded)
		b.editMarkdown(chatID, messageID, "❌ This menu can no longer be applied. Send /menu again.", nil)
		return
	}

	result, err := b.service.ApplyTodayMenu(ctx, data.Date, data.Menu, data.ApplyStrategy, action.Weights)
	if err != nil {
		b.log.Error("Error applying menu", "session_id", session.ID, "error", err)
		b.settle(ctx, session.ID, userID, StateAwaitingApply)
		keyboard := menuKeyboard(session.ID)
		b.editMarkdown(chatID, messageID, errorText("Error applying menu", err), &keyboard)
		return
	}
	b.settle(ctx, session.ID, userID, StateApplied)

	text := fmt.Sprintf("✅ *Applied to %s* (%s)\n%d exercises, %d sets\n\nSend /undo to revert.",
		data.Date, data.ApplyStrategy, len(result.ExerciseIDs), len(result.SetIDs))
	b.editMarkdown(chatID, messageID, text, nil)
}

// settle moves a claimed menu out of StateApplying.
func (b *Bot) settle(ctx context.Context, sessionID int64, userID, state string) {
	s, err := b.sessions.Transition(ctx, sessionID, userID, StateApplying, state)
	if err != nil || s == nil {
		b.log.Warn("Failed to update pending menu", "session_id", sessionID, "state", state, "error", err)
	}
}

// rejectCallback answers a tap on a menu that is no longer awaiting apply.
// Menus that are being or were already handled keep their message.
func (b *Bot) rejectCallback(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, messageID int, sessionID int64, userID string) {
	s, err := b.sessions.Get(ctx, sessionID, userID)
	if err == nil && s != nil {
		switch s.State {
		case StateApplying, StateApplied:
			b.answerCallback(query.ID, "This menu is already applied.")
			return
		case StateDiscarded:
			b.answerCallback(query.ID, "This menu was discarded.")
			return
		}
	}
	b.answerCallback(query.ID, "")
	b.editMarkdown(chatID, messageID, "⌛ This menu has expired. Send /menu again.", nil)
}

func (b *Bot) answerCallback(queryID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(queryID, text)); err != nil {
		b.log.Warn("Failed to answer callback", "error", err)
	}
}

func (b *Bot) handleUndoCommand(ctx context.Context, chatID int64) {
	cmd, err := b.service.UndoLastApply(ctx)
	if errors.Is(err, app.ErrNothingToUndo) {
		b.sendMarkdown(chatID, "Nothing to undo.")
		return
	}
	if err != nil {
		b.log.Error("Error undoing apply", "error", err)
		b.sendMarkdown(chatID, errorText("Error undoing apply", err))
		return
	}
	b.sendMarkdown(chatID, fmt.Sprintf("↩️ Reverted the menu applied to *%s* (%d sets removed).", cmd.Date, len(cmd.Result.SetIDs)))
}

// chatOwner keys conversations by Telegram user.
func chatOwner(from *tgbotapi.User) string {
	return "telegram:" + strconv.FormatInt(from.ID, 10)
}

func (b *Bot) handleAskCommand(ctx context.Context, msg *tgbotapi.Message) {
	question := strings.TrimSpace(msg.CommandArguments())
	if question == "" {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, errAskUsage.Error()))
		return
	}

	thread, err := b.service.ChatThreadFor(ctx, chatOwner(msg.From), false)
	if err != nil {
		b.log.Error("Failed to open chat thread", "error", err)
		b.sendMarkdown(msg.Chat.ID, errorText("Error opening conversation", err))
		return
	}

	sentMsg, err := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "💭 Thinking..."))
	if err != nil {
		b.log.Error("Failed to send initial reply", "error", err)
		return
	}

	ex, err := b.service.Ask(ctx, thread.ID, question)
	if err != nil {
		b.log.Error("Error answering question", "thread_id", thread.ID, "error", err)
		b.editMarkdown(msg.Chat.ID, sentMsg.MessageID, errorText("Error answering", err), nil)
		return
	}

	// Replies are sent as plain text: model markdown does not survive
	// Telegram's legacy parser.
	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sentMsg.MessageID, truncateRunes(ex.Reply.Text, maxMessageRunes))
	if _, err := b.api.Send(edit); err != nil {
		b.log.Warn("Failed to edit message", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (b *Bot) handleNewChatCommand(ctx context.Context, msg *tgbotapi.Message) {
	if _, err := b.service.ChatThreadFor(ctx, chatOwner(msg.From), true); err != nil {
		b.log.Error("Failed to start chat thread", "error", err)
		b.sendMarkdown(msg.Chat.ID, errorText("Error starting conversation", err))
		return
	}
	b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, chat.Greeting))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (b *Bot) handleMetricsCommand(ctx context.Context, chatID int64) {
	usage, err := b.service.DailyUsage(ctx, 7)
	if err != nil {
		b.api.Send(tgbotapi.NewMessage(chatID, "❌ Error fetching metrics."))
		return
	}
	b.sendMarkdown(chatID, formatMetricsMarkdown(usage, b.service.SysHealth()))
}

func formatMetricsMarkdown(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d execs)\n", d.Date, d.Tokens(), d.TotalExecution))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Database: %s\n", metrics.FormatBytes(health.DatabaseBytes)))
	sb.WriteString(fmt.Sprintf("• Exports: %s (%d files)\n", metrics.FormatBytes(health.ExportBytes), health.ExportFiles))
	return sb.String()
}

func formatMenuMarkdown(date string, res *menu.Result) string {
	m := res.Menu
	title := m.Title
	if strings.TrimSpace(title) == "" {
		title = "Today's Menu"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🏋️ *%s* (%s)\n", escape(title), date))
	if res.Quality == menu.QualitySalvaged {
		sb.WriteString("_Some values in this menu were corrected automatically._\n")
	}
	sb.WriteString("\n")

	for i, item := range m.Items {
		sb.WriteString(fmt.Sprintf("*%d. %s*", i+1, escape(item.ExerciseName)))
		if item.BodyPart != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", escape(item.BodyPart)))
		}
		sb.WriteString("\n")
		for _, s := range item.Sets {
			sb.WriteString("  • " + formatMenuSet(s) + "\n")
		}
		if item.Note != nil && *item.Note != "" {
			sb.WriteString(fmt.Sprintf("  _%s_\n", escape(*item.Note)))
		}
	}

	writeList(&sb, "\n💡 *Why*\n", m.Rationale)
	writeList(&sb, "\n🧘 *Cooldown*\n", m.Cooldown)
	writeList(&sb, "\n⚠️ *Notes*\n", m.Warnings)
	return sb.String()
}

func formatMenuSet(s menu.Set) string {
	parts := []string{fmt.Sprintf("%d reps", s.Reps)}
	if s.Weight != nil {
		parts[0] += " × " + strconv.FormatFloat(*s.Weight, 'f', -1, 64) + "kg"
	}
	if s.RPE != nil {
		parts = append(parts, "RPE "+strconv.FormatFloat(*s.RPE, 'f', -1, 64))
	}
	if s.RestSec != nil {
		parts = append(parts, "rest "+strconv.FormatFloat(*s.RestSec, 'f', -1, 64)+"s")
	}
	return strings.Join(parts, " · ")
}

func writeList(sb *strings.Builder, header string, lines []string) {
	if len(lines) == 0 {
		return
	}
	sb.WriteString(header)
	for _, l := range lines {
		sb.WriteString("• " + escape(l) + "\n")
	}
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func errorText(title string, err error) string {
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	return fmt.Sprintf("❌ *%s:*\n```\n%v\n```", title, safeErr)
}

func (b *Bot) today() string {
	loc, err := time.LoadLocation(b.cfg.DeviceTimezone)
	if err != nil {
		loc = time.UTC
	}
	return b.now().In(loc).Format("2006-01-02")
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("Failed to send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) editMarkdown(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	edit.ReplyMarkup = keyboard
	if _, err := b.api.Send(edit); err != nil {
		b.log.Warn("Failed to edit message", "chat_id", chatID, "error", err)
	}
}
