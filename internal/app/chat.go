package app

import (
	"context"
	"errors"
	"fmt"

	"ai-workout-planner/internal/chat"
	"ai-workout-planner/internal/llm"
)

// ErrUnknownThread is returned for chat thread ids that do not exist.
var ErrUnknownThread = errors.New("unknown chat thread")

// ChatExchange is one answered question.
type ChatExchange struct {
	Thread   *chat.Thread
	Question *chat.Message
	Reply    *chat.Message
}

// ChatThreadFor returns owner's latest thread, creating one when owner has
// none or fresh is set.
func (a *App) ChatThreadFor(ctx context.Context, owner string, fresh bool) (*chat.Thread, error) {
	if !fresh {
		t, err := a.chats.LatestThread(ctx, owner)
		if err != nil || t != nil {
			return t, err
		}
	}
	return a.chats.CreateThread(ctx, owner)
}

// ChatThreads lists owner's threads with their latest message.
func (a *App) ChatThreads(ctx context.Context, owner string) ([]chat.ThreadSummary, error) {
	return a.chats.ListThreads(ctx, owner)
}

// ChatMessages lists the messages of a thread, oldest first.
func (a *App) ChatMessages(ctx context.Context, threadID string) ([]chat.Message, error) {
	t, err := a.chats.Thread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	return a.chats.Messages(ctx, threadID)
}

// DeleteChatThread removes a thread and its messages.
func (a *App) DeleteChatThread(ctx context.Context, threadID string) error {
	deleted, err := a.chats.DeleteThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	return nil
}

// Ask sends question to the coach with the thread's earlier messages as
// history. The question and the reply are stored together, so a failed
// exchange leaves the thread unchanged. A thread still carrying the default
// title is renamed after its first question.
func (a *App) Ask(ctx context.Context, threadID, question string) (*ChatExchange, error) {
	thread, err := a.chats.Thread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	msgs, err := a.chats.Messages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	// The greeting that opens a thread is not sent to the model.
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(history) == 0 && m.Role != chat.RoleUser {
			continue
		}
		history = append(history, llm.Message{Role: m.Role, Text: m.Text})
	}

	askCtx, cancel := context.WithTimeout(ctx, a.cfg.GenerationTimeout)
	defer cancel()
	reply, meta, err := a.coach.Reply(askCtx, question, history)
	if meta.AgentName != "" {
		if err := a.metricsStore.RecordMeta(context.WithoutCancel(ctx), meta); err != nil {
			a.log.Warn("Failed to record metrics", "agent", meta.AgentName, "error", err)
		}
	}
	if err != nil {
		if errors.Is(askCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("chat reply timed out after %s: %w", a.cfg.GenerationTimeout, err)
		}
		return nil, fmt.Errorf("failed to get chat reply: %w", err)
	}

	ex := &ChatExchange{Thread: thread}
	err = a.chats.InTx(ctx, func(tx *chat.Repository) error {
		if ex.Question, err = tx.AddMessage(ctx, threadID, chat.RoleUser, question); err != nil {
			return err
		}
		if ex.Reply, err = tx.AddMessage(ctx, threadID, chat.RoleBot, reply); err != nil {
			return err
		}
		title := ""
		if thread.Title == chat.DefaultTitle {
			title = chat.DeriveTitle(question)
			thread.Title = title
		}
		return tx.Touch(ctx, threadID, title)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store chat exchange: %w", err)
	}
	a.log.Info("Chat answered", "thread_id", threadID, "history", len(history), "tokens", meta.Usage.Total())
	return ex, nil
}
