package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-workout-planner/internal/ailog"
	"ai-workout-planner/internal/llm"
	"ai-workout-planner/internal/logger"
	"ai-workout-planner/internal/profile"
	"ai-workout-planner/internal/shared"
)

// ChatHistoryLimit is how many earlier turns accompany a chat question.
const ChatHistoryLimit = 10

const agentChat = "chat"

// ErrEmptyQuestion is returned for blank chat questions.
var ErrEmptyQuestion = errors.New("question is empty")

// Coach answers free-form training questions with the user's profile as
// context.
type Coach struct {
	profiles ProfileReader
	textGen  llm.TextGenerator
	logs     ailog.Logger
	log      *logger.Logger
}

// NewCoach creates a new Coach instance.
func NewCoach(profiles ProfileReader, textGen llm.TextGenerator, logs ailog.Logger, log *logger.Logger) *Coach {
	return &Coach{profiles: profiles, textGen: textGen, logs: logs, log: log}
}

// Reply answers question. history holds the earlier turns of the
// conversation, oldest first, and only its last ChatHistoryLimit entries are
// sent. One interaction record is written per call that reaches the model.
func (c *Coach) Reply(ctx context.Context, question string, history []llm.Message) (string, shared.AgentMeta, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", shared.AgentMeta{}, ErrEmptyQuestion
	}

	p, err := c.profiles.Get(ctx)
	if err != nil {
		return "", shared.AgentMeta{}, fmt.Errorf("failed to load profile: %w", err)
	}
	block := profile.FormatForPrompt(p)
	if block == "" {
		c.log.Warn("Chat question sent without a profile")
	}
	prompt, err := ComposeChatPrompt(question, block)
	if err != nil {
		return "", shared.AgentMeta{}, err
	}

	start := time.Now()
	resp, err := c.textGen.GenerateContent(ctx, prompt.ChatRequest(TrimHistory(history, ChatHistoryLimit)))
	meta := shared.AgentMeta{AgentName: agentChat, Usage: resp.Usage, Latency: time.Since(start)}

	reply := strings.TrimSpace(resp.Content)
	if err == nil && reply == "" {
		err = llm.ErrEmptyResponse
	}
	c.record(ctx, prompt, reply, err)
	if err != nil {
		c.log.Error("Chat reply failed", "error", err)
		return "", meta, &TransportError{Err: err}
	}
	return reply, meta, nil
}

func (c *Coach) record(ctx context.Context, prompt Prompt, reply string, replyErr error) {
	rec := ailog.Record{Kind: ailog.KindChat, RequestText: prompt.Text}
	if reply != "" {
		rec.ResponseText = &reply
	}
	if replyErr != nil {
		msg := replyErr.Error()
		rec.Error = &msg
	}
	if _, err := c.logs.Create(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Warn("Failed to write AI interaction log", "error", err)
	}
}

// TrimHistory keeps the last limit messages of history.
func TrimHistory(history []llm.Message, limit int) []llm.Message {
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
