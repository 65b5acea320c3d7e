package planner

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"ai-workout-planner/internal/llm"
)

//go:embed prompts/*.md
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.md"))

// ApplyStrategy tells the caller whether existing same-day exercises are
// kept or removed before a menu is applied.
type ApplyStrategy string

const (
	ApplyAppend  ApplyStrategy = "append"
	ApplyReplace ApplyStrategy = "replace"
)

// MenuRequest holds the parameters of one menu generation.
type MenuRequest struct {
	Date                  string
	BodyPart              string
	TimeLimitMin          int
	Goal                  string
	ApplyStrategy         ApplyStrategy
	AllowWeightSuggestion bool
	Locale                string
	Timezone              string
}

// Prompt is a composed outbound request.
type Prompt struct {
	Text   string
	System string
}

// Request converts the prompt into a JSON-only transport request.
func (p Prompt) Request() llm.Request {
	return llm.Request{Text: p.Text, System: p.System, OutputFormat: llm.OutputFormatJSON}
}

// ChatRequest converts the prompt into a markdown request carrying the
// earlier turns of a conversation.
func (p Prompt) ChatRequest(history []llm.Message) llm.Request {
	return llm.Request{Text: p.Text, History: history, System: p.System, OutputFormat: llm.OutputFormatMarkdown}
}

type requestPromptData struct {
	MenuRequest
	TimeLimit string
	Profile   string
	Summary   string
}

type systemPromptData struct {
	Schema                string
	AllowWeightSuggestion bool
	TimeLimitMin          int
}

type repairPromptData struct {
	Reason          string
	OriginalRequest string
	InvalidOutput   string
}

// ComposeTodayMenuPrompt builds the request text and system prompt for a
// menu generation. An empty profile block is sent as "(none)".
func ComposeTodayMenuPrompt(req MenuRequest, profileBlock, summary string) (Prompt, error) {
	data := requestPromptData{
		MenuRequest: req,
		TimeLimit:   "unknown",
		Profile:     strings.TrimSpace(profileBlock),
		Summary:     summary,
	}
	if req.TimeLimitMin > 0 {
		data.TimeLimit = strconv.Itoa(req.TimeLimitMin)
	}
	data.Goal = strings.TrimSpace(req.Goal)
	if data.Goal == "" {
		data.Goal = "unknown"
	}
	if data.ApplyStrategy == "" {
		data.ApplyStrategy = ApplyAppend
	}
	if data.Profile == "" {
		data.Profile = emptyHistoryMarker
	}
	if data.Timezone == "" {
		data.Timezone = "UTC"
	}

	text, err := render("today_menu_request.md", data)
	if err != nil {
		return Prompt{}, err
	}
	schema, err := render("menu_schema.md", nil)
	if err != nil {
		return Prompt{}, err
	}
	system, err := render("today_menu_system.md", systemPromptData{
		Schema:                schema,
		AllowWeightSuggestion: req.AllowWeightSuggestion,
		TimeLimitMin:          req.TimeLimitMin,
	})
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Text: text, System: system}, nil
}

// ComposeRepairPrompt builds the single schema-coercion request sent after
// an invalid first response.
func ComposeRepairPrompt(original Prompt, invalidOutput string, cause error) (Prompt, error) {
	reason := "invalid output"
	if cause != nil {
		reason = cause.Error()
	}
	text, err := render("repair_request.md", repairPromptData{
		Reason:          reason,
		OriginalRequest: original.Text,
		InvalidOutput:   invalidOutput,
	})
	if err != nil {
		return Prompt{}, err
	}
	schema, err := render("menu_schema.md", nil)
	if err != nil {
		return Prompt{}, err
	}
	system, err := render("repair_system.md", systemPromptData{Schema: schema})
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Text: text, System: system}, nil
}

type chatPromptData struct {
	Profile  string
	Question string
}

// ComposeChatPrompt wraps a coaching question with the profile block. Without
// a profile the question is sent as is.
func ComposeChatPrompt(question, profileBlock string) (Prompt, error) {
	text, err := render("chat_request.md", chatPromptData{
		Profile:  strings.TrimSpace(profileBlock),
		Question: strings.TrimSpace(question),
	})
	if err != nil {
		return Prompt{}, err
	}
	system, err := render("chat_system.md", nil)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Text: text, System: system}, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
