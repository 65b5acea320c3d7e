package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ai-workout-planner/internal/config"
	"ai-workout-planner/internal/shared"
)

// Output formats understood by the backends.
const (
	OutputFormatJSON     = "json"
	OutputFormatMarkdown = "markdown"
)

// ErrEmptyResponse is returned when a successful exchange carries no text.
var ErrEmptyResponse = errors.New("empty response")

// StatusError is returned when the endpoint answers with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: status=%d body=%s", e.StatusCode, e.Body)
}

// Message is one prior turn of a conversation.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request is one outbound completion request.
type Request struct {
	Text         string
	History      []Message
	System       string
	OutputFormat string
}

// ContentResponse contains the generated text and metadata like token usage.
// Menu is set instead of Content when the backend returned a structured menu.
type ContentResponse struct {
	Content string
	Menu    json.RawMessage
	Usage   shared.TokenUsage
}

// TextGenerator is an interface for generating text from a request.
type TextGenerator interface {
	GenerateContent(ctx context.Context, req Request) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// LLMClient is a TextGenerator holding resources that must be released.
type LLMClient interface {
	TextGenerator
	Closer
}

// NewClient creates the client for the configured provider.
func NewClient(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg)
	case config.ProviderEndpoint, "":
		return NewEndpointClient(cfg), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
}
