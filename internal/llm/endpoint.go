package llm

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-workout-planner/internal/config"
	"ai-workout-planner/internal/shared"

	"github.com/golang-jwt/jwt/v5"
)

const endpointModel = "ai-endpoint"

// endpointClient talks to the chat endpoint that fronts the model.
type endpointClient struct {
	url        string
	key        string
	httpClient *http.Client
	now        func() time.Time
}

// NewEndpointClient creates a new client for the configured chat endpoint.
func NewEndpointClient(cfg *config.Config) LLMClient {
	return &endpointClient{
		url: cfg.EndpointURL,
		key: cfg.EndpointKey,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		now: time.Now,
	}
}

type endpointRequest struct {
	Text         string    `json:"text"`
	History      []Message `json:"history,omitempty"`
	System       string    `json:"system,omitempty"`
	OutputFormat string    `json:"outputFormat,omitempty"`
}

type endpointResponse struct {
	Text  string          `json:"text"`
	Menu  json.RawMessage `json:"menu"`
	Model string          `json:"model"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateContent posts the request and returns the reply text, or the
// structured menu when the endpoint provides one.
func (c *endpointClient) GenerateContent(ctx context.Context, r Request) (ContentResponse, error) {
	jsonBody, err := json.Marshal(endpointRequest{
		Text:         r.Text,
		History:      r.History,
		System:       r.System,
		OutputFormat: r.OutputFormat,
	})
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonBody))
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		token, err := signEndpointToken(c.key, c.now())
		if err != nil {
			return ContentResponse{}, fmt.Errorf("failed to create endpoint token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ContentResponse{}, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ContentResponse{}, ErrEmptyResponse
	}

	var parsed endpointResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ContentResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	out := ContentResponse{Usage: shared.TokenUsage{Model: endpointModel}}
	if parsed.Model != "" {
		out.Usage.Model = parsed.Model
	}
	if parsed.Usage != nil {
		out.Usage.PromptTokens = parsed.Usage.PromptTokens
		out.Usage.CompletionTokens = parsed.Usage.CompletionTokens
		out.Usage.TotalTokens = parsed.Usage.TotalTokens
	}

	if menu := bytes.TrimSpace(parsed.Menu); len(menu) > 0 && menu[0] == '{' {
		out.Menu = menu
		return out, nil
	}

	out.Content = strings.TrimSpace(parsed.Text)
	if out.Content == "" {
		return ContentResponse{}, ErrEmptyResponse
	}
	return out, nil
}

// Close releases idle connections.
func (c *endpointClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// signEndpointToken builds a short-lived HS256 token from an "id:hexsecret" key.
func signEndpointToken(key string, now time.Time) (string, error) {
	keyParts := strings.Split(key, ":")
	if len(keyParts) != 2 {
		return "", fmt.Errorf("invalid endpoint key format: expected id:secret")
	}

	secret, err := hex.DecodeString(keyParts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode secret hex: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	})
	token.Header["kid"] = keyParts[0]

	return token.SignedString(secret)
}
