// Package openai implements the provider contracts against any
// OpenAI-compatible HTTP API: chat completions back translation and
// evaluation, the audio transcription endpoint backs transcription.
// All transport failures leave the package as classified provider
// errors so the pipeline can decide between retry and give-up.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"subsync/internal/provider"
)

// Client is a thin OpenAI-compatible API client. Thread-safe for
// concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient validates the configuration and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Error   *apiError    `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error: %s (type: %s, code: %s)", e.Message, e.Type, e.Code)
}

// chat runs one system+user exchange and returns the assistant content.
func (c *Client) chat(ctx context.Context, op, systemPrompt, userMessage string) (string, error) {
	request := chatRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return "", provider.Permanent(op, fmt.Errorf("marshal request: %w", err))
	}

	var response chatResponse
	if err := c.post(ctx, op, "/chat/completions", "application/json", bytes.NewReader(payload), &response); err != nil {
		return "", err
	}
	if response.Error != nil && response.Error.Message != "" {
		return "", provider.Permanent(op, response.Error)
	}
	if len(response.Choices) == 0 {
		return "", provider.Transient(op, fmt.Errorf("no choices in response"))
	}
	return response.Choices[0].Message.Content, nil
}

// post sends a request and decodes the JSON response into out. Non-2xx
// statuses are classified by code; network failures count as transient.
func (c *Client) post(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return provider.Permanent(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Transient(op, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Transient(op, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := provider.KindFromStatus(resp.StatusCode)
		message := string(responseBody)
		var failure struct {
			Error *apiError `json:"error"`
		}
		if json.Unmarshal(responseBody, &failure) == nil && failure.Error != nil {
			message = failure.Error.Message
		}
		return &provider.Error{
			Kind: kind,
			Op:   op,
			Err:  fmt.Errorf("status %d: %s", resp.StatusCode, message),
		}
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return provider.Transient(op, fmt.Errorf("parse response: %w", err))
	}
	return nil
}
