package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"subsync/internal/provider"
)

// Evaluator scores translations through the chat endpoint.
type Evaluator struct {
	client *Client
}

func NewEvaluator(client *Client) *Evaluator {
	return &Evaluator{client: client}
}

const evaluatorSystemPrompt = `You are a translation quality reviewer for interview subtitles.
Rate how well the translated text preserves the meaning, tone and register of the original.

Respond with ONLY a JSON object in this exact shape:
{"score": <number from 0 to 10>, "issues": ["<short issue description>", ...]}

A score of 10 means a faithful, natural translation. List at most five issues; use an empty list when there are none.`

// Evaluate scores one original/translated pair. Scores are advisory; a
// malformed verdict is an error, not a zero.
func (e *Evaluator) Evaluate(ctx context.Context, original, translated string) (*provider.Evaluation, error) {
	const op = "evaluate"

	userMessage := fmt.Sprintf("Original:\n%s\n\nTranslation:\n%s", original, translated)
	content, err := e.client.chat(ctx, op, evaluatorSystemPrompt, userMessage)
	if err != nil {
		return nil, err
	}

	var verdict struct {
		Score  float64  `json:"score"`
		Issues []string `json:"issues"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &verdict); err != nil {
		return nil, provider.Protocol(op, fmt.Errorf("parse verdict %q: %w", content, err))
	}
	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 10 {
		verdict.Score = 10
	}
	return &provider.Evaluation{Score: verdict.Score, Issues: verdict.Issues}, nil
}

// stripCodeFence unwraps a ```json ... ``` block if the model added one.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
