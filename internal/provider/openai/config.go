package openai

import (
	"fmt"
	"time"
)

// Config holds the connection settings for an OpenAI-compatible API.
// The same endpoint serves chat completions (translation, evaluation)
// and audio transcription.
type Config struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	TranscribeModel string
	MaxTokens       int
	Temperature     float64
	Timeout         time.Duration
}

const (
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultChatModel       = "gpt-4o-mini"
	defaultTranscribeModel = "whisper-1"
	defaultMaxTokens       = 4096
	defaultTemperature     = 0.2
	defaultTimeout         = 120 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.ChatModel == "" {
		c.ChatModel = defaultChatModel
	}
	if c.TranscribeModel == "" {
		c.TranscribeModel = defaultTranscribeModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = defaultTemperature
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Validate reports the first configuration problem, if any.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}
