package openai

import (
	"context"
	"fmt"
	"strings"

	"subsync/internal/provider"
)

// Segments travel in one prompt, one per line, separated by a marker the
// model is told to echo back. Line breaks inside a single cue are masked
// so they cannot be confused with segment boundaries.
const (
	segmentSeparator  = "@@@"
	inlineBreakMarker = "<br>"
)

// Translator translates subtitle batches through the chat endpoint.
type Translator struct {
	client *Client
}

func NewTranslator(client *Client) *Translator {
	return &Translator{client: client}
}

// Translate sends the batch in a single prompt and parses one translation
// per input text. The response count is not enforced here; callers verify
// it and fall back to smaller batches when the model misbehaves.
func (t *Translator) Translate(ctx context.Context, req provider.TranslationRequest) ([]string, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}

	masked := make([]string, len(req.Texts))
	for i, text := range req.Texts {
		masked[i] = strings.ReplaceAll(text, "\n", inlineBreakMarker)
	}
	userMessage := strings.Join(masked, "\n"+segmentSeparator+"\n")

	content, err := t.client.chat(ctx, "translate", t.systemPrompt(req), userMessage)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(content, segmentSeparator)
	translations := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		translations = append(translations, strings.ReplaceAll(part, inlineBreakMarker, "\n"))
	}
	return translations, nil
}

func (t *Translator) systemPrompt(req provider.TranslationRequest) string {
	var prompt strings.Builder

	source := req.SourceLang
	if source == "" {
		source = "the detected source language"
	}
	prompt.WriteString("You are a professional subtitle translator working on interview recordings. ")
	prompt.WriteString(fmt.Sprintf("Translate each subtitle segment from %s to %s.\n\n", source, req.TargetLang))

	if len(req.Context) > 0 {
		prompt.WriteString("=== SURROUNDING DIALOGUE ===\n")
		prompt.WriteString("The following segments come immediately before or after the ones you must translate. ")
		prompt.WriteString("Use them to resolve pronouns and topic references. Do NOT translate or return them.\n")
		for _, line := range req.Context {
			prompt.WriteString(line + "\n")
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("=== TRANSLATION GUIDELINES ===\n")
	prompt.WriteString("1. Keep the spoken, conversational register of an interview\n")
	prompt.WriteString(fmt.Sprintf("2. Ensure %s flows naturally while preserving meaning\n", req.TargetLang))
	prompt.WriteString("3. Keep each segment short enough to read on screen\n")
	prompt.WriteString("4. Preserve " + inlineBreakMarker + " inline break markers exactly where they appear\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY the translated segments, in input order, separated by a line containing " + segmentSeparator + "\n")
	prompt.WriteString("Do not include explanations, notes, or numbering.\n")
	prompt.WriteString(fmt.Sprintf("The output must contain exactly %d segments.\n", len(req.Texts)))

	return prompt.String()
}
