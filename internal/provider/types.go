// Package provider defines the contracts for the external services the
// pipeline delegates to: transcription, translation and quality evaluation.
// Implementations live in subpackages; the pipeline only sees these
// interfaces plus the error taxonomy in errors.go.
package provider

import (
	"context"

	"subsync/internal/subtitle"
)

// Transcription is the canonical output of a transcription run. The segment
// list establishes the cue count and timing for every language of the file.
type Transcription struct {
	Segments []subtitle.Segment
	Language string // detected source language, ISO 639-1
}

// Transcriber turns a media file into ordered, timed segments covering the
// full duration.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (*Transcription, error)
}

// TranslationRequest is a batch of texts to translate. Context carries
// adjacent segment text purely as context; implementations must return
// translations only for Texts, one-to-one and in order.
type TranslationRequest struct {
	Texts      []string
	Context    []string
	SourceLang string
	TargetLang string
}

// Translator translates a batch of subtitle texts. A response whose length
// differs from len(req.Texts) is a protocol violation; callers fall back to
// per-item requests rather than guessing at realignment.
type Translator interface {
	Translate(ctx context.Context, req TranslationRequest) ([]string, error)
}

// Evaluation is an advisory quality score for one original/translated pair.
type Evaluation struct {
	Score  float64 // 0-10
	Issues []string
}

// Evaluator scores a translation. Results never gate pipeline transitions.
type Evaluator interface {
	Evaluate(ctx context.Context, original, translated string) (*Evaluation, error)
}
