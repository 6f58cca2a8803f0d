package pipeline

import (
	"context"
	"fmt"

	"subsync/internal/language"
	"subsync/internal/provider"
	"subsync/internal/segsync"
	"subsync/internal/store"
	"subsync/internal/subtitle"
	"subsync/pkg/log"
)

// Handler executes one stage kind for one claimed work item. Handlers are
// idempotent: re-running a completed item rewrites the same state.
type Handler interface {
	Kind() store.StageKind
	Process(ctx context.Context, item store.WorkItem) error
}

// TranscribeHandler runs transcription, records the detected source
// language and persists the canonical segment set plus its SRT artifact.
type TranscribeHandler struct {
	store       *store.Store
	transcriber provider.Transcriber
	classifier  language.Classifier
}

func NewTranscribeHandler(st *store.Store, transcriber provider.Transcriber, classifier language.Classifier) *TranscribeHandler {
	return &TranscribeHandler{store: st, transcriber: transcriber, classifier: classifier}
}

func (h *TranscribeHandler) Kind() store.StageKind { return store.KindTranscription }

func (h *TranscribeHandler) Process(ctx context.Context, item store.WorkItem) error {
	result, err := h.transcriber.Transcribe(ctx, item.MediaPath)
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", item.MediaPath, err)
	}

	lang, err := h.sourceLang(ctx, result)
	if err != nil {
		return err
	}
	for i := range result.Segments {
		result.Segments[i].SourceLang = lang
	}

	if err := h.store.SetSourceLang(ctx, item.MediaID, lang); err != nil {
		return fmt.Errorf("record source language: %w", err)
	}
	if err := h.store.WriteSegments(ctx, item.MediaID, lang, result.Segments); err != nil {
		return fmt.Errorf("persist transcription: %w", err)
	}
	return writeArtifact(item.MediaPath, lang, result.Segments)
}

// sourceLang normalizes the provider's language label, falling back to
// local detection over the segment texts when the label is not a usable
// ISO code (Whisper reports full names like "english").
func (h *TranscribeHandler) sourceLang(ctx context.Context, tr *provider.Transcription) (string, error) {
	if lang, ok := language.Canonical(tr.Language); ok {
		return lang, nil
	}

	texts := make([]string, 0, len(tr.Segments))
	for _, seg := range tr.Segments {
		texts = append(texts, seg.Text)
	}
	detections, err := h.classifier.Classify(ctx, texts)
	if err != nil {
		return "", fmt.Errorf("detect source language: %w", err)
	}
	if lang := language.Majority(detections); lang != "" {
		log.Warn("Provider language label %q unusable, detected %q locally", tr.Language, lang)
		return lang, nil
	}
	return "", provider.Permanent("transcribe", fmt.Errorf("cannot determine source language (provider label %q)", tr.Language))
}

// TranslateHandler produces the target-language segment set from the
// source transcription through the sync engine.
type TranslateHandler struct {
	store  *store.Store
	engine *segsync.Engine
}

func NewTranslateHandler(st *store.Store, engine *segsync.Engine) *TranslateHandler {
	return &TranslateHandler{store: st, engine: engine}
}

func (h *TranslateHandler) Kind() store.StageKind { return store.KindTranslation }

func (h *TranslateHandler) Process(ctx context.Context, item store.WorkItem) error {
	if item.SourceLang == "" {
		return provider.Permanent("translate", fmt.Errorf("media %s has no recorded source language", item.MediaID))
	}
	target := item.Stage.Lang()

	source, err := h.store.Segments(ctx, item.MediaID, item.SourceLang)
	if err != nil {
		return fmt.Errorf("load source segments: %w", err)
	}
	if len(source) == 0 {
		return provider.Permanent("translate", fmt.Errorf("media %s has no %s segments", item.MediaID, item.SourceLang))
	}

	synced, err := h.engine.Synchronize(ctx, source, target)
	if err != nil {
		return fmt.Errorf("synchronize %s: %w", target, err)
	}
	if err := h.store.WriteSegments(ctx, item.MediaID, target, synced); err != nil {
		return fmt.Errorf("persist %s segments: %w", target, err)
	}
	return writeArtifact(item.MediaPath, target, synced)
}

// EvaluateHandler scores a translated track against its source. Scores are
// advisory: evaluation failure never rolls back the translation.
type EvaluateHandler struct {
	store      *store.Store
	evaluator  provider.Evaluator
	sampleSize int
}

const defaultEvalSampleSize = 20

func NewEvaluateHandler(st *store.Store, evaluator provider.Evaluator, sampleSize int) *EvaluateHandler {
	if sampleSize <= 0 {
		sampleSize = defaultEvalSampleSize
	}
	return &EvaluateHandler{store: st, evaluator: evaluator, sampleSize: sampleSize}
}

func (h *EvaluateHandler) Kind() store.StageKind { return store.KindEvaluation }

func (h *EvaluateHandler) Process(ctx context.Context, item store.WorkItem) error {
	target := item.Stage.Lang()

	source, err := h.store.Segments(ctx, item.MediaID, item.SourceLang)
	if err != nil {
		return fmt.Errorf("load source segments: %w", err)
	}
	translated, err := h.store.Segments(ctx, item.MediaID, target)
	if err != nil {
		return fmt.Errorf("load %s segments: %w", target, err)
	}
	if len(source) == 0 || len(translated) != len(source) {
		return provider.Permanent("evaluate",
			fmt.Errorf("media %s: %d source and %d %s segments", item.MediaID, len(source), len(translated), target))
	}

	original, rendition := sampleTranscripts(source, translated, h.sampleSize)
	result, err := h.evaluator.Evaluate(ctx, original, rendition)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", target, err)
	}
	if err := h.store.RecordScore(ctx, item.MediaID, target, result.Score, result.Issues); err != nil {
		return fmt.Errorf("record score: %w", err)
	}
	log.Info("Evaluated %s/%s: score %.1f, %d issues", item.MediaID, target, result.Score, len(result.Issues))
	return nil
}

// sampleTranscripts joins up to limit evenly spaced segment pairs into two
// parallel transcripts. Sampling keeps long interviews inside the prompt
// budget while still covering the whole timeline.
func sampleTranscripts(source, translated []subtitle.Segment, limit int) (string, string) {
	step := 1
	if len(source) > limit {
		step = (len(source) + limit - 1) / limit
	}
	var original, rendition []byte
	for i := 0; i < len(source); i += step {
		if len(original) > 0 {
			original = append(original, '\n')
			rendition = append(rendition, '\n')
		}
		original = append(original, source[i].Text...)
		rendition = append(rendition, translated[i].Text...)
	}
	return string(original), string(rendition)
}

// writeArtifact renders the segment set next to the media file as
// <base>.<lang>.srt.
func writeArtifact(mediaPath, lang string, segments []subtitle.Segment) error {
	path := subtitle.ArtifactPath(mediaPath, lang)
	track := &subtitle.Track{Segments: segments, Language: lang, Format: "srt"}
	if err := subtitle.WriteFile(path, track); err != nil {
		return fmt.Errorf("write subtitle artifact %s: %w", path, err)
	}
	return nil
}
