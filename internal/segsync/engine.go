// Package segsync decides, segment by segment, whether subtitle text is
// preserved or translated, and rebuilds the target track with timing and
// cardinality identical to the source. Translation providers occasionally
// reflow or merge text; the batch-then-verify-then-singleton policy here is
// what keeps the cues aligned with the audio.
package segsync

import (
	"context"
	"errors"
	"fmt"

	"subsync/internal/language"
	"subsync/internal/provider"
	"subsync/internal/subtitle"
	"subsync/pkg/log"
)

// ErrIntegrity is returned when the engine cannot produce a full target
// segment set that matches the source timing. The caller must not persist
// anything for the language in that case.
var ErrIntegrity = errors.New("segment synchronization integrity violation")

const (
	defaultClassifyBatchSize   = 50
	defaultConfidenceThreshold = 0.85
	defaultBatchCharBudget     = 4000
	defaultContextWindow       = 2
)

type Config struct {
	// ClassifyBatchSize is the number of segments sent per classification
	// call.
	ClassifyBatchSize int
	// ConfidenceThreshold is the minimum classifier confidence for a
	// segment already in the target language to be preserved verbatim.
	ConfidenceThreshold float64
	// BatchCharBudget caps the total rune count of texts per translation
	// request, keeping requests under the provider's context limit.
	BatchCharBudget int
	// ContextWindow is the number of adjacent segments included around a
	// translation batch purely as context.
	ContextWindow int
}

func (c Config) withDefaults() Config {
	if c.ClassifyBatchSize <= 0 {
		c.ClassifyBatchSize = defaultClassifyBatchSize
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if c.BatchCharBudget <= 0 {
		c.BatchCharBudget = defaultBatchCharBudget
	}
	if c.ContextWindow < 0 {
		c.ContextWindow = defaultContextWindow
	}
	return c
}

type Engine struct {
	classifier language.Classifier
	translator provider.Translator
	cfg        Config
}

func NewEngine(classifier language.Classifier, translator provider.Translator, cfg Config) *Engine {
	return &Engine{
		classifier: classifier,
		translator: translator,
		cfg:        cfg.withDefaults(),
	}
}

// Synchronize produces exactly len(source) target segments whose (start,
// end) pairs are copied from the source unconditionally. Text is preserved
// verbatim when the segment is already in the target language with enough
// confidence, translated otherwise. On any violation of the count or
// timing invariant the whole run fails with ErrIntegrity and returns no
// segments.
func (e *Engine) Synchronize(ctx context.Context, source []subtitle.Segment, targetLang string) ([]subtitle.Segment, error) {
	target := language.Normalize(targetLang)
	if target == "" {
		return nil, fmt.Errorf("target language is required")
	}
	if len(source) == 0 {
		return []subtitle.Segment{}, nil
	}

	detections, err := e.classifyAll(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("classify segments: %w", err)
	}

	out := make([]subtitle.Segment, len(source))
	queued := make([]int, 0, len(source))
	for i, seg := range source {
		out[i] = subtitle.Segment{
			Index:      i,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: seg.Confidence,
			SourceLang: detections[i].Lang,
		}
		if detections[i].Lang == target && detections[i].Confidence >= e.cfg.ConfidenceThreshold {
			out[i].Text = seg.Text
		} else {
			queued = append(queued, i)
		}
	}

	if err := e.translateQueued(ctx, source, out, queued, target); err != nil {
		return nil, err
	}

	// Final invariant check before anything is handed to the store.
	if len(out) != len(source) || !subtitle.SameTiming(source, out) {
		return nil, fmt.Errorf("target track diverged from source timing: %w", ErrIntegrity)
	}

	log.Info("Synchronized %d segments to %s: %d preserved, %d translated",
		len(source), target, len(source)-len(queued), len(queued))
	return out, nil
}

// classifyAll labels every segment, batching calls and falling back to
// per-item classification when a batch response count disagrees with its
// request. Segments are never silently dropped.
func (e *Engine) classifyAll(ctx context.Context, source []subtitle.Segment) ([]language.Detection, error) {
	detections := make([]language.Detection, len(source))

	for start := 0; start < len(source); start += e.cfg.ClassifyBatchSize {
		end := min(start+e.cfg.ClassifyBatchSize, len(source))
		texts := make([]string, 0, end-start)
		for _, seg := range source[start:end] {
			texts = append(texts, seg.Text)
		}

		batch, err := e.classifier.Classify(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(batch) == len(texts) {
			copy(detections[start:end], batch)
			continue
		}

		log.Warn("Classifier returned %d labels for %d segments (%d-%d), reclassifying individually",
			len(batch), len(texts), start, end-1)
		for i := start; i < end; i++ {
			single, err := e.classifier.Classify(ctx, []string{source[i].Text})
			if err != nil {
				return nil, err
			}
			if len(single) != 1 {
				// Still misbehaving for one item; treat the segment as
				// unclassified so it goes through translation.
				detections[i] = language.Detection{}
				continue
			}
			detections[i] = single[0]
		}
	}
	return detections, nil
}

// translateQueued fills out[i].Text for every queued index. Batches stay
// under the char budget; a count mismatch rejects the batch and resubmits
// its segments one at a time. A singleton response that still disagrees in
// count is an integrity failure for the whole run.
func (e *Engine) translateQueued(ctx context.Context, source, out []subtitle.Segment, queued []int, target string) error {
	for start := 0; start < len(queued); {
		end := start + 1
		budget := len([]rune(source[queued[start]].Text))
		for end < len(queued) {
			next := len([]rune(source[queued[end]].Text))
			if budget+next > e.cfg.BatchCharBudget {
				break
			}
			budget += next
			end++
		}

		batch := queued[start:end]
		if err := e.translateBatch(ctx, source, out, batch, target); err != nil {
			return err
		}
		start = end
	}
	return nil
}

func (e *Engine) translateBatch(ctx context.Context, source, out []subtitle.Segment, batch []int, target string) error {
	texts := make([]string, len(batch))
	for i, idx := range batch {
		texts[i] = source[idx].Text
	}

	req := provider.TranslationRequest{
		Texts:      texts,
		Context:    e.contextWindow(source, out, batch),
		SourceLang: majoritySourceLang(out, batch),
		TargetLang: target,
	}

	translations, err := e.translator.Translate(ctx, req)
	if err != nil && provider.Classify(err) != provider.KindProtocol {
		return fmt.Errorf("translate batch of %d: %w", len(batch), err)
	}
	if err == nil && len(translations) == len(batch) {
		for i, idx := range batch {
			out[idx].Text = translations[i]
		}
		return nil
	}

	log.Warn("Translator returned %d items for a batch of %d, resubmitting one segment at a time",
		len(translations), len(batch))
	for _, idx := range batch {
		single, err := e.translator.Translate(ctx, provider.TranslationRequest{
			Texts:      []string{source[idx].Text},
			Context:    e.contextWindow(source, out, []int{idx}),
			SourceLang: out[idx].SourceLang,
			TargetLang: target,
		})
		if err != nil {
			return fmt.Errorf("translate segment %d after batch fallback: %w", idx, err)
		}
		if len(single) != 1 {
			return fmt.Errorf("segment %d: singleton translation returned %d items: %w",
				idx, len(single), ErrIntegrity)
		}
		out[idx].Text = single[0]
	}
	return nil
}

// contextWindow collects the text of segments adjacent to a batch. Earlier
// segments use their already-decided target text when present; later ones
// fall back to the source text.
func (e *Engine) contextWindow(source, out []subtitle.Segment, batch []int) []string {
	if len(batch) == 0 || e.cfg.ContextWindow == 0 {
		return nil
	}
	first, last := batch[0], batch[len(batch)-1]

	var window []string
	for i := max(0, first-e.cfg.ContextWindow); i < first; i++ {
		if out[i].Text != "" {
			window = append(window, out[i].Text)
		} else {
			window = append(window, source[i].Text)
		}
	}
	for i := last + 1; i <= min(last+e.cfg.ContextWindow, len(source)-1); i++ {
		window = append(window, source[i].Text)
	}
	return window
}

func majoritySourceLang(out []subtitle.Segment, batch []int) string {
	detections := make([]language.Detection, 0, len(batch))
	for _, idx := range batch {
		detections = append(detections, language.Detection{Lang: out[idx].SourceLang})
	}
	return language.Majority(detections)
}
