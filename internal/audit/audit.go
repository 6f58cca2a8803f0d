// Package audit cross-checks the state database against the filesystem
// and the persisted subtitle tracks. Findings are advisory until Repair
// is called; repair only ever resets stages to pending, it never deletes
// data or fabricates state.
package audit

import (
	"context"
	"fmt"
	"os"

	"subsync/internal/language"
	"subsync/internal/store"
	"subsync/pkg/log"
)

// Kind names one class of inconsistency.
type Kind string

const (
	// KindMissingFile: the registered media path no longer exists.
	KindMissingFile Kind = "missing_file"
	// KindEmptyFile: the media file exists but has zero bytes.
	KindEmptyFile Kind = "empty_file"
	// KindSegmentCountMismatch: a language track's segment count differs
	// from the other tracks of the same file.
	KindSegmentCountMismatch Kind = "segment_count_mismatch"
	// KindImplausibleLanguage: a translated track's text reads as a
	// different language than its label.
	KindImplausibleLanguage Kind = "implausible_language"
)

// Finding is one detected inconsistency. Stage is the stage a repair
// would reset.
type Finding struct {
	MediaID string
	Path    string
	Kind    Kind
	Stage   store.Stage
	Lang    string
	Detail  string
}

type Auditor struct {
	store      *store.Store
	classifier language.Classifier
	sampleSize int
}

const defaultSampleSize = 30

func New(st *store.Store, classifier language.Classifier, sampleSize int) *Auditor {
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	return &Auditor{store: st, classifier: classifier, sampleSize: sampleSize}
}

// Scope narrows an audit pass to one media file. The zero value covers
// the whole store.
type Scope struct {
	MediaID string
}

// Run inspects every registered media file and returns all findings.
// Nothing is modified.
func (a *Auditor) Run(ctx context.Context) ([]Finding, error) {
	return a.RunScope(ctx, Scope{})
}

// RunScope is Run limited to the given scope.
func (a *Auditor) RunScope(ctx context.Context, scope Scope) ([]Finding, error) {
	media, err := a.scopedMedia(ctx, scope)
	if err != nil {
		return nil, err
	}

	findings := make([]Finding, 0)
	for _, m := range media {
		fileFindings, ok := a.checkFile(m)
		findings = append(findings, fileFindings...)
		if !ok {
			continue
		}

		trackFindings, err := a.checkTracks(ctx, m)
		if err != nil {
			return nil, err
		}
		findings = append(findings, trackFindings...)
	}

	if len(findings) > 0 {
		log.Warn("Audit found %d inconsistencies across %d media files", len(findings), len(media))
	}
	return findings, nil
}

func (a *Auditor) scopedMedia(ctx context.Context, scope Scope) ([]store.MediaFile, error) {
	if scope.MediaID == "" {
		media, err := a.store.ListMedia(ctx)
		if err != nil {
			return nil, fmt.Errorf("list media: %w", err)
		}
		return media, nil
	}
	m, err := a.store.GetMedia(ctx, scope.MediaID)
	if err != nil {
		return nil, fmt.Errorf("scope media %s: %w", scope.MediaID, err)
	}
	return []store.MediaFile{*m}, nil
}

// checkFile validates the media file itself. The second return is false
// when track checks would be meaningless.
func (a *Auditor) checkFile(m store.MediaFile) ([]Finding, bool) {
	info, err := os.Stat(m.Path)
	if os.IsNotExist(err) {
		return []Finding{{
			MediaID: m.ID, Path: m.Path, Kind: KindMissingFile,
			Stage:  store.StageTranscription,
			Detail: "media file does not exist",
		}}, false
	}
	if err != nil {
		return []Finding{{
			MediaID: m.ID, Path: m.Path, Kind: KindMissingFile,
			Stage:  store.StageTranscription,
			Detail: fmt.Sprintf("media file not readable: %v", err),
		}}, false
	}
	if info.Size() == 0 {
		return []Finding{{
			MediaID: m.ID, Path: m.Path, Kind: KindEmptyFile,
			Stage:  store.StageTranscription,
			Detail: "media file is empty",
		}}, false
	}
	return nil, true
}

func (a *Auditor) checkTracks(ctx context.Context, m store.MediaFile) ([]Finding, error) {
	counts, err := a.store.SegmentLanguages(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("segment languages for %s: %w", m.ID, err)
	}
	if len(counts) == 0 {
		return nil, nil
	}

	findings := make([]Finding, 0)

	canonical := -1
	if m.SourceLang != "" {
		canonical = counts[m.SourceLang]
	}
	for lang, count := range counts {
		if canonical < 0 {
			canonical = count
		}
		if count != canonical && lang != m.SourceLang {
			findings = append(findings, Finding{
				MediaID: m.ID, Path: m.Path, Kind: KindSegmentCountMismatch,
				Stage: store.TranslationStage(lang), Lang: lang,
				Detail: fmt.Sprintf("%d segments, expected %d", count, canonical),
			})
		}
	}

	for lang := range counts {
		if lang == m.SourceLang {
			continue
		}
		finding, err := a.checkLanguage(ctx, m, lang)
		if err != nil {
			return nil, err
		}
		if finding != nil {
			findings = append(findings, *finding)
		}
	}
	return findings, nil
}

// checkLanguage samples a translated track and reports when the majority
// detected language disagrees with the track label. Preserved segments in
// the source language are expected, so the check only fires when a clear
// majority reads as something else entirely.
func (a *Auditor) checkLanguage(ctx context.Context, m store.MediaFile, lang string) (*Finding, error) {
	segments, err := a.store.Segments(ctx, m.ID, lang)
	if err != nil {
		return nil, fmt.Errorf("segments %s/%s: %w", m.ID, lang, err)
	}

	step := 1
	if len(segments) > a.sampleSize {
		step = (len(segments) + a.sampleSize - 1) / a.sampleSize
	}
	texts := make([]string, 0, a.sampleSize)
	for i := 0; i < len(segments); i += step {
		texts = append(texts, segments[i].Text)
	}

	detections, err := a.classifier.Classify(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("classify %s/%s sample: %w", m.ID, lang, err)
	}
	majority := language.Majority(detections)
	if majority == "" || majority == lang || majority == m.SourceLang {
		return nil, nil
	}
	return &Finding{
		MediaID: m.ID, Path: m.Path, Kind: KindImplausibleLanguage,
		Stage: store.TranslationStage(lang), Lang: lang,
		Detail: fmt.Sprintf("track labeled %s reads as %s", lang, majority),
	}, nil
}

// Repair resets the stage behind each finding to pending so the pipeline
// redoes the work. Returns the number of stages actually reset.
func (a *Auditor) Repair(ctx context.Context, findings []Finding) (int, error) {
	reset := 0
	for _, finding := range findings {
		if err := a.store.ResetStatus(ctx, finding.MediaID, finding.Stage); err != nil {
			return reset, fmt.Errorf("reset %s/%s: %w", finding.MediaID, finding.Stage, err)
		}
		log.Info("Reset %s for %s (%s: %s)", finding.Stage, finding.MediaID, finding.Kind, finding.Detail)
		reset++
	}
	return reset, nil
}
