package store

import (
	"strings"
	"time"
)

// Status is the lifecycle of one (media file, stage) pair.
type Status string

const (
	StatusPending         Status = "pending"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusFailedPermanent Status = "failed_permanent"
)

// Terminal reports whether a status can only be left through an explicit
// operator reset.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailedPermanent
}

// StageKind distinguishes the three pipeline stage families.
type StageKind string

const (
	KindTranscription StageKind = "transcription"
	KindTranslation   StageKind = "translation"
	KindEvaluation    StageKind = "evaluation"
)

// Stage identifies a pipeline stage. Transcription is a single stage;
// translation and evaluation are parameterized per target language and
// encoded as "translation:de", "evaluation:de".
type Stage string

const StageTranscription Stage = "transcription"

func TranslationStage(lang string) Stage {
	return Stage(string(KindTranslation) + ":" + lang)
}

func EvaluationStage(lang string) Stage {
	return Stage(string(KindEvaluation) + ":" + lang)
}

func (s Stage) Kind() StageKind {
	kind, _, _ := strings.Cut(string(s), ":")
	return StageKind(kind)
}

// Lang returns the target language of a translation or evaluation stage,
// empty for transcription.
func (s Stage) Lang() string {
	_, lang, _ := strings.Cut(string(s), ":")
	return lang
}

// Upstream returns the stage that must be completed before this one may be
// claimed. Translation waits for transcription; evaluation for its
// language's translation.
func (s Stage) Upstream() (Stage, bool) {
	switch s.Kind() {
	case KindTranslation:
		return StageTranscription, true
	case KindEvaluation:
		return TranslationStage(s.Lang()), true
	default:
		return "", false
	}
}

// MediaFile is the immutable identity record of a discovered recording.
type MediaFile struct {
	ID         string
	Path       string
	Checksum   string
	Duration   time.Duration
	SourceLang string
	CreatedAt  time.Time
}

// ProcessingStatus is one row of per-stage pipeline state.
type ProcessingStatus struct {
	MediaID     string
	Stage       Stage
	Status      Status
	Attempts    int
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryAfter  *time.Time
	LastError   string
	UpdatedAt   time.Time
}

// WorkItem is a claimed unit of work handed to a stage handler.
type WorkItem struct {
	MediaID    string
	Stage      Stage
	Attempts   int
	MediaPath  string
	SourceLang string
}

// ErrorRecord is one entry of the append-only error log.
type ErrorRecord struct {
	ID        int64
	MediaID   string
	Stage     Stage
	Message   string
	Detail    string
	CreatedAt time.Time
}

// Score is an advisory translation quality score for one language track.
type Score struct {
	MediaID   string
	Lang      string
	Score     float64
	Issues    []string
	UpdatedAt time.Time
}

// HealthSummary aggregates status counts for the report surface.
type HealthSummary struct {
	Total           int
	Pending         int
	InProgress      int
	Completed       int
	FailedPermanent int
}
