package segsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsync/internal/language"
	"subsync/internal/provider"
	"subsync/internal/subtitle"
)

// fakeClassifier returns scripted detections keyed by text.
type fakeClassifier struct {
	byText map[string]language.Detection
	// misbehaveBatches drops one label from responses to batches larger
	// than one, simulating a protocol violation.
	misbehaveBatches bool
	calls            int
}

func (c *fakeClassifier) Classify(_ context.Context, texts []string) ([]language.Detection, error) {
	c.calls++
	ret := make([]language.Detection, 0, len(texts))
	for _, text := range texts {
		ret = append(ret, c.byText[text])
	}
	if c.misbehaveBatches && len(ret) > 1 {
		ret = ret[:len(ret)-1]
	}
	return ret, nil
}

// fakeTranslator translates via a lookup table.
type fakeTranslator struct {
	byText map[string]string
	// shortBatches makes every multi-item response come back empty,
	// forcing the singleton fallback.
	shortBatches bool
	// failSingles makes even singleton responses come back empty.
	failSingles bool
	err         error
	requests    []provider.TranslationRequest
}

func (f *fakeTranslator) Translate(_ context.Context, req provider.TranslationRequest) ([]string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.shortBatches && len(req.Texts) > 1 {
		return nil, nil
	}
	if f.failSingles {
		return nil, nil
	}
	ret := make([]string, 0, len(req.Texts))
	for _, text := range req.Texts {
		ret = append(ret, f.byText[text])
	}
	return ret, nil
}

func sourceSegments() []subtitle.Segment {
	return []subtitle.Segment{
		{Index: 0, Start: 0, End: 2 * time.Second, Text: "Hallo"},
		{Index: 1, Start: 2 * time.Second, End: 4500 * time.Millisecond, Text: "How are you"},
		{Index: 2, Start: 4500 * time.Millisecond, End: 6 * time.Second, Text: "gut"},
	}
}

func germanMix() *fakeClassifier {
	return &fakeClassifier{byText: map[string]language.Detection{
		"Hallo":       {Lang: "de", Confidence: 0.95},
		"How are you": {Lang: "en", Confidence: 0.9},
		"gut":         {Lang: "de", Confidence: 0.95},
	}}
}

func TestSynchronize_PreservesAndTranslates(t *testing.T) {
	translator := &fakeTranslator{byText: map[string]string{"How are you": "Wie geht es dir"}}
	engine := NewEngine(germanMix(), translator, Config{ConfidenceThreshold: 0.8})

	source := sourceSegments()
	got, err := engine.Synchronize(context.Background(), source, "de")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Hallo", got[0].Text)
	assert.Equal(t, "Wie geht es dir", got[1].Text)
	assert.Equal(t, "gut", got[2].Text)

	assert.True(t, subtitle.SameTiming(source, got))
	assert.Equal(t, "de", got[0].SourceLang)
	assert.Equal(t, "en", got[1].SourceLang)

	// Only the English segment went to the translator.
	require.Len(t, translator.requests, 1)
	assert.Equal(t, []string{"How are you"}, translator.requests[0].Texts)
	assert.Equal(t, "de", translator.requests[0].TargetLang)
}

func TestSynchronize_LowConfidenceIsTranslated(t *testing.T) {
	classifier := &fakeClassifier{byText: map[string]language.Detection{
		"Hallo": {Lang: "de", Confidence: 0.5},
	}}
	translator := &fakeTranslator{byText: map[string]string{"Hallo": "Hallo!"}}
	engine := NewEngine(classifier, translator, Config{ConfidenceThreshold: 0.8})

	source := []subtitle.Segment{{Index: 0, Start: 0, End: time.Second, Text: "Hallo"}}
	got, err := engine.Synchronize(context.Background(), source, "de")
	require.NoError(t, err)
	assert.Equal(t, "Hallo!", got[0].Text)
	require.Len(t, translator.requests, 1)
}

func TestSynchronize_ClassifierBatchMismatchFallsBackPerItem(t *testing.T) {
	classifier := germanMix()
	classifier.misbehaveBatches = true
	translator := &fakeTranslator{byText: map[string]string{"How are you": "Wie geht es dir"}}
	engine := NewEngine(classifier, translator, Config{ConfidenceThreshold: 0.8})

	source := sourceSegments()
	got, err := engine.Synchronize(context.Background(), source, "de")
	require.NoError(t, err)

	// 1 batch call + 3 singleton calls; no segment dropped.
	assert.Equal(t, 4, classifier.calls)
	assert.Equal(t, "Hallo", got[0].Text)
	assert.Equal(t, "Wie geht es dir", got[1].Text)
	assert.Equal(t, "gut", got[2].Text)
}

func TestSynchronize_TranslatorBatchMismatchFallsBackToSingletons(t *testing.T) {
	classifier := &fakeClassifier{byText: map[string]language.Detection{
		"one": {Lang: "en", Confidence: 0.9},
		"two": {Lang: "en", Confidence: 0.9},
	}}
	translator := &fakeTranslator{
		byText:       map[string]string{"one": "eins", "two": "zwei"},
		shortBatches: true,
	}
	engine := NewEngine(classifier, translator, Config{ConfidenceThreshold: 0.8})

	source := []subtitle.Segment{
		{Index: 0, Start: 0, End: time.Second, Text: "one"},
		{Index: 1, Start: time.Second, End: 2 * time.Second, Text: "two"},
	}
	got, err := engine.Synchronize(context.Background(), source, "de")
	require.NoError(t, err)
	assert.Equal(t, "eins", got[0].Text)
	assert.Equal(t, "zwei", got[1].Text)

	// One rejected batch call followed by two singleton calls.
	require.Len(t, translator.requests, 3)
	assert.Len(t, translator.requests[0].Texts, 2)
	assert.Len(t, translator.requests[1].Texts, 1)
	assert.Len(t, translator.requests[2].Texts, 1)
}

func TestSynchronize_SingletonFallbackFailureIsIntegrityError(t *testing.T) {
	classifier := &fakeClassifier{byText: map[string]language.Detection{
		"one": {Lang: "en", Confidence: 0.9},
		"two": {Lang: "en", Confidence: 0.9},
	}}
	translator := &fakeTranslator{shortBatches: true, failSingles: true}
	engine := NewEngine(classifier, translator, Config{ConfidenceThreshold: 0.8})

	source := []subtitle.Segment{
		{Index: 0, Start: 0, End: time.Second, Text: "one"},
		{Index: 1, Start: time.Second, End: 2 * time.Second, Text: "two"},
	}
	got, err := engine.Synchronize(context.Background(), source, "de")
	require.ErrorIs(t, err, ErrIntegrity)
	assert.Nil(t, got, "no partial segment set may be returned")
}

func TestSynchronize_TranslatorErrorPropagates(t *testing.T) {
	classifier := &fakeClassifier{byText: map[string]language.Detection{
		"one": {Lang: "en", Confidence: 0.9},
	}}
	transient := provider.Transient("translate", errors.New("rate limited"))
	translator := &fakeTranslator{err: transient}
	engine := NewEngine(classifier, translator, Config{ConfidenceThreshold: 0.8})

	source := []subtitle.Segment{{Index: 0, Start: 0, End: time.Second, Text: "one"}}
	_, err := engine.Synchronize(context.Background(), source, "de")
	require.Error(t, err)
	assert.Equal(t, provider.KindTransient, provider.Classify(err))
}

func TestSynchronize_Idempotent(t *testing.T) {
	translator := &fakeTranslator{byText: map[string]string{"How are you": "Wie geht es dir"}}
	engine := NewEngine(germanMix(), translator, Config{ConfidenceThreshold: 0.8})

	source := sourceSegments()
	first, err := engine.Synchronize(context.Background(), source, "de")
	require.NoError(t, err)
	second, err := engine.Synchronize(context.Background(), source, "de")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSynchronize_BatchCharBudgetSplitsRequests(t *testing.T) {
	classifier := &fakeClassifier{byText: map[string]language.Detection{
		"aaaa": {Lang: "en", Confidence: 0.9},
		"bbbb": {Lang: "en", Confidence: 0.9},
		"cccc": {Lang: "en", Confidence: 0.9},
	}}
	translator := &fakeTranslator{byText: map[string]string{"aaaa": "A", "bbbb": "B", "cccc": "C"}}
	engine := NewEngine(classifier, translator, Config{
		ConfidenceThreshold: 0.8,
		BatchCharBudget:     8, // two four-rune texts per request
	})

	source := []subtitle.Segment{
		{Index: 0, Start: 0, End: time.Second, Text: "aaaa"},
		{Index: 1, Start: time.Second, End: 2 * time.Second, Text: "bbbb"},
		{Index: 2, Start: 2 * time.Second, End: 3 * time.Second, Text: "cccc"},
	}
	got, err := engine.Synchronize(context.Background(), source, "de")
	require.NoError(t, err)
	assert.Equal(t, "A", got[0].Text)
	assert.Equal(t, "C", got[2].Text)

	require.Len(t, translator.requests, 2)
	assert.Equal(t, []string{"aaaa", "bbbb"}, translator.requests[0].Texts)
	assert.Equal(t, []string{"cccc"}, translator.requests[1].Texts)
}

func TestSynchronize_ContextWindowUsesDecidedText(t *testing.T) {
	classifier := &fakeClassifier{byText: map[string]language.Detection{
		"Hallo":       {Lang: "de", Confidence: 0.95},
		"How are you": {Lang: "en", Confidence: 0.9},
		"gut":         {Lang: "de", Confidence: 0.95},
	}}
	translator := &fakeTranslator{byText: map[string]string{"How are you": "Wie geht es dir"}}
	engine := NewEngine(classifier, translator, Config{
		ConfidenceThreshold: 0.8,
		ContextWindow:       1,
	})

	_, err := engine.Synchronize(context.Background(), sourceSegments(), "de")
	require.NoError(t, err)

	require.Len(t, translator.requests, 1)
	assert.Equal(t, []string{"Hallo", "gut"}, translator.requests[0].Context)
}

func TestSynchronize_EmptySource(t *testing.T) {
	engine := NewEngine(&fakeClassifier{}, &fakeTranslator{}, Config{})
	got, err := engine.Synchronize(context.Background(), nil, "de")
	require.NoError(t, err)
	assert.Empty(t, got)
}
