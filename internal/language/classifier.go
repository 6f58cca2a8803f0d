// Package language detects the language of subtitle text. The local
// classifier is trigram-based and runs without network calls, which keeps
// per-segment classification cheap enough to run over whole files.
package language

import (
	"context"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// Detection is one classification result. Lang is an ISO 639-1 code
// ("de", "en"), empty when the classifier could not decide.
type Detection struct {
	Lang       string
	Confidence float64
}

// Classifier labels a batch of texts. Implementations must return exactly
// one detection per input text, in input order; anything else is a protocol
// violation the caller handles.
type Classifier interface {
	Classify(ctx context.Context, texts []string) ([]Detection, error)
}

// LocalClassifier classifies text with whatlanggo.
type LocalClassifier struct{}

func NewLocalClassifier() *LocalClassifier {
	return &LocalClassifier{}
}

func (c *LocalClassifier) Classify(ctx context.Context, texts []string) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ret := make([]Detection, len(texts))
	for i, text := range texts {
		info := whatlanggo.Detect(text)
		ret[i] = Detection{
			Lang:       info.Lang.Iso6391(),
			Confidence: info.Confidence,
		}
	}
	return ret, nil
}

// Normalize reduces a language code or tag to its ISO 639-1 base
// ("de-AT" -> "de"). Unparseable input is returned trimmed as-is.
func Normalize(code string) string {
	normalized, ok := Canonical(code)
	if !ok {
		return strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	}
	return normalized
}

// Canonical is Normalize with a validity report: ok is false when the
// input is not a parseable language tag. Transcription providers report
// full names like "english", which must not be stored as codes.
func Canonical(code string) (string, bool) {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	return base.String(), true
}

// Majority returns the most frequent detected language across texts, used
// for whole-file language plausibility checks.
func Majority(detections []Detection) string {
	counts := make(map[string]int)
	for _, d := range detections {
		if d.Lang == "" {
			continue
		}
		counts[d.Lang]++
	}

	var top string
	var topCount int
	for lang, count := range counts {
		if count > topCount {
			top = lang
			topCount = count
		}
	}
	return top
}
