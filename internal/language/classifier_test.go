package language

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClassifier_OnePerInput(t *testing.T) {
	c := NewLocalClassifier()

	texts := []string{
		"Guten Morgen, wie geht es Ihnen heute? Ich hoffe, Sie hatten eine gute Nacht.",
		"Good morning, how are you doing today? I hope you slept well last night.",
		"",
	}
	got, err := c.Classify(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, len(texts))

	assert.Equal(t, "de", got[0].Lang)
	assert.Equal(t, "en", got[1].Lang)
}

func TestLocalClassifier_CancelledContext(t *testing.T) {
	c := NewLocalClassifier()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, []string{"hello"})
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "de", Normalize("de-AT"))
	assert.Equal(t, "en", Normalize("en_US"))
	assert.Equal(t, "de", Normalize("de"))
	assert.Equal(t, "???", Normalize("???"))
}

func TestCanonical(t *testing.T) {
	lang, ok := Canonical("de-AT")
	assert.True(t, ok)
	assert.Equal(t, "de", lang)

	_, ok = Canonical("english")
	assert.False(t, ok)
}

func TestMajority(t *testing.T) {
	detections := []Detection{
		{Lang: "de", Confidence: 0.9},
		{Lang: "en", Confidence: 0.8},
		{Lang: "de", Confidence: 0.7},
		{Lang: "", Confidence: 0},
	}
	assert.Equal(t, "de", Majority(detections))
	assert.Equal(t, "", Majority(nil))
}
