package subtitle

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = `1
00:00:00,000 --> 00:00:02,000
Hallo

2
00:00:02,000 --> 00:00:04,500
How are you
doing today

3
00:00:04,500 --> 00:00:06,000
gut
`

func TestRead(t *testing.T) {
	track, err := Read(strings.NewReader(sampleSRT))
	require.NoError(t, err)
	require.Len(t, track.Segments, 3)

	assert.Equal(t, 0, track.Segments[0].Index)
	assert.Equal(t, time.Duration(0), track.Segments[0].Start)
	assert.Equal(t, 2*time.Second, track.Segments[0].End)
	assert.Equal(t, "Hallo", track.Segments[0].Text)

	assert.Equal(t, 1, track.Segments[1].Index)
	assert.Equal(t, "How are you\ndoing today", track.Segments[1].Text)
	assert.Equal(t, 2*time.Second, track.Segments[1].Start)
	assert.Equal(t, 4500*time.Millisecond, track.Segments[1].End)

	assert.Equal(t, "SRT", track.Format)
}

func TestRead_ReassignsIndices(t *testing.T) {
	// Cue numbers in the file are non-contiguous; parsed indices must be 0..N-1.
	srt := `7
00:00:00,000 --> 00:00:01,000
one

42
00:00:01,000 --> 00:00:02,000
two
`
	track, err := Read(strings.NewReader(srt))
	require.NoError(t, err)
	require.Len(t, track.Segments, 2)
	assert.Equal(t, 0, track.Segments[0].Index)
	assert.Equal(t, 1, track.Segments[1].Index)
}

func TestRead_InvalidTimeLine(t *testing.T) {
	srt := "1\n00:00 --> 00:01\nbroken\n"
	_, err := Read(strings.NewReader(srt))
	require.Error(t, err)
}

func TestWrite_RoundTrip(t *testing.T) {
	track, err := Read(strings.NewReader(sampleSRT))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, track))

	again, err := Read(strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Len(t, again.Segments, len(track.Segments))
	for i := range track.Segments {
		assert.Equal(t, track.Segments[i].Start, again.Segments[i].Start)
		assert.Equal(t, track.Segments[i].End, again.Segments[i].End)
		assert.Equal(t, track.Segments[i].Text, again.Segments[i].Text)
	}
}

func TestWriteFile_NumbersCuesFromOne(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.de.srt")

	track := &Track{
		Segments: []Segment{
			{Index: 0, Start: 0, End: time.Second, Text: "a"},
			{Index: 1, Start: time.Second, End: 2 * time.Second, Text: "b"},
		},
		Language: "de",
		Format:   "SRT",
	}
	require.NoError(t, WriteFile(path, track))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "1\n00:00:00,000 --> 00:00:01,000\na\n"))
	assert.Contains(t, string(data), "\n2\n00:00:01,000 --> 00:00:02,000\nb\n")

	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, "/media/ep01.de.srt", ArtifactPath("/media/ep01.mkv", "de"))
	assert.Equal(t, "/media/ep01.en.srt", ArtifactPath("/media/ep01.mkv", "en"))
}

func TestSameTiming(t *testing.T) {
	a := []Segment{{Start: 0, End: time.Second}, {Start: time.Second, End: 2 * time.Second}}
	b := []Segment{{Start: 0, End: time.Second, Text: "x"}, {Start: time.Second, End: 2 * time.Second, Text: "y"}}
	assert.True(t, SameTiming(a, b))

	b[1].End = 3 * time.Second
	assert.False(t, SameTiming(a, b))
	assert.False(t, SameTiming(a, a[:1]))
}
