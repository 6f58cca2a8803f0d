package subtitle

import "time"

// Segment is a single timed subtitle cue. Index is 0-based and contiguous
// within a track. Start and End always come from the canonical source
// segmentation of the media file; no component may derive them from
// translated text.
type Segment struct {
	Index      int           `json:"index"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence,omitempty"`
	SourceLang string        `json:"source_lang,omitempty"`
}

// Track is an ordered segment list for one (media file, language) pair.
type Track struct {
	Segments []Segment
	Language string
	Format   string // e.g. SRT
}

// SameTiming reports whether two segment lists agree in count and in every
// (start, end) pair. This is the cross-language invariant the pipeline
// must never break.
func SameTiming(a, b []Segment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Start != b[i].Start || a[i].End != b[i].End {
			return false
		}
	}
	return true
}
