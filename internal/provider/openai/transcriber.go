package openai

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"subsync/internal/provider"
	"subsync/internal/subtitle"
)

// Transcriber produces timed segments through the audio transcription
// endpoint (Whisper API shape, verbose_json format).
type Transcriber struct {
	client *Client
}

func NewTranscriber(client *Client) *Transcriber {
	return &Transcriber{client: client}
}

type transcriptionSegment struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type transcriptionResponse struct {
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Text     string                 `json:"text"`
	Segments []transcriptionSegment `json:"segments"`
	Error    *apiError              `json:"error,omitempty"`
}

// Transcribe uploads the media file and maps the segment timeline onto
// subtitle segments. Segment indices are assigned in order from zero.
func (t *Transcriber) Transcribe(ctx context.Context, mediaPath string) (*provider.Transcription, error) {
	const op = "transcribe"

	content, err := os.ReadFile(mediaPath)
	if err != nil {
		return nil, provider.Permanent(op, fmt.Errorf("read media file: %w", err))
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(mediaPath))
	if err != nil {
		return nil, provider.Permanent(op, fmt.Errorf("create form file: %w", err))
	}
	if _, err := part.Write(content); err != nil {
		return nil, provider.Permanent(op, fmt.Errorf("write form file: %w", err))
	}
	writer.WriteField("model", t.client.cfg.TranscribeModel)
	writer.WriteField("response_format", "verbose_json")
	if err := writer.Close(); err != nil {
		return nil, provider.Permanent(op, fmt.Errorf("close multipart body: %w", err))
	}

	var response transcriptionResponse
	if err := t.client.post(ctx, op, "/audio/transcriptions", writer.FormDataContentType(), &body, &response); err != nil {
		return nil, err
	}
	if response.Error != nil && response.Error.Message != "" {
		return nil, provider.Permanent(op, response.Error)
	}
	if len(response.Segments) == 0 {
		return nil, provider.Permanent(op, fmt.Errorf("transcription returned no segments"))
	}

	segments := make([]subtitle.Segment, 0, len(response.Segments))
	for i, seg := range response.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, subtitle.Segment{
			Index:      i,
			Start:      secondsToDuration(seg.Start),
			End:        secondsToDuration(seg.End),
			Text:       text,
			Confidence: confidenceFromLogprob(seg.AvgLogprob),
		})
	}
	for i := range segments {
		segments[i].Index = i
	}
	if len(segments) == 0 {
		return nil, provider.Permanent(op, fmt.Errorf("transcription contained only empty segments"))
	}

	return &provider.Transcription{
		Segments: segments,
		Language: response.Language,
	}, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// confidenceFromLogprob maps the average token logprob to (0, 1].
func confidenceFromLogprob(logprob float64) float64 {
	if logprob > 0 {
		return 1
	}
	return math.Exp(logprob)
}
