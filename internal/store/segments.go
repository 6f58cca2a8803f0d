package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"subsync/internal/subtitle"
)

// WriteSegments atomically replaces the full segment set for one
// (media, language) pair. The write is rejected with ErrIntegrity when the
// segment list is internally inconsistent or its count disagrees with the
// file's canonical count, established by the first language ever written.
// There is never a partially visible segment set.
func (s *Store) WriteSegments(ctx context.Context, mediaID, lang string, segments []subtitle.Segment) error {
	if lang == "" {
		return fmt.Errorf("language is required")
	}
	if err := validateSegments(segments); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// The canonical language is the first one ever written (smallest
		// rowid), not an arbitrary one of the others.
		var canonical int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM subtitle_segments
			 WHERE media_id = ? AND lang = (
				SELECT lang FROM subtitle_segments
				WHERE media_id = ? AND lang != ?
				ORDER BY rowid LIMIT 1)`,
			mediaID, mediaID, lang,
		).Scan(&canonical)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if canonical > 0 && canonical != len(segments) {
			return fmt.Errorf("write %s/%s: %d segments, canonical count is %d: %w",
				mediaID, lang, len(segments), canonical, ErrIntegrity)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM subtitle_segments WHERE media_id = ? AND lang = ?`,
			mediaID, lang,
		); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO subtitle_segments
			 (media_id, lang, segment_index, start_ms, end_ms, text, confidence, source_lang)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, seg := range segments {
			var confidence any
			if seg.Confidence > 0 {
				confidence = seg.Confidence
			}
			if _, err := stmt.ExecContext(ctx,
				mediaID, lang, seg.Index,
				seg.Start.Milliseconds(), seg.End.Milliseconds(),
				seg.Text, confidence, seg.SourceLang,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func validateSegments(segments []subtitle.Segment) error {
	if len(segments) == 0 {
		return fmt.Errorf("empty segment set: %w", ErrIntegrity)
	}
	for i, seg := range segments {
		if seg.Index != i {
			return fmt.Errorf("segment %d has index %d, want contiguous 0-based indices: %w", i, seg.Index, ErrIntegrity)
		}
		if seg.End <= seg.Start {
			return fmt.Errorf("segment %d: end %v not after start %v: %w", i, seg.End, seg.Start, ErrIntegrity)
		}
	}
	return nil
}

// Segments loads the ordered segment set for one (media, language) pair.
func (s *Store) Segments(ctx context.Context, mediaID, lang string) ([]subtitle.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT segment_index, start_ms, end_ms, text, confidence, source_lang
		 FROM subtitle_segments
		 WHERE media_id = ? AND lang = ?
		 ORDER BY segment_index ASC`,
		mediaID, lang)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]subtitle.Segment, 0)
	for rows.Next() {
		var seg subtitle.Segment
		var startMS, endMS int64
		var confidence sql.NullFloat64
		if err := rows.Scan(&seg.Index, &startMS, &endMS, &seg.Text, &confidence, &seg.SourceLang); err != nil {
			return nil, err
		}
		seg.Start = time.Duration(startMS) * time.Millisecond
		seg.End = time.Duration(endMS) * time.Millisecond
		if confidence.Valid {
			seg.Confidence = confidence.Float64
		}
		ret = append(ret, seg)
	}
	return ret, rows.Err()
}

// SegmentLanguages lists the languages that have a persisted segment set
// for a media file, with their counts.
func (s *Store) SegmentLanguages(ctx context.Context, mediaID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lang, COUNT(*) FROM subtitle_segments WHERE media_id = ? GROUP BY lang`,
		mediaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[string]int)
	for rows.Next() {
		var lang string
		var count int
		if err := rows.Scan(&lang, &count); err != nil {
			return nil, err
		}
		ret[lang] = count
	}
	return ret, rows.Err()
}

// Transcript returns the whole-document text for one language, built by the
// read-only transcripts view from segments in index order.
func (s *Store) Transcript(ctx context.Context, mediaID, lang string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM transcripts WHERE media_id = ? AND lang = ?`,
		mediaID, lang,
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("transcript %s/%s: %w", mediaID, lang, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// RecordScore upserts the advisory quality score for one language track.
func (s *Store) RecordScore(ctx context.Context, mediaID, lang string, score float64, issues []string) error {
	payload, err := json.Marshal(issues)
	if err != nil {
		return err
	}
	if issues == nil {
		payload = []byte("[]")
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO evaluation_scores (media_id, lang, score, issues_json, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(media_id, lang) DO UPDATE SET
				score=excluded.score,
				issues_json=excluded.issues_json,
				updated_at=excluded.updated_at`,
			mediaID, lang, score, string(payload), time.Now().UTC(),
		)
		return err
	})
}

// Scores returns the recorded quality scores for one media file.
func (s *Store) Scores(ctx context.Context, mediaID string) ([]Score, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT media_id, lang, score, issues_json, updated_at
		 FROM evaluation_scores WHERE media_id = ? ORDER BY lang ASC`, mediaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Score, 0)
	for rows.Next() {
		var sc Score
		var issuesJSON string
		if err := rows.Scan(&sc.MediaID, &sc.Lang, &sc.Score, &issuesJSON, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(issuesJSON), &sc.Issues); err != nil {
			return nil, err
		}
		ret = append(ret, sc)
	}
	return ret, rows.Err()
}
