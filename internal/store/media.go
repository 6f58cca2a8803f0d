package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RegisterMedia records a newly discovered media file and returns its id.
// Registration is idempotent on checksum: a file whose checksum is already
// known returns ErrDuplicate.
func (s *Store) RegisterMedia(ctx context.Context, m MediaFile) (string, error) {
	if strings.TrimSpace(m.Path) == "" {
		return "", fmt.Errorf("media path is required")
	}
	if strings.TrimSpace(m.Checksum) == "" {
		return "", fmt.Errorf("media checksum is required")
	}

	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM media_files WHERE checksum = ?`, m.Checksum,
		).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("checksum %s already registered as %s: %w", m.Checksum, existing, ErrDuplicate)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO media_files (id, path, checksum, duration_ms, source_lang, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, m.Path, m.Checksum, m.Duration.Milliseconds(), m.SourceLang, now,
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// EnsureStatuses seeds pending status rows for the given stages, leaving
// existing rows untouched.
func (s *Store) EnsureStatuses(ctx context.Context, mediaID string, stages []Stage) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stage := range stages {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO processing_status (media_id, stage, status, attempts, updated_at)
				 VALUES (?, ?, ?, 0, ?)`,
				mediaID, string(stage), string(StatusPending), now,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetSourceLang records the detected source language once transcription has
// established it.
func (s *Store) SetSourceLang(ctx context.Context, mediaID, lang string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_files SET source_lang = ? WHERE id = ?`, lang, mediaID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("media %s: %w", mediaID, ErrNotFound)
	}
	return nil
}

// MediaByChecksum loads a media file by content checksum.
func (s *Store) MediaByChecksum(ctx context.Context, checksum string) (*MediaFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, checksum, duration_ms, source_lang, created_at
		 FROM media_files WHERE checksum = ?`, checksum)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checksum %s: %w", checksum, ErrNotFound)
	}
	return m, err
}

// UpdateMediaPath repoints a registered file that moved on disk. Identity
// follows content, not location.
func (s *Store) UpdateMediaPath(ctx context.Context, mediaID, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_files SET path = ? WHERE id = ?`, path, mediaID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("media %s: %w", mediaID, ErrNotFound)
	}
	return nil
}

// GetMedia loads one media file by id.
func (s *Store) GetMedia(ctx context.Context, id string) (*MediaFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, checksum, duration_ms, source_lang, created_at
		 FROM media_files WHERE id = ?`, id)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media %s: %w", id, ErrNotFound)
	}
	return m, err
}

// ListMedia returns all registered media files ordered by creation time.
func (s *Store) ListMedia(ctx context.Context) ([]MediaFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, checksum, duration_ms, source_lang, created_at
		 FROM media_files ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]MediaFile, 0)
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, *m)
	}
	return ret, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row rowScanner) (*MediaFile, error) {
	var m MediaFile
	var durationMS int64
	if err := row.Scan(&m.ID, &m.Path, &m.Checksum, &durationMS, &m.SourceLang, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Duration = time.Duration(durationMS) * time.Millisecond
	return &m, nil
}
