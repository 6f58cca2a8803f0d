package store

import (
	"context"
	"time"
)

// AppendError adds an entry to the append-only error log outside of a
// stage failure, e.g. for filesystem problems found by the auditor.
func (s *Store) AppendError(ctx context.Context, rec ErrorRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO errors (media_id, stage, message, detail, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			rec.MediaID, string(rec.Stage), rec.Message, rec.Detail, created.UTC(),
		)
		return err
	})
}

// RecentErrors returns the newest error log entries, optionally filtered by
// media file.
func (s *Store) RecentErrors(ctx context.Context, mediaID string, limit int) ([]ErrorRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, media_id, stage, message, detail, created_at FROM errors`
	args := []any{}
	if mediaID != "" {
		query += ` WHERE media_id = ?`
		args = append(args, mediaID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]ErrorRecord, 0)
	for rows.Next() {
		var rec ErrorRecord
		var stage string
		if err := rows.Scan(&rec.ID, &rec.MediaID, &stage, &rec.Message, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Stage = Stage(stage)
		ret = append(ret, rec)
	}
	return ret, rows.Err()
}

// PruneErrors applies the retention policy: per media file, only the newest
// keep entries survive. Returns the number of deleted rows. This is the
// only sanctioned deletion from the error log.
func (s *Store) PruneErrors(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var deleted int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM errors WHERE id NOT IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (PARTITION BY media_id ORDER BY id DESC) AS rn
					FROM errors
				) WHERE rn <= ?)`,
			keep,
		)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}
