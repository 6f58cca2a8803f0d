package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ClaimPending atomically claims up to limit pending rows for a stage,
// transitioning them to in_progress and setting started_at. Rows whose
// backoff window has not elapsed are skipped, as are rows whose upstream
// stage has not completed, so stage ordering is enforced here and nowhere
// else. Concurrent callers never receive the same row.
func (s *Store) ClaimPending(ctx context.Context, stage Stage, limit int) ([]WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	upstream, gated := stage.Upstream()
	now := time.Now().UTC()

	var items []WorkItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		items = items[:0]

		query := `SELECT ps.media_id, ps.attempts, m.path, m.source_lang
			FROM processing_status ps
			JOIN media_files m ON m.id = ps.media_id
			WHERE ps.stage = ? AND ps.status = ?
			  AND (ps.retry_after IS NULL OR ps.retry_after <= ?)`
		args := []any{string(stage), string(StatusPending), now}
		if gated {
			query += ` AND EXISTS (
				SELECT 1 FROM processing_status up
				WHERE up.media_id = ps.media_id AND up.stage = ? AND up.status = ?)`
			args = append(args, string(upstream), string(StatusCompleted))
		}
		query += ` ORDER BY ps.updated_at ASC LIMIT ?`
		args = append(args, limit)

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var item WorkItem
			if err := rows.Scan(&item.MediaID, &item.Attempts, &item.MediaPath, &item.SourceLang); err != nil {
				rows.Close()
				return err
			}
			item.Stage = stage
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, item := range items {
			if _, err := tx.ExecContext(ctx,
				`UPDATE processing_status
				 SET status = ?, started_at = ?, retry_after = NULL, updated_at = ?
				 WHERE media_id = ? AND stage = ? AND status = ?`,
				string(StatusInProgress), now, now,
				item.MediaID, string(stage), string(StatusPending),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim pending %s: %w", stage, err)
	}
	return items, nil
}

// Complete marks an in_progress row completed.
func (s *Store) Complete(ctx context.Context, mediaID string, stage Stage) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE processing_status
			 SET status = ?, completed_at = ?, retry_after = NULL, last_error = '', updated_at = ?
			 WHERE media_id = ? AND stage = ? AND status = ?`,
			string(StatusCompleted), now, now,
			mediaID, string(stage), string(StatusInProgress),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("complete %s/%s: row not in_progress: %w", mediaID, stage, ErrNotFound)
		}
		return nil
	})
}

// Fail records a stage failure: the attempt count is bumped, the error is
// appended to the error log, and the row either returns to pending (with a
// retry_after backoff) or becomes failed_permanent when the error is
// permanent or the attempt limit is exhausted. One transaction, no partial
// visibility.
func (s *Store) Fail(ctx context.Context, mediaID string, stage Stage, message string, permanent bool, retryAfter time.Time) (Status, error) {
	now := time.Now().UTC()
	var next Status

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var attempts int
		err := tx.QueryRowContext(ctx,
			`SELECT attempts FROM processing_status WHERE media_id = ? AND stage = ?`,
			mediaID, string(stage),
		).Scan(&attempts)
		if err == sql.ErrNoRows {
			return fmt.Errorf("fail %s/%s: %w", mediaID, stage, ErrNotFound)
		}
		if err != nil {
			return err
		}

		attempts++
		next = StatusPending
		if permanent || attempts >= s.maxAttempts {
			next = StatusFailedPermanent
		}

		var retry any
		if next == StatusPending && !retryAfter.IsZero() {
			retry = retryAfter.UTC()
		}
		var completed any
		if next == StatusFailedPermanent {
			completed = now
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE processing_status
			 SET status = ?, attempts = ?, started_at = NULL, completed_at = ?,
			     retry_after = ?, last_error = ?, updated_at = ?
			 WHERE media_id = ? AND stage = ?`,
			string(next), attempts, completed, retry, message, now,
			mediaID, string(stage),
		); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO errors (media_id, stage, message, detail, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			mediaID, string(stage), message, fmt.Sprintf("attempt %d of %d", attempts, s.maxAttempts), now,
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// ReclaimStale returns rows stuck in_progress longer than timeout back to
// pending. An empty stage reclaims across all stages. Used for crash
// recovery on startup and periodically while running.
func (s *Store) ReclaimStale(ctx context.Context, stage Stage, timeout time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-timeout)

	query := `UPDATE processing_status
		SET status = ?, started_at = NULL, retry_after = NULL, updated_at = ?
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`
	args := []any{string(StatusPending), now, string(StatusInProgress), cutoff}
	if stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(stage))
	}

	var reclaimed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		reclaimed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reclaim stale %s: %w", stage, err)
	}
	return reclaimed, nil
}

// ResetStatus is the operator-triggered escape from a terminal state: the
// row returns to pending with a fresh attempt budget. The error log is
// left untouched.
func (s *Store) ResetStatus(ctx context.Context, mediaID string, stage Stage) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE processing_status
			 SET status = ?, attempts = 0, started_at = NULL, completed_at = NULL,
			     retry_after = NULL, last_error = '', updated_at = ?
			 WHERE media_id = ? AND stage = ?`,
			string(StatusPending), now, mediaID, string(stage),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("reset %s/%s: %w", mediaID, stage, ErrNotFound)
		}
		return nil
	})
}

// FileStatuses returns every status row for one media file.
func (s *Store) FileStatuses(ctx context.Context, mediaID string) ([]ProcessingStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT media_id, stage, status, attempts, started_at, completed_at, retry_after, last_error, updated_at
		 FROM processing_status WHERE media_id = ? ORDER BY stage ASC`, mediaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]ProcessingStatus, 0)
	for rows.Next() {
		var ps ProcessingStatus
		var stage, status string
		var started, completed, retry sql.NullTime
		if err := rows.Scan(&ps.MediaID, &stage, &status, &ps.Attempts,
			&started, &completed, &retry, &ps.LastError, &ps.UpdatedAt); err != nil {
			return nil, err
		}
		ps.Stage = Stage(stage)
		ps.Status = Status(status)
		if started.Valid {
			t := started.Time
			ps.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			ps.CompletedAt = &t
		}
		if retry.Valid {
			t := retry.Time
			ps.RetryAfter = &t
		}
		ret = append(ret, ps)
	}
	return ret, rows.Err()
}

// StageStatus returns the status row for one (media, stage) pair.
func (s *Store) StageStatus(ctx context.Context, mediaID string, stage Stage) (*ProcessingStatus, error) {
	statuses, err := s.FileStatuses(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	for i := range statuses {
		if statuses[i].Stage == stage {
			return &statuses[i], nil
		}
	}
	return nil, fmt.Errorf("status %s/%s: %w", mediaID, stage, ErrNotFound)
}

// Health aggregates status counts across all stages.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM processing_status GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("status stats: %w", err)
	}
	defer rows.Close()

	health := HealthSummary{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, err
		}
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusInProgress:
			health.InProgress += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailedPermanent:
			health.FailedPermanent += count
		}
	}
	return health, rows.Err()
}
