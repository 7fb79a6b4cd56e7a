package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
)

// SaveURL inserts a URL record. A second record with the same normalized URL
// in the same batch fails with ErrDuplicateEntry.
func (s *SQLiteStorage) SaveURL(ctx context.Context, rec *model.URLRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rec == nil {
		return errors.New("URL record cannot be nil")
	}
	if err := validateString(rec.ID, "URL ID"); err != nil {
		return err
	}
	if err := validateString(rec.BatchID, "batch ID"); err != nil {
		return err
	}

	query := `
		INSERT INTO urls (id, batch_id, raw_url, normalized, status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.BatchID, rec.RawURL, rec.Normalized,
		string(rec.Status), rec.LastError,
		createdAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save URL: %w", mapConstraintError(err))
	}
	return nil
}

// UpdateURLStatus advances a URL's processing state.
func (s *SQLiteStorage) UpdateURLStatus(ctx context.Context, id string, status model.URLStatus, lastError string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "URL ID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE urls SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update URL status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: URL %s", common.ErrNotFound, id)
	}
	return nil
}

// GetURLsByBatch returns a batch's URLs in insertion order.
func (s *SQLiteStorage) GetURLsByBatch(ctx context.Context, batchID string) ([]model.URLRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batch ID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, batch_id, raw_url, normalized, status, last_error, created_at, updated_at
		FROM urls WHERE batch_id = ? ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get URLs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.URLRecord
	for rows.Next() {
		var rec model.URLRecord
		var status string
		if err := rows.Scan(
			&rec.ID, &rec.BatchID, &rec.RawURL, &rec.Normalized,
			&status, &rec.LastError,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan URL: %w", err)
		}
		rec.Status = model.URLStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}
