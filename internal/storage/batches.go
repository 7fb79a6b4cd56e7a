package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
)

// SaveBatch inserts or updates a batch. The update path touches status and
// counters only; creation time is preserved.
func (s *SQLiteStorage) SaveBatch(ctx context.Context, batch *model.Batch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if batch == nil {
		return errors.New("batch cannot be nil")
	}
	if err := validateString(batch.ID, "batch ID"); err != nil {
		return err
	}

	query := `
		INSERT INTO batches (id, source, status, total_urls, processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_urls = excluded.total_urls,
			processed = excluded.processed,
			updated_at = excluded.updated_at`

	createdAt := batch.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		batch.ID, batch.Source, string(batch.Status),
		batch.TotalURLs, batch.Processed,
		createdAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

// GetBatch returns the batch with the given ID.
func (s *SQLiteStorage) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "batch ID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, source, status, total_urls, processed, created_at, updated_at
		FROM batches WHERE id = ?`

	var batch model.Batch
	var status string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&batch.ID, &batch.Source, &status,
		&batch.TotalURLs, &batch.Processed,
		&batch.CreatedAt, &batch.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	batch.Status = model.BatchStatus(status)
	return &batch, nil
}

// ListBatches returns all batches, newest first.
func (s *SQLiteStorage) ListBatches(ctx context.Context) ([]model.Batch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, source, status, total_urls, processed, created_at, updated_at
		FROM batches ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []model.Batch
	for rows.Next() {
		var batch model.Batch
		var status string
		if err := rows.Scan(
			&batch.ID, &batch.Source, &status,
			&batch.TotalURLs, &batch.Processed,
			&batch.CreatedAt, &batch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batch.Status = model.BatchStatus(status)
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}
