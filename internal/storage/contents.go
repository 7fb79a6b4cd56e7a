package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/urlshield/urlshield/internal/model"
)

// SaveContent stores the fetched content for a URL.
func (s *SQLiteStorage) SaveContent(ctx context.Context, content *model.ContentRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if content == nil {
		return errors.New("content cannot be nil")
	}
	if err := validateString(content.ID, "content ID"); err != nil {
		return err
	}
	if err := validateString(content.URLID, "URL ID"); err != nil {
		return err
	}

	fetchedAt := content.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	query := `
		INSERT INTO contents (id, url_id, url, title, body, backend, elapsed_ns, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		content.ID, content.URLID, content.URL,
		content.Title, content.Text, content.Backend,
		int64(content.Elapsed), fetchedAt)
	if err != nil {
		return fmt.Errorf("failed to save content: %w", mapConstraintError(err))
	}
	return nil
}

// SaveMatches replaces the stored matches for a content record.
func (s *SQLiteStorage) SaveMatches(ctx context.Context, contentID string, matches []model.MatchResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(contentID, "content ID"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE content_id = ?`, contentID); err != nil {
			return fmt.Errorf("failed to clear matches: %w", err)
		}

		query := `
			INSERT INTO matches (id, content_id, text, context_before, context_after,
				embedding_id, position, similarity, semantic)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

		for _, m := range matches {
			if _, err := tx.ExecContext(ctx, query,
				m.ID, contentID, m.Text, m.ContextBefore, m.ContextAfter,
				m.EmbeddingID, m.Offset, m.Similarity, m.Semantic); err != nil {
				return fmt.Errorf("failed to save match: %w", err)
			}
		}
		return nil
	})
}

// GetMatchesByContent returns the stored matches for a content record in
// document order.
func (s *SQLiteStorage) GetMatchesByContent(ctx context.Context, contentID string) ([]model.MatchResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(contentID, "content ID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, content_id, text, context_before, context_after,
			embedding_id, position, similarity, semantic
		FROM matches WHERE content_id = ? ORDER BY position, id`

	rows, err := s.db.QueryContext(ctx, query, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []model.MatchResult
	for rows.Next() {
		var m model.MatchResult
		if err := rows.Scan(
			&m.ID, &m.ContentID, &m.Text, &m.ContextBefore, &m.ContextAfter,
			&m.EmbeddingID, &m.Offset, &m.Similarity, &m.Semantic); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
