package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
)

// SaveURLReport appends a per-URL outcome. Reports are never updated; the
// latest row per normalized URL is authoritative.
func (s *SQLiteStorage) SaveURLReport(ctx context.Context, report *model.URLReport) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if report == nil {
		return errors.New("report cannot be nil")
	}
	if err := validateString(report.ID, "report ID"); err != nil {
		return err
	}
	if err := validateString(report.Normalized, "normalized URL"); err != nil {
		return err
	}

	issues, err := json.Marshal(report.Issues)
	if err != nil {
		return fmt.Errorf("failed to encode issues: %w", err)
	}

	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO url_reports (id, url_id, batch_id, url, normalized,
			category, method, explanation, issues, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		report.ID, report.URLID, report.BatchID, report.URL, report.Normalized,
		string(report.Category), string(report.Method),
		report.Explanation, string(issues), report.Confidence, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save URL report: %w", mapConstraintError(err))
	}
	return nil
}

// LatestReportForURL returns the most recent report for a normalized URL
// across all batches, or ErrNotFound.
func (s *SQLiteStorage) LatestReportForURL(ctx context.Context, normalized string) (*model.URLReport, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(normalized, "normalized URL"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, url_id, batch_id, url, normalized,
			category, method, explanation, issues, confidence, created_at
		FROM url_reports
		WHERE normalized = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`

	report, err := scanURLReport(s.db.QueryRowContext(ctx, query, normalized))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no report for %s", common.ErrNotFound, normalized)
	}
	return report, err
}

// GetURLReportsByBatch returns every report that belongs to a batch, in the
// order they were written.
func (s *SQLiteStorage) GetURLReportsByBatch(ctx context.Context, batchID string) ([]model.URLReport, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batch ID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, url_id, batch_id, url, normalized,
			category, method, explanation, issues, confidence, created_at
		FROM url_reports WHERE batch_id = ? ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get URL reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []model.URLReport
	for rows.Next() {
		report, err := scanURLReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanURLReport(row rowScanner) (*model.URLReport, error) {
	var report model.URLReport
	var category, method, issues string
	err := row.Scan(
		&report.ID, &report.URLID, &report.BatchID, &report.URL, &report.Normalized,
		&category, &method, &report.Explanation, &issues,
		&report.Confidence, &report.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan URL report: %w", err)
	}

	report.Category = model.Category(category)
	report.Method = model.AnalysisMethod(method)
	if issues != "" {
		if err := json.Unmarshal([]byte(issues), &report.Issues); err != nil {
			return nil, fmt.Errorf("failed to decode issues: %w", err)
		}
	}
	return &report, nil
}

// SaveComplianceReport inserts or updates a batch's aggregate report.
func (s *SQLiteStorage) SaveComplianceReport(ctx context.Context, report *model.ComplianceReport) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if report == nil {
		return errors.New("report cannot be nil")
	}
	if err := validateString(report.BatchID, "batch ID"); err != nil {
		return err
	}

	query := `
		INSERT INTO compliance_reports (batch_id, status, total, processed,
			blacklisted, whitelisted, review, filtered_out, errored, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			status = excluded.status,
			total = excluded.total,
			processed = excluded.processed,
			blacklisted = excluded.blacklisted,
			whitelisted = excluded.whitelisted,
			review = excluded.review,
			filtered_out = excluded.filtered_out,
			errored = excluded.errored,
			updated_at = excluded.updated_at`

	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		report.BatchID, string(report.Status), report.Total, report.Processed,
		report.Blacklisted, report.Whitelisted, report.Review,
		report.FilteredOut, report.Errored,
		createdAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save compliance report: %w", err)
	}
	return nil
}

// GetComplianceReport returns a batch's aggregate report, or ErrNotFound.
func (s *SQLiteStorage) GetComplianceReport(ctx context.Context, batchID string) (*model.ComplianceReport, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batch ID"); err != nil {
		return nil, err
	}

	query := `
		SELECT batch_id, status, total, processed,
			blacklisted, whitelisted, review, filtered_out, errored,
			created_at, updated_at
		FROM compliance_reports WHERE batch_id = ?`

	var report model.ComplianceReport
	var status string
	err := s.db.QueryRowContext(ctx, query, batchID).Scan(
		&report.BatchID, &status, &report.Total, &report.Processed,
		&report.Blacklisted, &report.Whitelisted, &report.Review,
		&report.FilteredOut, &report.Errored,
		&report.CreatedAt, &report.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no report for batch %s", common.ErrNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance report: %w", err)
	}
	report.Status = model.BatchStatus(status)
	return &report, nil
}
