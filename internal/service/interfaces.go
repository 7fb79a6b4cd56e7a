// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/urlshield/urlshield/internal/model"
)

// Storage defines the contract for the persistence layer.
type Storage interface {
	// Batch operations
	SaveBatch(ctx context.Context, batch *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	ListBatches(ctx context.Context) ([]model.Batch, error)

	// URL record operations
	SaveURL(ctx context.Context, rec *model.URLRecord) error
	UpdateURLStatus(ctx context.Context, id string, status model.URLStatus, lastError string) error
	GetURLsByBatch(ctx context.Context, batchID string) ([]model.URLRecord, error)

	// Content operations
	SaveContent(ctx context.Context, content *model.ContentRecord) error
	SaveMatches(ctx context.Context, contentID string, matches []model.MatchResult) error

	// Report operations
	SaveURLReport(ctx context.Context, report *model.URLReport) error
	LatestReportForURL(ctx context.Context, normalized string) (*model.URLReport, error)
	SaveComplianceReport(ctx context.Context, report *model.ComplianceReport) error
	GetComplianceReport(ctx context.Context, batchID string) (*model.ComplianceReport, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// CompletionStats shows the results of a batch run.
type CompletionStats struct {
	Duration    time.Duration
	Total       int
	Processed   int
	FilteredOut int
	Errored     int
	Blacklisted int
	Whitelisted int
	Review      int
	CacheHits   int
}
