package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS batches (
					id TEXT PRIMARY KEY,
					source TEXT NOT NULL,
					status TEXT NOT NULL,
					total_urls INTEGER DEFAULT 0,
					processed INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS urls (
					id TEXT PRIMARY KEY,
					batch_id TEXT NOT NULL,
					raw_url TEXT NOT NULL,
					normalized TEXT NOT NULL,
					status TEXT NOT NULL,
					last_error TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (batch_id) REFERENCES batches(id),
					UNIQUE (batch_id, normalized)
				)`,

				`CREATE TABLE IF NOT EXISTS contents (
					id TEXT PRIMARY KEY,
					url_id TEXT NOT NULL,
					url TEXT NOT NULL,
					title TEXT,
					body TEXT,
					backend TEXT NOT NULL,
					elapsed_ns INTEGER DEFAULT 0,
					fetched_at DATETIME NOT NULL,
					FOREIGN KEY (url_id) REFERENCES urls(id)
				)`,

				`CREATE TABLE IF NOT EXISTS matches (
					id TEXT PRIMARY KEY,
					content_id TEXT NOT NULL,
					text TEXT NOT NULL,
					context_before TEXT,
					context_after TEXT,
					embedding_id TEXT,
					position INTEGER DEFAULT 0,
					similarity REAL DEFAULT 0,
					semantic INTEGER DEFAULT 0,
					FOREIGN KEY (content_id) REFERENCES contents(id)
				)`,

				`CREATE TABLE IF NOT EXISTS url_reports (
					id TEXT PRIMARY KEY,
					url_id TEXT NOT NULL,
					batch_id TEXT NOT NULL,
					url TEXT NOT NULL,
					normalized TEXT NOT NULL,
					category TEXT NOT NULL,
					method TEXT NOT NULL,
					explanation TEXT,
					issues TEXT,
					confidence REAL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (url_id) REFERENCES urls(id)
				)`,

				`CREATE TABLE IF NOT EXISTS compliance_reports (
					batch_id TEXT PRIMARY KEY,
					status TEXT NOT NULL,
					total INTEGER DEFAULT 0,
					processed INTEGER DEFAULT 0,
					blacklisted INTEGER DEFAULT 0,
					whitelisted INTEGER DEFAULT 0,
					review INTEGER DEFAULT 0,
					filtered_out INTEGER DEFAULT 0,
					errored INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (batch_id) REFERENCES batches(id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Lookup indexes for resume and reporting",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE INDEX IF NOT EXISTS idx_urls_batch ON urls(batch_id)`,
				`CREATE INDEX IF NOT EXISTS idx_url_reports_normalized ON url_reports(normalized, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_url_reports_batch ON url_reports(batch_id)`,
				`CREATE INDEX IF NOT EXISTS idx_matches_content ON matches(content_id)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
