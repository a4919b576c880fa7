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
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: documents, transactions, suggestions",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					team_id TEXT NOT NULL,
					amount INTEGER NOT NULL,
					currency TEXT NOT NULL,
					date DATETIME NOT NULL,
					vendor_name TEXT,
					match_status TEXT NOT NULL DEFAULT 'unmatched',
					matched_transaction_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_documents_team_status ON documents(team_id, match_status)`,
				`CREATE INDEX idx_documents_team_currency_date ON documents(team_id, currency, date)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					team_id TEXT NOT NULL,
					amount INTEGER NOT NULL,
					currency TEXT NOT NULL,
					date DATETIME NOT NULL,
					name TEXT NOT NULL,
					counterparty_name TEXT,
					match_status TEXT NOT NULL DEFAULT 'unmatched',
					matched_document_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_team_currency_date ON transactions(team_id, currency, date)`,

				`CREATE TABLE IF NOT EXISTS match_suggestions (
					id TEXT PRIMARY KEY,
					team_id TEXT NOT NULL,
					document_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					confidence_score REAL NOT NULL,
					amount_score REAL DEFAULT 0,
					date_score REAL DEFAULT 0,
					name_score REAL DEFAULT 0,
					match_type TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(document_id, transaction_id),
					FOREIGN KEY (document_id) REFERENCES documents(id),
					FOREIGN KEY (transaction_id) REFERENCES transactions(id)
				)`,
				`CREATE INDEX idx_suggestions_document ON match_suggestions(document_id)`,
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
		Description: "Job queue table",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS jobs (
					id TEXT PRIMARY KEY,
					queue TEXT NOT NULL,
					type TEXT NOT NULL,
					payload TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'waiting',
					attempts INTEGER NOT NULL DEFAULT 0,
					max_attempts INTEGER NOT NULL DEFAULT 3,
					last_error TEXT,
					result TEXT,
					run_at DATETIME NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					started_at DATETIME,
					finished_at DATETIME
				)`,
				`CREATE INDEX idx_jobs_queue_status_run_at ON jobs(queue, status, run_at)`,
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
		Version:     3,
		Description: "Index suggestions by team for calibration queries",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_suggestions_team_status ON match_suggestions(team_id, status)`)
			return err
		},
	},
}

// Migrate applies all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}

		slog.Info("Applying migration",
			"version", migration.Version,
			"description", migration.Description)

		tx, beginErr := s.db.BeginTx(ctx, nil)
		if beginErr != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, beginErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, verErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); verErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version %d: %w", migration.Version, verErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}
	}

	final, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if final != ExpectedSchemaVersion {
		return fmt.Errorf("schema version %d after migration, expected %d", final, ExpectedSchemaVersion)
	}

	return nil
}

func (s *SQLiteStorage) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
