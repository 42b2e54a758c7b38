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
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT NOT NULL,
					tenant_id TEXT NOT NULL,
					amount TEXT NOT NULL,
					currency TEXT NOT NULL,
					date DATETIME NOT NULL,
					description TEXT,
					reference TEXT,
					counterparty_name TEXT,
					counterparty_account TEXT,
					matched BOOLEAN NOT NULL DEFAULT 0,
					match_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant_id, id)
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(tenant_id, date)`,
				`CREATE INDEX idx_transactions_matched ON transactions(tenant_id, matched)`,

				`CREATE TABLE IF NOT EXISTS candidates (
					id TEXT NOT NULL,
					tenant_id TEXT NOT NULL,
					type TEXT NOT NULL,
					amount TEXT NOT NULL,
					due_date DATETIME NOT NULL,
					counterparty_name TEXT,
					reference TEXT,
					status TEXT NOT NULL DEFAULT 'open',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant_id, id)
				)`,
				`CREATE INDEX idx_candidates_due_date ON candidates(tenant_id, due_date)`,
				`CREATE INDEX idx_candidates_status ON candidates(tenant_id, status)`,

				`CREATE TABLE IF NOT EXISTS matches (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					candidate_id TEXT NOT NULL,
					candidate_type TEXT NOT NULL,
					score INTEGER NOT NULL,
					confidence TEXT NOT NULL,
					method TEXT NOT NULL,
					status TEXT NOT NULL,
					reason_codes TEXT,
					created_by TEXT,
					confirmed_by TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (tenant_id, transaction_id)
				)`,
				`CREATE INDEX idx_matches_status ON matches(tenant_id, status)`,
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
		Description: "Add learned patterns table",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS patterns (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id TEXT NOT NULL,
					fingerprint TEXT NOT NULL,
					counterparty_key TEXT NOT NULL,
					candidate_type TEXT NOT NULL,
					strength REAL NOT NULL DEFAULT 1.0,
					confirmation_count INTEGER NOT NULL DEFAULT 0,
					active BOOLEAN NOT NULL DEFAULT 1,
					last_seen_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (tenant_id, fingerprint)
				)`,
				`CREATE INDEX idx_patterns_counterparty ON patterns(tenant_id, counterparty_key)`,
				`CREATE INDEX idx_patterns_active ON patterns(tenant_id, active, strength)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add match history for auditing",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS match_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					candidate_id TEXT NOT NULL,
					status TEXT NOT NULL,
					score INTEGER NOT NULL,
					actor TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_match_history_transaction
					ON match_history(tenant_id, transaction_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= ExpectedSchemaVersion {
		slog.Debug("schema up to date", "version", currentVersion)
		return nil
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		slog.Info("applying migration",
			"version", migration.Version,
			"description", migration.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	slog.Info("migrations complete", "version", ExpectedSchemaVersion)
	return nil
}
