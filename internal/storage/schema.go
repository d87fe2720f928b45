package storage

import (
	"database/sql"
	"fmt"
)

// InitSchema creates all required tables and indexes.
// This is idempotent - safe to call multiple times.
func InitSchema(db *sql.DB) error {
	ddlStatements := []string{
		// records table: one row per registered subdomain. payload holds the
		// full JSON document, the other columns are for lookups.
		`CREATE TABLE IF NOT EXISTS records (
			domain TEXT NOT NULL,
			label TEXT NOT NULL,
			owner TEXT NOT NULL,
			record_type TEXT NOT NULL,
			provider_record_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (domain, label)
		)`,

		// Index on owner for per-user counts
		`CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner)`,
	}

	// Execute each DDL statement
	for _, stmt := range ddlStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}
