package store

import (
	"fmt"
)

// schemaMigrations are applied in order; a version is never edited once
// released, new columns get a new entry.
var schemaMigrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
			CREATE TABLE sync_runs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				start_time DATETIME NOT NULL,
				end_time DATETIME,
				forced BOOLEAN DEFAULT 0,
				repos_queried INTEGER DEFAULT 0,
				repos_failed INTEGER DEFAULT 0,
				downloaded INTEGER DEFAULT 0,
				evicted INTEGER DEFAULT 0,
				up_to_date INTEGER DEFAULT 0,
				failed INTEGER DEFAULT 0,
				bytes_transferred INTEGER DEFAULT 0,
				changed BOOLEAN DEFAULT 0,
				status TEXT DEFAULT 'running',
				error_message TEXT DEFAULT ''
			);

			CREATE TABLE failed_assets (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				repo_locator TEXT,
				url TEXT,
				err_kind TEXT,
				error TEXT,
				retry_count INTEGER DEFAULT 0,
				first_failure DATETIME NOT NULL,
				last_failure DATETIME NOT NULL,
				resolved BOOLEAN DEFAULT 0
			);

			CREATE INDEX idx_failed_assets_name ON failed_assets(name, resolved);
		`,
	},
}

// migrate brings the schema up to the latest version.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	s.logger.Debug("current schema version", "version", current)

	for _, m := range schemaMigrations {
		if m.version <= current {
			continue
		}
		s.logger.Info("applying schema migration", "version", m.version)
		if err := s.applyMigration(m.version, m.sql); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", m.version, err)
		}
	}
	return nil
}

// applyMigration runs one migration and records its version atomically.
func (s *Store) applyMigration(version int, ddl string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}
	return tx.Commit()
}
