package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed sync history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// SyncRun Operations
// ============================================================================

const syncRunColumns = `
	start_time, end_time, forced, repos_queried, repos_failed, downloaded,
	evicted, up_to_date, failed, bytes_transferred, changed, status, error_message
`

// CreateSyncRun inserts a new SyncRun and sets its ID
func (s *Store) CreateSyncRun(run *SyncRun) error {
	query := `INSERT INTO sync_runs (` + syncRunColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.Exec(
		query,
		run.StartTime, run.EndTime, run.Forced, run.ReposQueried, run.ReposFailed,
		run.Downloaded, run.Evicted, run.UpToDate, run.Failed, run.BytesTransferred,
		run.Changed, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateSyncRun updates an existing SyncRun by ID
func (s *Store) UpdateSyncRun(run *SyncRun) error {
	const query = `
		UPDATE sync_runs SET
			start_time = ?, end_time = ?, forced = ?, repos_queried = ?, repos_failed = ?,
			downloaded = ?, evicted = ?, up_to_date = ?, failed = ?, bytes_transferred = ?,
			changed = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.StartTime, run.EndTime, run.Forced, run.ReposQueried, run.ReposFailed,
		run.Downloaded, run.Evicted, run.UpToDate, run.Failed, run.BytesTransferred,
		run.Changed, run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("sync run not found: %d", run.ID)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(row scanner) (*SyncRun, error) {
	run := &SyncRun{}
	err := row.Scan(
		&run.ID, &run.StartTime, &run.EndTime, &run.Forced, &run.ReposQueried,
		&run.ReposFailed, &run.Downloaded, &run.Evicted, &run.UpToDate, &run.Failed,
		&run.BytesTransferred, &run.Changed, &run.Status, &run.ErrorMessage,
	)
	return run, err
}

// GetSyncRun retrieves a SyncRun by ID
func (s *Store) GetSyncRun(id int64) (*SyncRun, error) {
	query := `SELECT id, ` + syncRunColumns + ` FROM sync_runs WHERE id = ?`

	run, err := scanSyncRun(s.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sync run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to query sync run: %w", err)
	}

	return run, nil
}

// ListSyncRuns retrieves the most recent SyncRuns, newest first
func (s *Store) ListSyncRuns(limit int) ([]SyncRun, error) {
	query := `SELECT id, ` + syncRunColumns + ` FROM sync_runs ORDER BY start_time DESC, id DESC`
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// FailedAsset Operations (Dead Letter Queue)
// ============================================================================

// RecordFailedAsset adds a failure for an asset. Repeated failures of an
// unresolved asset bump its retry count instead of adding rows.
func (s *Store) RecordFailedAsset(rec *FailedAsset) error {
	if rec.LastFailure.IsZero() {
		rec.LastFailure = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var retries int
	var first time.Time
	err = tx.QueryRow(
		"SELECT id, retry_count, first_failure FROM failed_assets WHERE name = ? AND resolved = 0 ORDER BY id DESC LIMIT 1",
		rec.Name,
	).Scan(&id, &retries, &first)

	switch {
	case err == sql.ErrNoRows:
		if rec.FirstFailure.IsZero() {
			rec.FirstFailure = rec.LastFailure
		}
		if rec.RetryCount == 0 {
			rec.RetryCount = 1
		}
		result, err := tx.Exec(`
			INSERT INTO failed_assets (
				name, repo_locator, url, err_kind, error, retry_count, first_failure, last_failure, resolved
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			rec.Name, rec.RepoLocator, rec.URL, rec.ErrKind, rec.Error, rec.RetryCount,
			rec.FirstFailure, rec.LastFailure,
		)
		if err != nil {
			return fmt.Errorf("failed to insert failed asset: %w", err)
		}
		if rec.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to query failed asset: %w", err)
	default:
		rec.ID = id
		rec.RetryCount = retries + 1
		rec.FirstFailure = first
		_, err := tx.Exec(`
			UPDATE failed_assets SET
				repo_locator = ?, url = ?, err_kind = ?, error = ?, retry_count = ?, last_failure = ?
			WHERE id = ?`,
			rec.RepoLocator, rec.URL, rec.ErrKind, rec.Error, rec.RetryCount, rec.LastFailure, id,
		)
		if err != nil {
			return fmt.Errorf("failed to update failed asset: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failed asset: %w", err)
	}
	return nil
}

// ResolveFailedAsset marks every open failure for name as resolved and
// returns how many were closed.
func (s *Store) ResolveFailedAsset(name string) (int, error) {
	result, err := s.db.Exec("UPDATE failed_assets SET resolved = 1 WHERE name = ? AND resolved = 0", name)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve failed asset: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// ListFailedAssets returns failures ordered by most recent, optionally
// including resolved ones.
func (s *Store) ListFailedAssets(includeResolved bool) ([]FailedAsset, error) {
	query := `
		SELECT id, name, repo_locator, url, err_kind, error, retry_count,
		       first_failure, last_failure, resolved
		FROM failed_assets
	`
	if !includeResolved {
		query += " WHERE resolved = 0"
	}
	query += " ORDER BY last_failure DESC, id DESC"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed assets: %w", err)
	}
	defer rows.Close()

	var out []FailedAsset
	for rows.Next() {
		var rec FailedAsset
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.RepoLocator, &rec.URL, &rec.ErrKind, &rec.Error,
			&rec.RetryCount, &rec.FirstFailure, &rec.LastFailure, &rec.Resolved,
		); err != nil {
			return nil, fmt.Errorf("failed to scan failed asset: %w", err)
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failed assets: %w", err)
	}

	return out, nil
}
