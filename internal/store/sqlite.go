package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		catalog_path TEXT NOT NULL,
		output_path TEXT NOT NULL,
		start_index INTEGER NOT NULL,
		total_trials INTEGER NOT NULL,
		completed_trials INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_catalog ON sessions(catalog_path, created_at);

	CREATE TABLE IF NOT EXISTS trial_results (
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		catalog_index INTEGER NOT NULL,
		trial_id INTEGER NOT NULL,
		records INTEGER NOT NULL,
		flushed_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, catalog_index)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (session_id, catalog_path, output_path, start_index, total_trials,
		completed_trials, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return s.write(ctx, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.CatalogPath, session.OutputPath, session.StartIndex,
			session.TotalTrials, session.CompletedTrials, string(session.Status),
			session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli(),
		)
		return err
	})
}

// RecordTrial stores a flushed trial and bumps the session's completed count.
func (s *SQLiteStore) RecordTrial(ctx context.Context, result *domain.TrialResult) error {
	return s.write(ctx, "record trial", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trial_results (session_id, catalog_index, trial_id, records, flushed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id, catalog_index) DO UPDATE SET
				records = trial_results.records + excluded.records,
				flushed_at = excluded.flushed_at`,
			result.SessionID, result.CatalogIndex, result.TrialID, result.Records, result.FlushedAt.UnixMilli(),
		); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET
				completed_trials = (SELECT COUNT(*) FROM trial_results WHERE session_id = ?),
				updated_at = ?
			WHERE session_id = ?`,
			result.SessionID, result.FlushedAt.UnixMilli(), result.SessionID,
		)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("session %s not found", result.SessionID)
		}
		return tx.Commit()
	})
}

// FinishSession sets the final status of a session.
func (s *SQLiteStore) FinishSession(ctx context.Context, sessionID string, status domain.SessionStatus, at time.Time) error {
	return s.write(ctx, "finish session", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
			string(status), at.UnixMilli(), sessionID,
		)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			slog.Warn("FinishSession affected 0 rows", "session_id", sessionID)
		}
		return nil
	})
}

const sessionColumns = `session_id, catalog_path, output_path, start_index, total_trials,
	completed_trials, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var status string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&session.ID, &session.CatalogPath, &session.OutputPath, &session.StartIndex,
		&session.TotalTrials, &session.CompletedTrials, &status, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	session.Status = domain.SessionStatus(status)
	session.CreatedAt = time.UnixMilli(createdAt)
	session.UpdatedAt = time.UnixMilli(updatedAt)
	return &session, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, session_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ListTrials returns the flushed trials of a session in catalog order.
func (s *SQLiteStore) ListTrials(ctx context.Context, sessionID string) ([]*domain.TrialResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, catalog_index, trial_id, records, flushed_at
		FROM trial_results WHERE session_id = ? ORDER BY catalog_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close trial rows", "error", closeErr)
		}
	}()

	var results []*domain.TrialResult
	for rows.Next() {
		var r domain.TrialResult
		var flushedAt int64
		if err := rows.Scan(&r.SessionID, &r.CatalogIndex, &r.TrialID, &r.Records, &flushedAt); err != nil {
			return nil, fmt.Errorf("scan trial row: %w", err)
		}
		r.FlushedAt = time.UnixMilli(flushedAt)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trials: %w", err)
	}
	return results, nil
}

// NextStartIndex returns the catalog row at which to resume catalogPath.
func (s *SQLiteStore) NextStartIndex(ctx context.Context, catalogPath string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE catalog_path = ? ORDER BY created_at DESC, session_id DESC LIMIT 1`, catalogPath)
	latest, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan latest session: %w", err)
	}
	if latest.Status == domain.SessionFinished {
		return 0, nil
	}

	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(catalog_index) FROM trial_results WHERE session_id = ?`, latest.ID,
	).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last flushed trial: %w", err)
	}
	if !last.Valid {
		return latest.StartIndex, nil
	}
	return int(last.Int64) + 1, nil
}

// write runs fn under the writer lock, retrying on SQLite lock contention.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func() error) error {
	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return fn()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
