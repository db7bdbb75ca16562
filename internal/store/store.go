// Package store provides persistent storage for issuebot using SQLite.
// It owns the data model: watched repos, tracked issues, iteration history,
// cost tracking, and the append-only event log. Migrations run automatically
// on initialization.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. All access goes through explicit methods;
// no implicit record mutation happens on read or write.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store using an existing *sql.DB connection.
// It runs migrations to create the required tables if they don't exist.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store migration failed: %w", err)
	}
	return s, nil
}

// NewStoreFromPath creates a Store by opening a new SQLite connection.
// Pass ":memory:" for an in-memory database (used in tests).
func NewStoreFromPath(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each pool connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to set database pragmas: %w", err)
	}
	return NewStore(db)
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS watched_repos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			default_branch TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT 'AUTONOMOUS',
			max_iterations INTEGER NOT NULL DEFAULT 5,
			max_review_iterations INTEGER NOT NULL DEFAULT 2,
			ci_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			ci_timeout_minutes INTEGER NOT NULL DEFAULT 15,
			auto_merge BOOLEAN NOT NULL DEFAULT FALSE,
			review_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			security_review_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			allowed_paths TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(owner, name)
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_issues (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES watched_repos(id),
			issue_number INTEGER NOT NULL,
			issue_title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'PENDING',
			current_iteration INTEGER NOT NULL DEFAULT 0,
			current_review_iteration INTEGER NOT NULL DEFAULT 0,
			branch_name TEXT NOT NULL DEFAULT '',
			current_phase TEXT,
			cooldown_until DATETIME,
			blocked_by_issues TEXT NOT NULL DEFAULT '',
			last_feedback TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(repo_id, issue_number)
		)`,
		`CREATE TABLE IF NOT EXISTS iterations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			issue_id INTEGER NOT NULL REFERENCES tracked_issues(id),
			iteration_num INTEGER NOT NULL,
			claude_output TEXT NOT NULL DEFAULT '',
			self_assessment TEXT NOT NULL DEFAULT '',
			ci_result TEXT NOT NULL DEFAULT '',
			diff TEXT NOT NULL DEFAULT '',
			review_json TEXT NOT NULL DEFAULT '',
			review_passed BOOLEAN,
			review_model TEXT NOT NULL DEFAULT '',
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS cost_tracking (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			issue_id INTEGER NOT NULL REFERENCES tracked_issues(id),
			iteration_num INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost REAL NOT NULL DEFAULT 0.0,
			model_used TEXT NOT NULL DEFAULT '',
			phase TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			event_type TEXT NOT NULL,
			repo_id INTEGER,
			issue_id INTEGER,
			issue_number INTEGER,
			message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_repo ON tracked_issues(repo_id)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_status ON tracked_issues(status)`,
		`CREATE INDEX IF NOT EXISTS idx_iterations_issue ON iterations(issue_id)`,
		`CREATE INDEX IF NOT EXISTS idx_costs_issue ON cost_tracking(issue_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_issue ON events(issue_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors from ALTER TABLE migrations
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database connection and releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullTime converts a time.Time to sql.NullTime, treating zero time as NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// nullString converts a string to sql.NullString, treating "" as NULL.
func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// nullInt64 converts an int64 to sql.NullInt64, treating 0 as NULL.
func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
