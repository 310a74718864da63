package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Store holds the database handle and provides access to repositories.
type Store struct {
	db *sql.DB
}

// Open creates a new Store connected to the SQLite database at dsn.
// It applies recommended pragmas and runs migration.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GraphRepo returns a GraphRepo backed by this store.
func (s *Store) GraphRepo() GraphRepo {
	return &graphRepo{db: s.db}
}

// AssessmentRepo returns an AssessmentRepo backed by this store.
func (s *Store) AssessmentRepo() AssessmentRepo {
	return &assessmentRepo{db: s.db}
}

// ProgressRepo returns a ProgressRepo backed by this store.
func (s *Store) ProgressRepo() ProgressRepo {
	return &progressRepo{db: s.db}
}

// AuditRepo returns an AuditRepo backed by this store.
func (s *Store) AuditRepo() AuditRepo {
	return &auditRepo{db: s.db}
}

// EventRepo returns an EventRepo backed by this store.
func (s *Store) EventRepo() EventRepo {
	return &eventRepo{db: s.db}
}

// Reset deletes all learner data. The schema stays in place.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"edges", "nodes", "answers", "questions", "assessments",
		"progress", "generation_logs", "llm_request_events",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return nil
}

// applyPragmas configures SQLite for optimal performance.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// migrate creates the schema if it doesn't exist. The UNIQUE constraint on
// edges is defense in depth behind the mutation protocol's create-if-missing
// checks.
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			type        TEXT NOT NULL CHECK (type IN ('root','concept','subconcept')),
			parent_id   TEXT,
			cluster_id  TEXT,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			accuracy    REAL NOT NULL DEFAULT 0,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_user ON nodes(user_id)`,
		`CREATE TABLE IF NOT EXISTS edges (
			source_id  TEXT NOT NULL,
			target_id  TEXT NOT NULL,
			UNIQUE (source_id, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id)`,
		`CREATE TABLE IF NOT EXISTS assessments (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			node_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (user_id, node_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id             TEXT PRIMARY KEY,
			assessment_id  TEXT NOT NULL,
			position       INTEGER NOT NULL,
			prompt         TEXT NOT NULL,
			format         TEXT NOT NULL,
			options        TEXT NOT NULL DEFAULT '[]',
			correct_answer TEXT NOT NULL DEFAULT '',
			difficulty     INTEGER NOT NULL DEFAULT 3
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_assessment ON questions(assessment_id)`,
		`CREATE TABLE IF NOT EXISTS answers (
			id              TEXT PRIMARY KEY,
			question_id     TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			selected_option TEXT NOT NULL DEFAULT '',
			free_text       TEXT NOT NULL DEFAULT '',
			is_correct      INTEGER,
			score           REAL,
			feedback        TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(question_id)`,
		`CREATE TABLE IF NOT EXISTS progress (
			user_id             TEXT NOT NULL,
			node_id             TEXT NOT NULL,
			accuracy            REAL NOT NULL DEFAULT 0,
			attempts            INTEGER NOT NULL DEFAULT 0,
			first_entered_at    TIMESTAMP NOT NULL,
			last_entered_at     TIMESTAMP NOT NULL,
			completed_at        TIMESTAMP,
			structure_generated INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS generation_logs (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id        TEXT NOT NULL,
			trigger_reason TEXT NOT NULL,
			prompt_summary TEXT NOT NULL DEFAULT '',
			metadata       TEXT NOT NULL DEFAULT '{}',
			created_at     TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS llm_request_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     TIMESTAMP NOT NULL,
			provider      TEXT NOT NULL,
			model         TEXT NOT NULL,
			purpose       TEXT NOT NULL,
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			latency_ms    INTEGER NOT NULL DEFAULT 0,
			success       INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			request_body  TEXT NOT NULL DEFAULT '',
			response_body TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// DefaultDBPath resolves the database file path in priority order:
// 1. CURIO_DB environment variable
// 2. $XDG_DATA_HOME/curio/curio.db
// 3. ~/.local/share/curio/curio.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("CURIO_DB"); p != "" {
		return p, EnsureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "curio", "curio.db")
	return p, EnsureDir(p)
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}
