// Package sqlite provides SQLite persistence for hook-captured projects, sessions,
// prompts and responses.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps a database handle with a prepared statement cache.
type Store struct {
	db    *sql.DB
	stmts map[string]*sql.Stmt
	mu    sync.RWMutex
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	path             TEXT NOT NULL DEFAULT '',
	created_at_epoch INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	platform            TEXT NOT NULL,
	source_session_id   TEXT NOT NULL,
	project_path        TEXT NOT NULL DEFAULT '',
	started_at_epoch    INTEGER NOT NULL,
	last_activity_epoch INTEGER NOT NULL,
	goal                TEXT NOT NULL DEFAULT '',
	goal_progress       INTEGER,
	custom_name         TEXT NOT NULL DEFAULT '',
	prompt_tokens       INTEGER NOT NULL DEFAULT 0,
	response_tokens     INTEGER NOT NULL DEFAULT 0,
	files               TEXT NOT NULL DEFAULT '[]',
	UNIQUE(platform, source_session_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);

CREATE TABLE IF NOT EXISTS prompts (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	text             TEXT NOT NULL,
	timestamp_epoch  INTEGER NOT NULL,
	score            REAL,
	breakdown        TEXT,
	enhanced_text    TEXT NOT NULL DEFAULT '',
	enhanced_score   REAL,
	explanation      TEXT NOT NULL DEFAULT '',
	quick_wins       TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_prompts_session ON prompts(session_id, timestamp_epoch DESC);

CREATE TABLE IF NOT EXISTS responses (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	prompt_id        TEXT NOT NULL DEFAULT '',
	timestamp_epoch  INTEGER NOT NULL,
	data             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_session ON responses(session_id, timestamp_epoch);
`

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	s := newStoreFromDB(db)
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	return s, nil
}

func newStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db, stmts: make(map[string]*sql.Stmt)}
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetStmt returns a cached prepared statement for query.
func (s *Store) GetStmt(query string) (*sql.Stmt, error) {
	s.mu.RLock()
	stmt, ok := s.stmts[query]
	s.mu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// ExecContext executes a cached statement.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

// QueryContext runs a cached query.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext runs a cached single-row query.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := s.GetStmt(query)
	if err != nil {
		// Surface the prepare error through Scan.
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// Close closes cached statements and the database.
func (s *Store) Close() error {
	s.mu.Lock()
	for q, stmt := range s.stmts {
		_ = stmt.Close()
		delete(s.stmts, q)
	}
	s.mu.Unlock()
	return s.db.Close()
}
