// Package sqlite provides SQLite database operations for nudge.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Store wraps the database handle with a prepared statement cache.
type Store struct {
	db    *sql.DB
	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
}

// NewStore opens (creating if needed) the history database at path and runs
// migrations.
func NewStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, stmts: make(map[string]*sql.Stmt)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

// migrate creates the history schema.
func (s *Store) migrate() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS episodes (
			id             TEXT PRIMARY KEY,
			session_id     TEXT NOT NULL,
			project        TEXT NOT NULL DEFAULT '',
			idle_at_epoch  INTEGER NOT NULL,
			ended_at_epoch INTEGER,
			outcome        TEXT NOT NULL DEFAULT 'open'
		);

		CREATE TABLE IF NOT EXISTS reminders (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			episode_id     TEXT NOT NULL,
			session_id     TEXT NOT NULL,
			attempt        INTEGER NOT NULL,
			message        TEXT NOT NULL DEFAULT '',
			delivered      INTEGER NOT NULL DEFAULT 0,
			fired_at_epoch INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);
		CREATE INDEX IF NOT EXISTS idx_episodes_idle_at ON episodes(idle_at_epoch);
		CREATE INDEX IF NOT EXISTS idx_reminders_episode ON reminders(episode_id);
		CREATE INDEX IF NOT EXISTS idx_reminders_fired_at ON reminders(fired_at_epoch);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetStmt returns a cached prepared statement for the query.
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

// ExecContext executes a query through the statement cache.
func (s *Store) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

// QueryContext runs a query through the statement cache.
func (s *Store) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext runs a single-row query through the statement cache.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	stmt, err := s.GetStmt(query)
	if err != nil {
		// Fall through to the raw handle so the caller still gets a row
		// carrying the error.
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// Close releases cached statements and the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, stmt := range s.stmts {
		_ = stmt.Close()
	}
	s.stmts = make(map[string]*sql.Stmt)
	s.mu.Unlock()
	return s.db.Close()
}
