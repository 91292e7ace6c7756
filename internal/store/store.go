// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists entities, conversation contexts, multi-turn states
// and conversation logs in SQLite or Postgres. The same schema serves both
// drivers; statements are written with ? placeholders and rebound for
// Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// Drivers accepted in StoreConfig.Driver.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store is the SQL persistence layer of the engine.
type Store struct {
	db       *sql.DB
	postgres bool
}

// NewStore opens the configured database and creates the schema if it does
// not exist. For sqlite3 the DSN is a file path; its directory is created.
func NewStore(cfg types.StoreConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err = sql.Open(DriverSQLite, cfg.DSN+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	case DriverPostgres:
		db, err = sql.Open(DriverPostgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, postgres: driver == DriverPostgres}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			uid TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			value TEXT NOT NULL,
			length INTEGER NOT NULL,
			removable INTEGER NOT NULL DEFAULT 1,
			knowledge TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_value ON entities(value)`,
		`CREATE TABLE IF NOT EXISTS contexts (
			uid TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			knowledge_id TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			record TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contexts_session ON contexts(session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS conversation_states (
			session_id TEXT PRIMARY KEY,
			knowledge_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			state TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_logs (
			uid TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			knowledge_id TEXT,
			nif INTEGER NOT NULL DEFAULT 0,
			record TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_session ON conversation_logs(session_id, ts)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q execer, query string, args ...any) error {
	_, err := q.ExecContext(ctx, s.rebind(query), args...)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
