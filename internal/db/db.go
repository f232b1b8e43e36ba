// Package db is the run event log. SQLite is the default backend; a
// postgres:// DSN selects Postgres through pgx.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL backend behind a DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "pgx"
)

// DB wraps the event log connection.
type DB struct {
	conn    *sql.DB
	dsn     string
	dialect Dialect
}

// DialectFor picks the backend for a DSN.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open opens or creates the event log at dsn.
func Open(dsn string) (*DB, error) {
	dialect := DialectFor(dsn)
	if dialect == SQLite && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == SQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dialect == SQLite {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
		if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return &DB{conn: conn, dsn: dsn, dialect: dialect}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect reports the backend.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) Rebind(query string) string {
	if d.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
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

// Timestamps are RFC 3339 UTC text written by the application so both
// backends sort and compare them the same way.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_events (
    id          %[1]s,
    session_id  TEXT NOT NULL,
    event       TEXT NOT NULL CHECK(event IN ('run_started','stage_completed','run_completed','run_failed','run_cancelled')),
    stage       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_session ON run_events(session_id, id);

CREATE TABLE IF NOT EXISTS stage_runs (
    id          %[1]s,
    session_id  TEXT NOT NULL,
    stage       TEXT NOT NULL,
    status      TEXT NOT NULL,
    total       INTEGER NOT NULL,
    succeeded   INTEGER NOT NULL,
    degraded    INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stage_runs_stage ON stage_runs(stage, timestamp);

CREATE TABLE IF NOT EXISTS item_results (
    id          %[1]s,
    session_id  TEXT NOT NULL,
    stage       TEXT NOT NULL,
    item_id     TEXT NOT NULL,
    state       TEXT NOT NULL,
    strategy    TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    calls       INTEGER NOT NULL DEFAULT 0,
    revisions   INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_item_results_session ON item_results(session_id, stage);
`

func (d *DB) schema() string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.dialect == Postgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	return fmt.Sprintf(schemaV1, id)
}

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(d.schema(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := tx.Exec(d.Rebind("INSERT INTO schema_version (version, applied_at) VALUES (1, ?)"), now()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"item_results", "stage_runs", "run_events", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
