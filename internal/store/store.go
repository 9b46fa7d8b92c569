// Package store provides SQLite-backed persistence for modules, sync jobs,
// audit records, releases, and webhook state. All timestamps are stored as
// UTC RFC 3339 text so that range comparisons in SQL stay lexicographic.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// schema contains the DDL executed on every open. IF NOT EXISTS makes it
// safe to run on startup.
const schema = `
CREATE TABLE IF NOT EXISTS modules (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    path            TEXT NOT NULL,
    repo_url        TEXT NOT NULL DEFAULT '',
    branch          TEXT NOT NULL DEFAULT 'main',
    version         TEXT NOT NULL DEFAULT '0.1.0',
    auto_sync       INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'pending',
    last_synced     TEXT,
    last_sync_error TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS module_deps (
    module_id  TEXT NOT NULL,
    depends_on TEXT NOT NULL,
    PRIMARY KEY (module_id, depends_on)
);

CREATE TABLE IF NOT EXISTS sync_jobs (
    id           TEXT PRIMARY KEY,
    module_id    TEXT NOT NULL,
    direction    TEXT NOT NULL,
    priority     INTEGER NOT NULL DEFAULT 0,
    attempts     INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    status       TEXT NOT NULL DEFAULT 'pending',
    run_at       TEXT NOT NULL,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL,
    started_at   TEXT,
    completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_jobs_due ON sync_jobs (status, run_at);

CREATE TABLE IF NOT EXISTS sync_records (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    module_id   TEXT NOT NULL,
    direction   TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    files       TEXT NOT NULL DEFAULT '[]',
    commits     TEXT NOT NULL DEFAULT '[]',
    additions   INTEGER NOT NULL DEFAULT 0,
    deletions   INTEGER NOT NULL DEFAULT 0,
    actor       TEXT NOT NULL DEFAULT 'automated',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS releases (
    id         TEXT PRIMARY KEY,
    module_id  TEXT NOT NULL,
    version    TEXT NOT NULL,
    tag        TEXT NOT NULL DEFAULT '',
    changelog  TEXT NOT NULL DEFAULT '',
    published  INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS webhooks (
    id         TEXT PRIMARY KEY,
    module_id  TEXT NOT NULL UNIQUE,
    url        TEXT NOT NULL DEFAULT '',
    secret     TEXT NOT NULL,
    events     TEXT NOT NULL DEFAULT '[]',
    active     INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    webhook_id   TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    payload      BLOB,
    processed    INTEGER NOT NULL DEFAULT 0,
    processed_at TEXT,
    error        TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL
);
`

// Store provides data access for all persistent sync state, backed by a
// local SQLite database in WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dbPath, enables WAL mode
// and a busy timeout, and creates the schema tables if they do not exist.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Limit to one connection. SQLite only supports a single writer; one
	// connection avoids SQLITE_BUSY contention between pooled connections
	// that each need their own PRAGMA setup.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// formatTime renders a timestamp in the canonical stored form.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// timestampFormats lists the layouts timestamps may arrive in: the canonical
// stored form, the nano variant, and SQLite's CURRENT_TIMESTAMP output.
var timestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	time.DateTime,
}

// parseTime attempts to parse a stored timestamp using known formats.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// parseNullTime parses an optional timestamp column.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeStrings renders a string slice as a JSON array for a TEXT column.
// Nil encodes as the empty array so scans round-trip cleanly.
func encodeStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("encoding string list: %w", err)
	}
	return string(b), nil
}

// decodeStrings parses a JSON array TEXT column back into a slice.
func decodeStrings(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil, fmt.Errorf("decoding string list: %w", err)
	}
	if len(ss) == 0 {
		return nil, nil
	}
	return ss, nil
}
