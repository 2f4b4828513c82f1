package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("not found")

// Store owns the sqlite handle behind the queue, snapshot, ledger and alias
// tables. It is created once per process and closed explicitly.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at dsn and applies the schema
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open store: empty dsn")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer connection serializes statements; sqlite locks the file anyway
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS backfill_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	outlet TEXT NOT NULL,
	story_url TEXT NOT NULL,
	source TEXT NOT NULL CHECK (source IN ('rss', 'search')),
	title TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	enqueued_at INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	claimed_until INTEGER NOT NULL DEFAULT 0,
	dead_at INTEGER,
	UNIQUE (outlet, story_url)
);

CREATE INDEX IF NOT EXISTS idx_backfill_queue_drain ON backfill_queue(dead_at, enqueued_at, id);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	story_url TEXT NOT NULL,
	outlet TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	captured_text TEXT NOT NULL,
	captured_at INTEGER NOT NULL,
	extraction_source TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_story_url ON snapshots(story_url);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at);

CREATE TRIGGER IF NOT EXISTS snapshots_no_update BEFORE UPDATE ON snapshots
BEGIN
	SELECT RAISE(ABORT, 'snapshots are append-only');
END;

CREATE TRIGGER IF NOT EXISTS snapshots_no_delete BEFORE DELETE ON snapshots
BEGIN
	SELECT RAISE(ABORT, 'snapshots are append-only');
END;

CREATE TABLE IF NOT EXISTS snapshot_scoring (
	snapshot_id TEXT PRIMARY KEY REFERENCES snapshots(id),
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	attempted_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stories (
	id TEXT PRIMARY KEY,
	story_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
	outlet TEXT NOT NULL,
	outlet_group TEXT NOT NULL,
	story_url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	neutral_summary TEXT NOT NULL DEFAULT '',
	key_facts TEXT NOT NULL DEFAULT '[]',
	context_background TEXT NOT NULL DEFAULT '',
	stakeholder_positions TEXT NOT NULL DEFAULT '',
	timeline TEXT NOT NULL DEFAULT '',
	disputed_claims TEXT NOT NULL DEFAULT '',
	omissions_detected TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	bias_language_score REAL CHECK (bias_language_score IS NULL OR bias_language_score BETWEEN 0 AND 3),
	bias_framing_score REAL CHECK (bias_framing_score IS NULL OR bias_framing_score BETWEEN 0 AND 3),
	bias_source_score REAL CHECK (bias_source_score IS NULL OR bias_source_score BETWEEN 0 AND 3),
	bias_context_score REAL CHECK (bias_context_score IS NULL OR bias_context_score BETWEEN 0 AND 3),
	bias_intent_score REAL CHECK (bias_intent_score IS NULL OR bias_intent_score BETWEEN 0 AND 3),
	pi_score REAL CHECK (pi_score IS NULL OR (
		bias_language_score IS NOT NULL AND bias_framing_score IS NOT NULL AND
		bias_source_score IS NOT NULL AND bias_context_score IS NOT NULL AND
		bias_intent_score IS NOT NULL)),
	captured_at INTEGER NOT NULL,
	scored_at INTEGER NOT NULL,
	UNIQUE (story_id, version)
);

CREATE INDEX IF NOT EXISTS idx_stories_outlet_group ON stories(outlet_group, captured_at);
CREATE INDEX IF NOT EXISTS idx_stories_captured_at ON stories(captured_at);
CREATE INDEX IF NOT EXISTS idx_stories_snapshot_id ON stories(snapshot_id);

CREATE TRIGGER IF NOT EXISTS stories_no_update BEFORE UPDATE ON stories
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are append-only');
END;

CREATE TRIGGER IF NOT EXISTS stories_no_delete BEFORE DELETE ON stories
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are append-only');
END;

CREATE TABLE IF NOT EXISTS outlet_aliases (
	alias TEXT PRIMARY KEY,
	canonical TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
