package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is recorded in the metadata table by Migrate.
const SchemaVersion = "1"

// queryer is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// inside or outside the ingestion transaction.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is the SQLite canonical store. It exclusively owns persisted state.
type Store struct {
	reader
	db *sql.DB
}

// Tx is a write transaction over the store. Reads issued through a Tx see
// the transaction's own writes.
type Tx struct {
	reader
	tx *sql.Tx
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
// Transactions start with BEGIN IMMEDIATE so a writer holds the database
// write lock from its first read.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{reader: reader{q: db}, db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := s.SetMetadata("schema_version", SchemaVersion); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// InTx runs fn inside a single transaction. The transaction commits only
// if fn returns nil; any error (or panic) rolls every write back.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{reader: reader{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// GetMetadata returns the value stored under key, or "" when absent.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata: %w", err)
	}
	return value, nil
}

// SetMetadata upserts a key/value pair.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

const schemaDDL = `
-- Live canonical tables

CREATE TABLE IF NOT EXISTS files (
  id              TEXT PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  content_hash    TEXT NOT NULL,
  ast_hash        TEXT NOT NULL,
  size            INTEGER NOT NULL DEFAULT 0,
  created_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS components (
  id              TEXT PRIMARY KEY,
  file_id         TEXT NOT NULL REFERENCES files(id),
  qualified_name  TEXT NOT NULL,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  parent_qualified_name TEXT NOT NULL DEFAULT '',
  source_hash     TEXT NOT NULL,
  committed_hash  TEXT NOT NULL,
  order_index     INTEGER NOT NULL,
  depth           INTEGER NOT NULL,
  start_line      INTEGER NOT NULL,
  end_line        INTEGER NOT NULL,
  imports         TEXT,
  fan_in          INTEGER NOT NULL DEFAULT 0,
  fan_out         INTEGER NOT NULL DEFAULT 0,
  is_orchestrator BOOLEAN NOT NULL DEFAULT FALSE,
  UNIQUE (file_id, qualified_name)
);

CREATE TABLE IF NOT EXISTS source_segments (
  component_id    TEXT PRIMARY KEY REFERENCES components(id) ON DELETE CASCADE,
  text            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scopes (
  id              INTEGER PRIMARY KEY,
  component_id    TEXT NOT NULL REFERENCES components(id) ON DELETE CASCADE,
  kind            TEXT NOT NULL,
  parent_scope_id INTEGER REFERENCES scopes(id) ON DELETE CASCADE,
  start_line      INTEGER,
  end_line        INTEGER
);

CREATE TABLE IF NOT EXISTS symbols (
  id              INTEGER PRIMARY KEY,
  component_id    TEXT NOT NULL REFERENCES components(id) ON DELETE CASCADE,
  scope_id        INTEGER REFERENCES scopes(id) ON DELETE CASCADE,
  name            TEXT NOT NULL,
  scope_level     TEXT NOT NULL,
  access          TEXT NOT NULL,
  type_hint       TEXT NOT NULL DEFAULT '',
  decl_line       INTEGER,
  is_param        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS call_edges (
  id              INTEGER PRIMARY KEY,
  file_id         TEXT NOT NULL REFERENCES files(id),
  caller_id       TEXT NOT NULL REFERENCES components(id) ON DELETE CASCADE,
  callee_id       TEXT REFERENCES components(id) ON DELETE SET NULL,
  kind            TEXT NOT NULL,
  resolved_name   TEXT NOT NULL,
  callee_text     TEXT NOT NULL,
  line            INTEGER
);

CREATE TABLE IF NOT EXISTS rebuild_metadata (
  component_id    TEXT PRIMARY KEY REFERENCES components(id) ON DELETE CASCADE,
  data            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS directives (
  id              INTEGER PRIMARY KEY,
  component_id    TEXT NOT NULL REFERENCES components(id) ON DELETE CASCADE,
  name            TEXT NOT NULL,
  confidence      REAL NOT NULL DEFAULT 1.0,
  payload         TEXT NOT NULL DEFAULT '',
  line            INTEGER
);

-- Versioned (append-only) tables

CREATE TABLE IF NOT EXISTS file_versions (
  id              TEXT PRIMARY KEY,
  file_id         TEXT NOT NULL REFERENCES files(id),
  version_number  INTEGER NOT NULL,
  previous_version_id TEXT REFERENCES file_versions(id),
  content_hash    TEXT NOT NULL,
  ast_hash        TEXT NOT NULL,
  ingested_at     TIMESTAMP NOT NULL,
  component_count INTEGER NOT NULL,
  change_summary  TEXT NOT NULL,
  tail_text       TEXT NOT NULL DEFAULT '',
  UNIQUE (file_id, version_number)
);

CREATE TABLE IF NOT EXISTS component_history (
  id              INTEGER PRIMARY KEY,
  file_id         TEXT NOT NULL REFERENCES files(id),
  version_id      TEXT NOT NULL REFERENCES file_versions(id),
  version_number  INTEGER NOT NULL,
  component_id    TEXT,
  qualified_name  TEXT NOT NULL,
  kind            TEXT NOT NULL,
  classification  TEXT NOT NULL,
  source_hash     TEXT NOT NULL,
  committed_hash  TEXT NOT NULL,
  start_line      INTEGER,
  end_line        INTEGER
);

CREATE TABLE IF NOT EXISTS drift_events (
  id              INTEGER PRIMARY KEY,
  file_id         TEXT NOT NULL REFERENCES files(id),
  version_id      TEXT NOT NULL REFERENCES file_versions(id),
  version_number  INTEGER NOT NULL,
  component_id    TEXT,
  qualified_name  TEXT NOT NULL,
  category        TEXT NOT NULL,
  severity        TEXT NOT NULL,
  description     TEXT NOT NULL,
  old_value       TEXT NOT NULL DEFAULT '',
  new_value       TEXT NOT NULL DEFAULT '',
  detected_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS equivalence_proofs (
  id              INTEGER PRIMARY KEY,
  file_id         TEXT NOT NULL REFERENCES files(id),
  version_id      TEXT NOT NULL REFERENCES file_versions(id),
  version_number  INTEGER NOT NULL,
  original_ast_hash TEXT NOT NULL,
  rebuilt_ast_hash  TEXT NOT NULL,
  original_raw_hash TEXT NOT NULL,
  rebuilt_raw_hash  TEXT NOT NULL,
  raw_match       BOOLEAN NOT NULL,
  structural_match BOOLEAN NOT NULL,
  status          TEXT NOT NULL,
  UNIQUE (file_id, version_id)
);

CREATE TABLE IF NOT EXISTS violations (
  id              INTEGER PRIMARY KEY,
  file_id         TEXT NOT NULL REFERENCES files(id),
  version_id      TEXT NOT NULL REFERENCES file_versions(id),
  version_number  INTEGER NOT NULL,
  component_id    TEXT,
  qualified_name  TEXT NOT NULL DEFAULT '',
  rule            TEXT NOT NULL,
  severity        TEXT NOT NULL,
  description     TEXT NOT NULL,
  remediation     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_components_file ON components(file_id);
CREATE INDEX IF NOT EXISTS idx_scopes_component ON scopes(component_id);
CREATE INDEX IF NOT EXISTS idx_symbols_component ON symbols(component_id);
CREATE INDEX IF NOT EXISTS idx_call_edges_file ON call_edges(file_id);
CREATE INDEX IF NOT EXISTS idx_call_edges_caller ON call_edges(caller_id);
CREATE INDEX IF NOT EXISTS idx_call_edges_callee ON call_edges(callee_id);
CREATE INDEX IF NOT EXISTS idx_directives_component ON directives(component_id);
CREATE INDEX IF NOT EXISTS idx_versions_file ON file_versions(file_id);
CREATE INDEX IF NOT EXISTS idx_history_file_version ON component_history(file_id, version_number);
CREATE INDEX IF NOT EXISTS idx_drift_file_version ON drift_events(file_id, version_number);
CREATE INDEX IF NOT EXISTS idx_violations_file_version ON violations(file_id, version_number);
`
