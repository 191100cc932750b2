// Package sqlite3 is the Sqlite dialect of the central store,
// for local use and tests.
package sqlite3

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/bobg/tokensync/central"
)

// Schema is the SQL that EnsureSchema executes.
// It creates the token_records, processed_sources and sync_sessions tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS token_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  identity_key TEXT NOT NULL,
  source_identity TEXT NOT NULL,
  node_name TEXT NOT NULL,
  did TEXT,
  token_id TEXT,
  created_at TIMESTAMP,
  updated_at TIMESTAMP,
  token_status TEXT,
  parent_token_id TEXT,
  token_value TEXT,
  enrichment_payload TEXT,
  enrichment_fetched BOOLEAN NOT NULL DEFAULT FALSE,
  enrichment_error TEXT,
  source_path TEXT NOT NULL,
  endpoint_path TEXT,
  source_last_modified TIMESTAMP NOT NULL,
  synced_at TIMESTAMP NOT NULL,
  validation_errors TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS token_records_identity_idx ON token_records (identity_key, source_identity, node_name);
CREATE INDEX IF NOT EXISTS token_records_token_id_idx ON token_records (token_id);
CREATE INDEX IF NOT EXISTS token_records_node_idx ON token_records (node_name);

CREATE TABLE IF NOT EXISTS processed_sources (
  source_path TEXT PRIMARY KEY NOT NULL,
  last_modified TIMESTAMP NOT NULL,
  last_processed TIMESTAMP NOT NULL,
  record_count INTEGER NOT NULL DEFAULT 0,
  enrichment_success_count INTEGER NOT NULL DEFAULT 0,
  enrichment_fail_count INTEGER NOT NULL DEFAULT 0,
  validation_error_count INTEGER NOT NULL DEFAULT 0,
  processing_duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_sessions (
  session_id TEXT PRIMARY KEY NOT NULL,
  start_time TIMESTAMP NOT NULL,
  end_time TIMESTAMP,
  source_identity TEXT NOT NULL,
  sources_found INTEGER NOT NULL DEFAULT 0,
  sources_processed INTEGER NOT NULL DEFAULT 0,
  records_processed INTEGER NOT NULL DEFAULT 0,
  enrichment_success INTEGER NOT NULL DEFAULT 0,
  enrichment_fail INTEGER NOT NULL DEFAULT 0,
  store_inserts INTEGER NOT NULL DEFAULT 0,
  store_errors INTEGER NOT NULL DEFAULT 0,
  validation_errors INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  error_summary TEXT
);
`

// Dialect is the Sqlite central.Dialect.
type Dialect struct{}

var _ central.Dialect = Dialect{}

func (Dialect) DriverName() string { return "sqlite3" }
func (Dialect) Schema() string     { return Schema }
func (Dialect) MaxParams() int     { return 32766 }

// Retryable is true for busy and locked databases.
// Constraint, mismatch and generic errors are fatal.
func (Dialect) Retryable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func init() {
	central.Register("sqlite3", Dialect{})
}
