// Package pg is the Postgresql dialect of the central store.
package pg

import (
	"errors"

	"github.com/lib/pq"

	"github.com/bobg/tokensync/central"
)

// Schema is the SQL that EnsureSchema executes.
// It creates the token_records, processed_sources and sync_sessions tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS token_records (
  id BIGSERIAL PRIMARY KEY,
  identity_key TEXT NOT NULL,
  source_identity TEXT NOT NULL,
  node_name TEXT NOT NULL,
  did TEXT,
  token_id TEXT,
  created_at TIMESTAMP WITH TIME ZONE,
  updated_at TIMESTAMP WITH TIME ZONE,
  token_status TEXT,
  parent_token_id TEXT,
  token_value TEXT,
  enrichment_payload TEXT,
  enrichment_fetched BOOLEAN NOT NULL DEFAULT FALSE,
  enrichment_error TEXT,
  source_path TEXT NOT NULL,
  endpoint_path TEXT,
  source_last_modified TIMESTAMP WITH TIME ZONE NOT NULL,
  synced_at TIMESTAMP WITH TIME ZONE NOT NULL,
  validation_errors TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS token_records_identity_idx ON token_records (identity_key, source_identity, node_name);
CREATE INDEX IF NOT EXISTS token_records_token_id_idx ON token_records (token_id);
CREATE INDEX IF NOT EXISTS token_records_node_idx ON token_records (node_name);

CREATE TABLE IF NOT EXISTS processed_sources (
  source_path TEXT PRIMARY KEY NOT NULL,
  last_modified TIMESTAMP WITH TIME ZONE NOT NULL,
  last_processed TIMESTAMP WITH TIME ZONE NOT NULL,
  record_count INTEGER NOT NULL DEFAULT 0,
  enrichment_success_count INTEGER NOT NULL DEFAULT 0,
  enrichment_fail_count INTEGER NOT NULL DEFAULT 0,
  validation_error_count INTEGER NOT NULL DEFAULT 0,
  processing_duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_sessions (
  session_id TEXT PRIMARY KEY NOT NULL,
  start_time TIMESTAMP WITH TIME ZONE NOT NULL,
  end_time TIMESTAMP WITH TIME ZONE,
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

// SQLSTATE classes worth retrying:
// connection exception, transaction rollback (serialization, deadlock),
// insufficient resources, operator intervention (shutdown, admin).
var retryableClasses = map[pq.ErrorClass]bool{
	"08": true,
	"40": true,
	"53": true,
	"57": true,
}

// Dialect is the Postgresql central.Dialect.
type Dialect struct{}

var _ central.Dialect = Dialect{}

func (Dialect) DriverName() string { return "postgres" }
func (Dialect) Schema() string     { return Schema }
func (Dialect) MaxParams() int     { return 65535 }

// Retryable classifies by SQLSTATE class.
// Data exceptions (22), integrity violations (23)
// and syntax or access errors (42) are fatal,
// as is anything else from the server outside the retryable classes.
func (Dialect) Retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryableClasses[pqErr.Code.Class()]
	}
	return false
}

func init() {
	central.Register("postgres", Dialect{})
}
