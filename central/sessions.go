package central

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/tokensync"
)

// InsertSession records the start of a session.
func (g *Gateway) InsertSession(ctx context.Context, s *tokensync.SyncSession) error {
	const q = `INSERT INTO sync_sessions
		(session_id, start_time, source_identity, status,
		 sources_found, sources_processed, records_processed, enrichment_success, enrichment_fail,
		 store_inserts, store_errors, validation_errors)
		VALUES ($1, $2, $3, $4, 0, 0, 0, 0, 0, 0, 0, 0)`

	return g.Do(ctx, "inserting session", func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, q, s.SessionID, s.StartTime.UTC(), s.SourceIdentity, string(s.Status))
		return err
	})
}

// UpdateSession writes the counters, status, end time and error summary of s.
func (g *Gateway) UpdateSession(ctx context.Context, s *tokensync.SyncSession) error {
	const q = `UPDATE sync_sessions SET
		end_time = $2, status = $3, error_summary = $4,
		sources_found = $5, sources_processed = $6, records_processed = $7,
		enrichment_success = $8, enrichment_fail = $9,
		store_inserts = $10, store_errors = $11, validation_errors = $12
		WHERE session_id = $1`

	return g.Do(ctx, "updating session", func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, q,
			s.SessionID,
			nullTime(s.EndTime),
			string(s.Status),
			nullString(s.ErrorSummaryText()),
			s.SourcesFound,
			s.SourcesProcessed,
			s.RecordsProcessed,
			s.EnrichmentSuccess,
			s.EnrichmentFail,
			s.StoreInserts,
			s.StoreErrors,
			s.ValidationErrors,
		)
		return err
	})
}

// Session reads back one session.
func (g *Gateway) Session(ctx context.Context, id string) (*tokensync.SyncSession, error) {
	const q = `SELECT start_time, end_time, source_identity, status, error_summary,
		sources_found, sources_processed, records_processed, enrichment_success, enrichment_fail,
		store_inserts, store_errors, validation_errors
		FROM sync_sessions WHERE session_id = $1`

	s := &tokensync.SyncSession{SessionID: id}
	err := g.Do(ctx, "reading session", func(ctx context.Context, conn *sql.Conn) error {
		var (
			end     sql.NullTime
			status  string
			summary sql.NullString
		)
		err := conn.QueryRowContext(ctx, q, id).Scan(
			&s.StartTime, &end, &s.SourceIdentity, &status, &summary,
			&s.SourcesFound, &s.SourcesProcessed, &s.RecordsProcessed, &s.EnrichmentSuccess, &s.EnrichmentFail,
			&s.StoreInserts, &s.StoreErrors, &s.ValidationErrors,
		)
		if err != nil {
			return err
		}
		s.Status = tokensync.SessionStatus(status)
		if end.Valid {
			s.EndTime = &end.Time
		}
		if summary.Valid {
			if err := json.Unmarshal([]byte(summary.String), &s.ErrorSummary); err != nil {
				return errors.Wrap(err, "decoding error summary")
			}
		}
		return nil
	})
	return s, err
}

// LoadProcessed reads every processed_sources row, keyed by source path.
func (g *Gateway) LoadProcessed(ctx context.Context) (map[string]tokensync.ProcessedSource, error) {
	const q = `SELECT source_path, last_modified, last_processed, record_count,
		enrichment_success_count, enrichment_fail_count, validation_error_count, processing_duration_ms
		FROM processed_sources`

	var result map[string]tokensync.ProcessedSource
	err := g.Do(ctx, "loading processed sources", func(ctx context.Context, conn *sql.Conn) error {
		result = make(map[string]tokensync.ProcessedSource)
		return sqlutil.ForQueryRows(ctx, conn, q, func(path string, lastModified, lastProcessed time.Time, records, success, fail, invalid int, durationMS int64) {
			result[path] = tokensync.ProcessedSource{
				SourcePath:             path,
				LastModified:           lastModified,
				LastProcessed:          lastProcessed,
				RecordCount:            records,
				EnrichmentSuccessCount: success,
				EnrichmentFailCount:    fail,
				ValidationErrorCount:   invalid,
				ProcessingDuration:     time.Duration(durationMS) * time.Millisecond,
			}
		})
	})
	return result, err
}

// RecordProcessed inserts or replaces the processed_sources row for ps.SourcePath.
func (g *Gateway) RecordProcessed(ctx context.Context, ps tokensync.ProcessedSource) error {
	const q = `INSERT INTO processed_sources
		(source_path, last_modified, last_processed, record_count,
		 enrichment_success_count, enrichment_fail_count, validation_error_count, processing_duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_path) DO UPDATE SET
		 last_modified = excluded.last_modified,
		 last_processed = excluded.last_processed,
		 record_count = excluded.record_count,
		 enrichment_success_count = excluded.enrichment_success_count,
		 enrichment_fail_count = excluded.enrichment_fail_count,
		 validation_error_count = excluded.validation_error_count,
		 processing_duration_ms = excluded.processing_duration_ms`

	return g.Do(ctx, "recording processed source", func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, q,
			ps.SourcePath,
			ps.LastModified.UTC(),
			ps.LastProcessed.UTC(),
			ps.RecordCount,
			ps.EnrichmentSuccessCount,
			ps.EnrichmentFailCount,
			ps.ValidationErrorCount,
			ps.ProcessingDuration.Milliseconds(),
		)
		return err
	})
}

// FetchedPayloads returns the stored payloads of already-enriched records
// for one node, keyed by identity key.
// A record enriched with an empty payload maps to "".
func (g *Gateway) FetchedPayloads(ctx context.Context, sourceIdentity, node string) (map[string]string, error) {
	const q = `SELECT identity_key, enrichment_payload FROM token_records
		WHERE source_identity = $1 AND node_name = $2 AND enrichment_fetched`

	var result map[string]string
	err := g.Do(ctx, "reading fetched payloads", func(ctx context.Context, conn *sql.Conn) error {
		result = make(map[string]string)
		return sqlutil.ForQueryRows(ctx, conn, q, sourceIdentity, node, func(key string, payload sql.NullString) {
			result[key] = payload.String
		})
	})
	return result, errors.Wrapf(err, "node %s", node)
}

// Mismatch is a token id whose enriched payload differs between the nodes reporting it.
type Mismatch struct {
	TokenID string
	Reports []Report
}

// Report is one node's view of a token.
type Report struct {
	SourceIdentity string
	Node           string
	Payload        string
}

// Mismatches finds token ids reported with differing payloads by different nodes.
func (g *Gateway) Mismatches(ctx context.Context) ([]Mismatch, error) {
	const q = `SELECT token_id, source_identity, node_name, enrichment_payload FROM token_records
		WHERE enrichment_fetched AND token_id IN (
			SELECT token_id FROM token_records
			WHERE enrichment_fetched AND token_id IS NOT NULL
			GROUP BY token_id
			HAVING COUNT(DISTINCT COALESCE(enrichment_payload, '')) > 1
		)
		ORDER BY token_id, node_name, source_identity`

	var result []Mismatch
	err := g.Do(ctx, "auditing payloads", func(ctx context.Context, conn *sql.Conn) error {
		result = nil
		return sqlutil.ForQueryRows(ctx, conn, q, func(tokenID, sourceIdentity, node string, payload sql.NullString) {
			if len(result) == 0 || result[len(result)-1].TokenID != tokenID {
				result = append(result, Mismatch{TokenID: tokenID})
			}
			m := &result[len(result)-1]
			m.Reports = append(m.Reports, Report{SourceIdentity: sourceIdentity, Node: node, Payload: payload.String})
		})
	})
	return result, err
}
