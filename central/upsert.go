package central

import (
	"context"
	"database/sql"
	stderrs "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bobg/tokensync"
)

// Mode selects which columns an upsert may overwrite.
type Mode int

const (
	// ModeFull overwrites every column of an existing row.
	ModeFull Mode = iota

	// ModeEssential leaves the enrichment columns of an existing row alone.
	ModeEssential
)

// recordColumns are the token_records columns written by Upsert, in bind order.
var recordColumns = []string{
	"identity_key",
	"source_identity",
	"node_name",
	"did",
	"token_id",
	"created_at",
	"updated_at",
	"token_status",
	"parent_token_id",
	"token_value",
	"enrichment_payload",
	"enrichment_fetched",
	"enrichment_error",
	"source_path",
	"endpoint_path",
	"source_last_modified",
	"synced_at",
	"validation_errors",
}

var identityColumns = []string{"identity_key", "source_identity", "node_name"}

var enrichmentColumns = map[string]bool{
	"enrichment_payload": true,
	"enrichment_fetched": true,
	"enrichment_error":   true,
}

// UpsertResult counts the outcome of one Upsert.
type UpsertResult struct {
	// Inserted is the number of records committed.
	Inserted int

	// Failed is the number of records that could not be written.
	Failed int

	// Exhausted is the number of chunks abandoned after exhausting retries.
	Exhausted int
}

// Upsert writes recs, keyed by (identity key, source identity, node name).
//
// Records with the same identity are collapsed, the last one winning.
// Each chunk of ChunkSize records is written in its own transaction.
// A chunk failing fatally is retried one record at a time
// so that a single bad record does not lose its neighbors.
// A chunk exhausting its transient retries is counted in Exhausted
// and the next chunk is attempted.
//
// The only error returned is the cancellation of ctx.
func (g *Gateway) Upsert(ctx context.Context, recs []*tokensync.TokenRecord, mode Mode) (UpsertResult, error) {
	var res UpsertResult

	recs = dedupe(recs)
	for start := 0; start < len(recs); start += g.chunk {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := start + g.chunk
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[start:end]

		t0 := time.Now()
		err := g.Do(ctx, "upserting chunk", func(ctx context.Context, conn *sql.Conn) error {
			return upsertTx(ctx, conn, chunk, mode)
		})
		switch {
		case err == nil:
			res.Inserted += len(chunk)
			g.metrics.Chunk("committed", time.Since(t0))

		case ctx.Err() != nil:
			return res, ctx.Err()

		case stderrs.Is(err, ErrStoreTransient):
			res.Failed += len(chunk)
			res.Exhausted++
			g.metrics.Chunk("exhausted", time.Since(t0))
			g.logger.Error("abandoning chunk after retries",
				zap.Int("records", len(chunk)),
				zap.String("first", chunk[0].IdentityKey),
				zap.Error(err))

		default:
			g.logger.Warn("chunk failed, falling back to single records", zap.Int("records", len(chunk)), zap.Error(err))
			inserted, failed, err := g.upsertEach(ctx, chunk, mode)
			res.Inserted += inserted
			res.Failed += failed
			g.metrics.Chunk("fallback", time.Since(t0))
			if err != nil {
				return res, err
			}
		}
	}

	g.metrics.Stored(res.Inserted, res.Failed)
	return res, nil
}

func (g *Gateway) upsertEach(ctx context.Context, recs []*tokensync.TokenRecord, mode Mode) (inserted, failed int, err error) {
	for _, rec := range recs {
		err := g.Do(ctx, "upserting record", func(ctx context.Context, conn *sql.Conn) error {
			return upsertTx(ctx, conn, []*tokensync.TokenRecord{rec}, mode)
		})
		if err != nil {
			if ctx.Err() != nil {
				return inserted, failed, ctx.Err()
			}
			failed++
			g.logger.Error("record not stored",
				zap.String("identity", rec.IdentityKey),
				zap.String("node", rec.NodeName),
				zap.String("source", rec.SourcePath),
				zap.Error(err))
			continue
		}
		inserted++
	}
	return inserted, failed, nil
}

// dedupe keeps the last record for each identity, in order of first appearance.
func dedupe(recs []*tokensync.TokenRecord) []*tokensync.TokenRecord {
	type ident struct{ key, source, node string }

	pos := make(map[ident]int, len(recs))
	result := make([]*tokensync.TokenRecord, 0, len(recs))
	for _, rec := range recs {
		id := ident{rec.IdentityKey, rec.SourceIdentity, rec.NodeName}
		if i, ok := pos[id]; ok {
			result[i] = rec
			continue
		}
		pos[id] = len(result)
		result = append(result, rec)
	}
	return result
}

func upsertTx(ctx context.Context, conn *sql.Conn, recs []*tokensync.TokenRecord, mode Mode) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q, args := upsertQuery(recs, mode)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertQuery(recs []*tokensync.TokenRecord, mode Mode) (string, []interface{}) {
	var (
		buf  strings.Builder
		args = make([]interface{}, 0, len(recs)*len(recordColumns))
	)
	fmt.Fprintf(&buf, "INSERT INTO token_records (%s) VALUES ", strings.Join(recordColumns, ", "))
	for i, rec := range recs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteByte('(')
		for j := range recordColumns {
			if j > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(&buf, "$%d", len(args)+j+1)
		}
		buf.WriteByte(')')
		args = append(args, recordArgs(rec)...)
	}

	fmt.Fprintf(&buf, " ON CONFLICT (%s) DO UPDATE SET ", strings.Join(identityColumns, ", "))
	first := true
	for _, col := range recordColumns[len(identityColumns):] {
		if mode == ModeEssential && enrichmentColumns[col] {
			continue
		}
		if !first {
			buf.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&buf, "%s = excluded.%s", col, col)
	}
	return buf.String(), args
}

func recordArgs(rec *tokensync.TokenRecord) []interface{} {
	return []interface{}{
		rec.IdentityKey,
		rec.SourceIdentity,
		rec.NodeName,
		nullString(rec.DID),
		nullString(rec.TokenID),
		nullTime(rec.CreatedAt),
		nullTime(rec.UpdatedAt),
		nullString(rec.Status),
		nullString(rec.ParentTokenID),
		nullString(rec.TokenValue),
		nullString(rec.EnrichmentPayload),
		rec.EnrichmentFetched,
		nullString(rec.EnrichmentError),
		rec.SourcePath,
		nullString(rec.EndpointPath),
		rec.SourceLastModified.UTC(),
		rec.SyncedAt.UTC(),
		nullString(rec.ValidationText()),
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
