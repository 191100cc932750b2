// Package extract reads token rows out of a node ledger database.
package extract

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/source"
)

// Fallback says what to do when no column matches a Field.
type Fallback int

const (
	// Present means the column is required;
	// a ledger without it is unreadable.
	Present Fallback = iota

	// AbsentAsNull treats a missing column as NULL in every row.
	AbsentAsNull

	// AbsentSkipTable yields no records from a ledger without the column.
	AbsentSkipTable
)

// Field maps one TokenRecord field to a ledger column.
type Field struct {
	Name     string
	Aliases  []string
	Fallback Fallback
}

// Field names.
const (
	FieldDID           = "did"
	FieldTokenID       = "token_id"
	FieldCreatedAt     = "created_at"
	FieldUpdatedAt     = "updated_at"
	FieldStatus        = "token_status"
	FieldParentTokenID = "parent_token_id"
	FieldTokenValue    = "token_value"
)

// DefaultFields is the ledger mapping: every column optional.
var DefaultFields = []Field{
	{Name: FieldDID, Fallback: AbsentAsNull},
	{Name: FieldTokenID, Aliases: []string{"tokenid", "token"}, Fallback: AbsentAsNull},
	{Name: FieldCreatedAt, Fallback: AbsentAsNull},
	{Name: FieldUpdatedAt, Fallback: AbsentAsNull},
	{Name: FieldStatus, Aliases: []string{"status"}, Fallback: AbsentAsNull},
	{Name: FieldParentTokenID, Fallback: AbsentAsNull},
	{Name: FieldTokenValue, Fallback: AbsentAsNull},
}

// DefaultTable is the ledger table holding tokens.
const DefaultTable = "TokensTable"

// Extractor produces TokenRecords from ledger databases.
type Extractor struct {
	Table          string
	Fields         []Field
	StatusFilter   []int
	SourceIdentity string
	Logger         *zap.Logger
}

// New produces an Extractor for the given run configuration.
func New(conf tokensync.Config, sourceIdentity string, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		Table:          DefaultTable,
		Fields:         DefaultFields,
		StatusFilter:   conf.StatusFilter,
		SourceIdentity: sourceIdentity,
		Logger:         logger,
	}
}

// Extract opens src read-only and calls fn on each token row that passes the status filter.
// It returns the number of records passed to fn.
//
// A ledger that cannot be opened or queried yields tokensync.ErrSourceUnreadable.
// A ledger without the token table yields zero records and no error.
// An error from fn stops the extraction and is returned.
func (e *Extractor) Extract(ctx context.Context, src source.Source, fn func(*tokensync.TokenRecord) error) (int, error) {
	db, err := openReadOnly(ctx, src.Path)
	if err != nil {
		return 0, errors.Wrapf(tokensync.ErrSourceUnreadable, "%s: %s", src.Path, err)
	}
	defer db.Close()

	const q = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = $1`

	var n int
	if err := db.QueryRowContext(ctx, q, e.Table).Scan(&n); err != nil {
		return 0, errors.Wrapf(tokensync.ErrSourceUnreadable, "%s: %s", src.Path, err)
	}
	if n == 0 {
		e.Logger.Warn("ledger has no token table", zap.String("source", src.Path), zap.String("table", e.Table))
		return 0, nil
	}

	columns, err := tableColumns(ctx, db, e.Table)
	if err != nil {
		return 0, errors.Wrapf(tokensync.ErrSourceUnreadable, "%s: %s", src.Path, err)
	}

	// selected[i] is the actual column name for e.Fields[i], or "" if absent.
	selected := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		col := matchColumn(columns, f)
		if col != "" {
			selected[i] = col
			continue
		}
		switch f.Fallback {
		case Present:
			return 0, errors.Wrapf(tokensync.ErrSourceUnreadable, "%s: required column %s not found", src.Path, f.Name)
		case AbsentSkipTable:
			e.Logger.Warn("ledger lacks column, skipping", zap.String("source", src.Path), zap.String("column", f.Name))
			return 0, nil
		default:
			e.Logger.Debug("column not found, treating as null", zap.String("source", src.Path), zap.String("column", f.Name))
		}
	}

	var present []string
	for _, col := range selected {
		if col != "" {
			present = append(present, quoteIdent(col))
		}
	}

	filter := make(map[int]bool, len(e.StatusFilter))
	for _, s := range e.StatusFilter {
		filter[s] = true
	}
	statusIdx := e.fieldIndex(FieldStatus)
	applyFilter := len(filter) > 0 && statusIdx >= 0 && selected[statusIdx] != ""

	rows, withRowID, err := queryTokens(ctx, db, e.Table, present)
	if err != nil {
		return 0, errors.Wrapf(tokensync.ErrSourceUnreadable, "%s: %s", src.Path, err)
	}
	defer rows.Close()

	var (
		count   int
		ordinal int
		vals    = make([]interface{}, len(present)+1)
		ptrs    = make([]interface{}, len(vals))
	)
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		ordinal++
		if err := rows.Scan(ptrs...); err != nil {
			return count, errors.Wrapf(tokensync.ErrSourceUnreadable, "%s: scanning row %d: %s", src.Path, ordinal, err)
		}

		// byField[i] is the raw value for e.Fields[i], or nil.
		byField := make([]interface{}, len(e.Fields))
		j := 1
		for i, col := range selected {
			if col == "" {
				continue
			}
			byField[i] = vals[j]
			j++
		}

		if applyFilter && !statusAccepted(byField[statusIdx], filter) {
			continue
		}

		rec := e.record(src, byField)
		if rec.TokenID != nil {
			rec.IdentityKey = *rec.TokenID
		} else if withRowID {
			rec.IdentityKey = fmt.Sprintf("rowid:%v", vals[0])
		} else {
			rec.IdentityKey = fmt.Sprintf("row:%d", ordinal)
		}

		if err := fn(rec); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, errors.Wrapf(tokensync.ErrSourceUnreadable, "%s: reading rows: %s", src.Path, err)
	}
	return count, nil
}

func (e *Extractor) fieldIndex(name string) int {
	for i, f := range e.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (e *Extractor) record(src source.Source, byField []interface{}) *tokensync.TokenRecord {
	rec := &tokensync.TokenRecord{
		SourceIdentity:     e.SourceIdentity,
		NodeName:           src.Node,
		SourcePath:         src.Path,
		SourceLastModified: src.ModTime,
		SyncedAt:           time.Now().UTC(),
	}
	for i, f := range e.Fields {
		v := byField[i]
		switch f.Name {
		case FieldDID:
			rec.DID = normalize(v)
		case FieldTokenID:
			rec.TokenID = normalize(v)
		case FieldCreatedAt:
			rec.CreatedAt = parseTime(v)
		case FieldUpdatedAt:
			rec.UpdatedAt = parseTime(v)
		case FieldStatus:
			rec.Status = normalize(v)
		case FieldParentTokenID:
			rec.ParentTokenID = normalize(v)
		case FieldTokenValue:
			rec.TokenValue = normalize(v)
		}
	}
	return rec
}

func openReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]string, error) {
	q := fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table))

	result := make(map[string]string)
	err := sqlutil.ForQueryRows(ctx, db, q, func(cid int, name string, typ sql.NullString, notnull int, dflt sql.NullString, pk int) {
		result[strings.ToLower(name)] = name
	})
	return result, errors.Wrapf(err, "reading columns of %s", table)
}

func matchColumn(columns map[string]string, f Field) string {
	for _, name := range append([]string{f.Name}, f.Aliases...) {
		if col, ok := columns[strings.ToLower(name)]; ok {
			return col
		}
	}
	return ""
}

// queryTokens selects cols from table behind a leading rowid column,
// or behind a NULL placeholder when the table has no rowid.
func queryTokens(ctx context.Context, db *sql.DB, table string, cols []string) (*sql.Rows, bool, error) {
	list := strings.Join(append([]string{"rowid"}, cols...), ", ")
	q := fmt.Sprintf("SELECT %s FROM %s", list, quoteIdent(table))
	rows, err := db.QueryContext(ctx, q)
	if err == nil {
		return rows, true, nil
	}
	if ctx.Err() != nil {
		return nil, false, err
	}

	// WITHOUT ROWID table.
	list = strings.Join(append([]string{"NULL"}, cols...), ", ")
	q = fmt.Sprintf("SELECT %s FROM %s", list, quoteIdent(table))
	rows, err = db.QueryContext(ctx, q)
	return rows, false, err
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
