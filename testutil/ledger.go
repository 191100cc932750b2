// Package testutil builds on-disk fixtures shared by the tokensync tests.
package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
)

// Row is one TokensTable row, keyed by column name.
// Columns missing from a Row are inserted as NULL.
type Row map[string]interface{}

// AllColumns is the full TokensTable column set.
var AllColumns = []string{
	"did",
	"token_id",
	"created_at",
	"updated_at",
	"token_status",
	"parent_token_id",
	"token_value",
}

// WriteLedger creates (or replaces) a ledger database at path
// with a TokensTable holding columns and rows.
// A nil columns means AllColumns.
func WriteLedger(t testing.TB, path string, columns []string, rows []Row) {
	t.Helper()

	if columns == nil {
		columns = AllColumns
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	os.Remove(path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var defs []string
	for _, c := range columns {
		defs = append(defs, c+" TEXT")
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE TokensTable (%s)", strings.Join(defs, ", "))); err != nil {
		t.Fatal(err)
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	q := fmt.Sprintf("INSERT INTO TokensTable (%s) VALUES (%s)", strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	for _, row := range rows {
		args := make([]interface{}, len(columns))
		for i, c := range columns {
			args[i] = row[c]
		}
		if _, err := db.Exec(q, args...); err != nil {
			t.Fatal(err)
		}
	}
}

// Node creates <root>/<name>/Rubix/rubix.db holding rows,
// plus <root>/<name>/.ipfs when withEndpoint is true.
// It returns the ledger path.
func Node(t testing.TB, root, name string, withEndpoint bool, rows []Row) string {
	t.Helper()

	nodeDir := filepath.Join(root, name)
	path := filepath.Join(nodeDir, "Rubix", "rubix.db")
	WriteLedger(t, path, nil, rows)
	if withEndpoint {
		if err := os.MkdirAll(filepath.Join(nodeDir, ".ipfs"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

// Token returns a Row for a token with the given id and status.
func Token(id string, status int) Row {
	return Row{
		"did":          "did:" + id,
		"token_id":     id,
		"created_at":   "2023-01-02 03:04:05",
		"updated_at":   "2023-01-02 03:04:05",
		"token_status": fmt.Sprint(status),
		"token_value":  "1.0",
	}
}

// Touch advances the modification time of path by d.
func Touch(t testing.TB, path string, d time.Duration) {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	mtime := info.ModTime().Add(d)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

// TempFile returns the path of a fresh file name inside t's temp dir.
func TempFile(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}
