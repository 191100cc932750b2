package extract

import (
	"context"
	stderrs "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/source"
	"github.com/bobg/tokensync/testutil"
)

func extractAll(t *testing.T, e *Extractor, path string) ([]*tokensync.TokenRecord, error) {
	t.Helper()

	src := source.Source{Path: path, Node: "node1", NodeDir: filepath.Dir(filepath.Dir(path))}
	var recs []*tokensync.TokenRecord
	n, err := e.Extract(context.Background(), src, func(r *tokensync.TokenRecord) error {
		recs = append(recs, r)
		return nil
	})
	if err == nil && n != len(recs) {
		t.Errorf("Extract returned count %d, callback saw %d", n, len(recs))
	}
	return recs, err
}

func newExtractor(t *testing.T) *Extractor {
	conf := tokensync.DefaultConfig()
	return New(conf, "10.0.0.1", zaptest.NewLogger(t))
}

func TestExtract(t *testing.T) {
	path := testutil.TempFile(t, "rubix.db")
	testutil.WriteLedger(t, path, nil, []testutil.Row{
		testutil.Token("QmA", 1),
		testutil.Token("QmB", 4), // filtered out
		{"token_id": "  ", "token_status": "2", "did": "did:x"},
		{"token_id": "QmC", "token_status": "13", "created_at": "1672628645", "parent_token_id": ""},
	})

	recs, err := extractAll(t, newExtractor(t), path)
	if err != nil {
		t.Fatal(err)
	}

	type summary struct {
		Key, TokenID, DID, Status, Parent string
	}
	var got []summary
	for _, r := range recs {
		got = append(got, summary{
			Key:     r.IdentityKey,
			TokenID: tokensync.Str(r.TokenID),
			DID:     tokensync.Str(r.DID),
			Status:  tokensync.Str(r.Status),
			Parent:  tokensync.Str(r.ParentTokenID),
		})
		if r.SourceIdentity != "10.0.0.1" || r.NodeName != "node1" || r.SourcePath != path {
			t.Errorf("bad provenance on %s: %+v", r.IdentityKey, r)
		}
	}
	want := []summary{
		{Key: "QmA", TokenID: "QmA", DID: "did:QmA", Status: "1"},
		{Key: "rowid:3", DID: "did:x", Status: "2"},
		{Key: "QmC", TokenID: "QmC", Status: "13"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	wantCreated := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	if recs[0].CreatedAt == nil || !recs[0].CreatedAt.Equal(wantCreated) {
		t.Errorf("got created_at %v, want %s", recs[0].CreatedAt, wantCreated)
	}
	if recs[2].CreatedAt == nil || !recs[2].CreatedAt.Equal(time.Unix(1672628645, 0)) {
		t.Errorf("got created_at %v from unix seconds", recs[2].CreatedAt)
	}
}

func TestExtractMissingColumns(t *testing.T) {
	path := testutil.TempFile(t, "rubix.db")
	testutil.WriteLedger(t, path, []string{"token_id", "did"}, []testutil.Row{
		{"token_id": "QmA", "did": "did:a"},
		{"token_id": "QmB"},
	})

	recs, err := extractAll(t, newExtractor(t), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (no status column, so no filter)", len(recs))
	}
	for _, r := range recs {
		if r.Status != nil || r.CreatedAt != nil || r.TokenValue != nil || r.ParentTokenID != nil {
			t.Errorf("%s: absent columns should be nil: %+v", r.IdentityKey, r)
		}
	}
	if recs[1].DID != nil {
		t.Errorf("got did %q, want nil", *recs[1].DID)
	}
}

func TestExtractRequiredColumn(t *testing.T) {
	path := testutil.TempFile(t, "rubix.db")
	testutil.WriteLedger(t, path, []string{"did"}, []testutil.Row{{"did": "did:a"}})

	e := newExtractor(t)
	e.Fields = append([]Field(nil), DefaultFields...)
	e.Fields[1].Fallback = Present

	_, err := extractAll(t, e, path)
	if !stderrs.Is(err, tokensync.ErrSourceUnreadable) {
		t.Errorf("got %v, want ErrSourceUnreadable", err)
	}

	e.Fields[1].Fallback = AbsentSkipTable
	recs, err := extractAll(t, e, path)
	if err != nil || len(recs) != 0 {
		t.Errorf("got %d records and error %v, want none", len(recs), err)
	}
}

func TestExtractNoTable(t *testing.T) {
	path := testutil.TempFile(t, "rubix.db")
	testutil.WriteLedger(t, path, nil, nil)

	e := newExtractor(t)
	e.Table = "NoSuchTable"
	recs, err := extractAll(t, e, path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}

func TestExtractUnreadable(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.db")
	if err := os.WriteFile(corrupt, []byte("this is not a database file, not even close, really"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{corrupt, filepath.Join(dir, "missing.db")} {
		_, err := extractAll(t, newExtractor(t), path)
		if !stderrs.Is(err, tokensync.ErrSourceUnreadable) {
			t.Errorf("%s: got %v, want ErrSourceUnreadable", filepath.Base(path), err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "missing.db")); !os.IsNotExist(err) {
		t.Error("read-only open created the missing file")
	}
}

func TestExtractEmptyFilter(t *testing.T) {
	path := testutil.TempFile(t, "rubix.db")
	testutil.WriteLedger(t, path, nil, []testutil.Row{
		testutil.Token("QmA", 4),
		testutil.Token("QmB", 99),
	})

	e := newExtractor(t)
	e.StatusFilter = nil
	recs, err := extractAll(t, e, path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records, want 2", len(recs))
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   interface{}
		want *string
	}{
		{in: nil},
		{in: ""},
		{in: " \t"},
		{in: []byte("abc"), want: tokensync.StrPtr("abc")},
		{in: int64(7), want: tokensync.StrPtr("7")},
		{in: 1.5, want: tokensync.StrPtr("1.5")},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, normalize(tc.in)); diff != "" {
			t.Errorf("normalize(%#v) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestStatusAccepted(t *testing.T) {
	filter := map[int]bool{1: true, 13: true}
	cases := []struct {
		in   interface{}
		want bool
	}{
		{in: int64(1), want: true},
		{in: "13", want: true},
		{in: "13.0", want: true},
		{in: "4"},
		{in: "1.5"},
		{in: nil},
		{in: "active"},
	}
	for _, tc := range cases {
		if got := statusAccepted(tc.in, filter); got != tc.want {
			t.Errorf("statusAccepted(%#v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
