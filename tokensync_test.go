package tokensync

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		rec  TokenRecord
		want []string
	}{
		{
			name: "clean",
			rec:  TokenRecord{TokenID: StrPtr("QmAbc"), DID: StrPtr("bafybeid1234567890")},
		},
		{
			name: "missing id",
			rec:  TokenRecord{},
			want: []string{"missing or empty token_id"},
		},
		{
			name: "long id and did",
			rec:  TokenRecord{TokenID: StrPtr(strings.Repeat("x", 501)), DID: StrPtr(strings.Repeat("d", 1001))},
			want: []string{"token_id exceeds maximum length (500)", "did exceeds maximum length (1000)"},
		},
		{
			name: "oversize payload",
			rec: TokenRecord{
				TokenID:           StrPtr("QmAbc"),
				EnrichmentFetched: true,
				EnrichmentPayload: StrPtr(strings.Repeat("p", MaxPayloadLen+1)),
			},
			want: []string{"enrichment payload exceeds size limit (50000)"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok := tc.rec.Validate()
			if ok != (len(tc.want) == 0) {
				t.Errorf("got ok=%v, want %v", ok, len(tc.want) == 0)
			}
			if diff := cmp.Diff(tc.want, tc.rec.ValidationErrors); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidationText(t *testing.T) {
	r := TokenRecord{ValidationErrors: []string{"a", "b"}}
	got := r.ValidationText()
	if got == nil || *got != `["a","b"]` {
		t.Errorf("got %v, want [\"a\",\"b\"]", got)
	}
	r.ValidationErrors = nil
	if got := r.ValidationText(); got != nil {
		t.Errorf("got %q, want nil", *got)
	}
}

func TestErrorSummaryText(t *testing.T) {
	s := SyncSession{ErrorSummary: []string{"one", "two\nlines"}}
	got := s.ErrorSummaryText()
	if got == nil || *got != `["one","two\nlines"]` {
		t.Errorf("got %v, want [\"one\",\"two\\nlines\"]", got)
	}
	s.ErrorSummary = nil
	if got := s.ErrorSummaryText(); got != nil {
		t.Errorf("got %q, want nil", *got)
	}
}

func TestEnrichmentSetters(t *testing.T) {
	var r TokenRecord
	r.SetEnrichmentError("timeout")
	if r.EnrichmentFetched || Str(r.EnrichmentError) != "timeout" {
		t.Fatalf("after SetEnrichmentError: fetched=%v error=%q", r.EnrichmentFetched, Str(r.EnrichmentError))
	}
	r.SetEnrichment("name 1 did")
	if !r.EnrichmentFetched || r.EnrichmentError != nil || Str(r.EnrichmentPayload) != "name 1 did" {
		t.Errorf("after SetEnrichment: %+v", r)
	}
}

func TestClassifyFetchError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{err: &FetchError{Kind: FetchNotFound, Detail: "no link"}, want: "not found: no link"},
		{err: errors.Wrap(context.DeadlineExceeded, "running"), want: "timeout"},
		{err: errors.Wrap(&FetchError{Kind: FetchTransport}, "calling"), want: "transport"},
		{err: errors.New("boom"), want: "unknown: boom"},
	}
	for _, tc := range cases {
		if got := ClassifyFetchError(tc.err).Error(); got != tc.want {
			t.Errorf("ClassifyFetchError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if ClassifyFetchError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing dsn")
	}
	c.Store.DSN = "postgres://localhost/tokens"
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %s", err)
	}
	c.FetchWorkers = 0
	if err := c.Validate(); err == nil {
		t.Error("expected error for zero fetch workers")
	}
}
