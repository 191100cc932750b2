package enrich

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/testutil"
)

func newPool(t *testing.T, f tokensync.Fetcher, workers int) *Pool {
	conf := tokensync.DefaultConfig()
	conf.FetchWorkers = workers
	conf.FetchTimeout = time.Second
	p := New(f, conf, zaptest.NewLogger(t), nil)
	p.Retry.InitialDelay = time.Millisecond
	p.Retry.MaxDelay = time.Millisecond
	return p
}

func records(ids ...string) []*tokensync.TokenRecord {
	var recs []*tokensync.TokenRecord
	for _, id := range ids {
		rec := &tokensync.TokenRecord{IdentityKey: id}
		if id != "" {
			rec.TokenID = tokensync.StrPtr(id)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestRun(t *testing.T) {
	f := &testutil.Fetcher{
		Payloads: map[string]string{"QmA": "a", "QmB": "b"},
		Errs: map[string]error{
			"QmT": context.DeadlineExceeded,
			"QmX": fmt.Errorf("exit status 7"),
		},
	}
	recs := records("QmA", "QmB", "QmMissing", "QmT", "QmX", "")

	res, err := newPool(t, f, 3).Run(context.Background(), &tokensync.Endpoint{Dir: "/n/.ipfs"}, recs)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Result{Success: 2, Fail: 4}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	type outcome struct {
		Fetched bool
		Payload string
		Error   string
	}
	var got []outcome
	for _, r := range recs {
		got = append(got, outcome{r.EnrichmentFetched, tokensync.Str(r.EnrichmentPayload), tokensync.Str(r.EnrichmentError)})
	}
	want := []outcome{
		{Fetched: true, Payload: "a"},
		{Fetched: true, Payload: "b"},
		{Error: "not found: QmMissing"},
		{Error: "timeout"},
		{Error: "unknown: exit status 7"},
		{Error: "empty identifier"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	for _, id := range f.Calls() {
		if id == "" {
			t.Error("fetcher called for empty identifier")
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	const workers = 4

	f := &testutil.Fetcher{Payloads: map[string]string{}, Delay: 20 * time.Millisecond}
	var ids []string
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("Qm%d", i)
		ids = append(ids, id)
		f.Payloads[id] = id
	}

	res, err := newPool(t, f, workers).Run(context.Background(), &tokensync.Endpoint{Dir: "/n/.ipfs"}, records(ids...))
	if err != nil {
		t.Fatal(err)
	}
	if res.Success != len(ids) {
		t.Errorf("got %d successes, want %d", res.Success, len(ids))
	}
	if peak := f.Peak(); peak > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", peak, workers)
	}
}

func TestTransportRetried(t *testing.T) {
	f := &testutil.Fetcher{
		Payloads: map[string]string{"QmA": "a"},
		Errs:     map[string]error{"QmA": &tokensync.FetchError{Kind: tokensync.FetchTransport, Detail: "repo.lock held"}},
	}
	recs := records("QmA")
	p := newPool(t, f, 1)
	p.Retry.MaxAttempts = 3

	res, err := p.Run(context.Background(), &tokensync.Endpoint{Dir: "/n/.ipfs"}, recs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fail != 1 || len(f.Calls()) != 3 {
		t.Errorf("got %+v after %d calls, want one failure after 3 calls", res, len(f.Calls()))
	}
	if got := tokensync.Str(recs[0].EnrichmentError); got != "transport: repo.lock held" {
		t.Errorf("got error %q", got)
	}
}

func TestPerCallTimeout(t *testing.T) {
	f := &testutil.Fetcher{Payloads: map[string]string{"QmA": "a"}, Delay: time.Second}
	p := newPool(t, f, 1)
	p.Timeout = 20 * time.Millisecond

	recs := records("QmA")
	if _, err := p.Run(context.Background(), &tokensync.Endpoint{Dir: "/n/.ipfs"}, recs); err != nil {
		t.Fatal(err)
	}
	if got := tokensync.Str(recs[0].EnrichmentError); got != "timeout" {
		t.Errorf("got error %q, want timeout", got)
	}
	if len(f.Calls()) != 1 {
		t.Errorf("timeout retried: %d calls", len(f.Calls()))
	}
}

func TestNoEndpoint(t *testing.T) {
	f := &testutil.Fetcher{}
	recs := records("QmA", "QmB")
	res, err := newPool(t, f, 2).Run(context.Background(), nil, recs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fail != 2 || len(f.Calls()) != 0 {
		t.Errorf("got %+v with %d calls", res, len(f.Calls()))
	}
	for _, r := range recs {
		if tokensync.Str(r.EnrichmentError) != "endpoint not found" {
			t.Errorf("%s: got error %q", r.IdentityKey, tokensync.Str(r.EnrichmentError))
		}
	}
}

func TestCancel(t *testing.T) {
	f := &testutil.Fetcher{Payloads: map[string]string{}, Delay: time.Second}
	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, fmt.Sprintf("Qm%d", i))
	}
	recs := records(ids...)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newPool(t, f, 2).Run(ctx, &tokensync.Endpoint{Dir: "/n/.ipfs"}, recs)
	if err == nil {
		t.Fatal("expected an error from a cancelled run")
	}
	for _, r := range recs {
		if r.EnrichmentFetched || r.EnrichmentError != nil {
			t.Errorf("%s touched after cancellation", r.IdentityKey)
		}
	}
	if n := len(f.Calls()); n > 2 {
		t.Errorf("got %d calls, want at most 2", n)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", 300) // 600 bytes
	got := truncate(long, MaxErrorLen)
	if len(got) != MaxErrorLen {
		t.Errorf("got %d bytes, want %d", len(got), MaxErrorLen)
	}
	if got := truncate("é"+"x", 1); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
