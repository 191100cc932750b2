package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.Source("processed")
	m.Extracted(3)
	m.Fetch("ok", time.Second)
	m.Chunk("committed", time.Millisecond)
	m.Retried()
	m.Stored(1, 1)
	m.Session("COMPLETED")
}

func TestCounters(t *testing.T) {
	m := New()
	m.Source("processed")
	m.Source("processed")
	m.Source("skipped")
	m.Fetch("ok", 20*time.Millisecond)
	m.Fetch("cached", 0)
	m.Stored(5, 2)

	if got := testutil.ToFloat64(m.Sources.WithLabelValues("processed")); got != 2 {
		t.Errorf("got %v processed sources, want 2", got)
	}
	if got := testutil.ToFloat64(m.StoreInserts); got != 5 {
		t.Errorf("got %v inserts, want 5", got)
	}
	if got := testutil.ToFloat64(m.StoreErrors); got != 2 {
		t.Errorf("got %v store errors, want 2", got)
	}
	if got := testutil.CollectAndCount(m.FetchDuration); got != 1 {
		t.Errorf("got %d fetch duration series, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if body := rec.Body.String(); !strings.Contains(body, `tokensync_fetches_total{result="cached"} 1`) {
		t.Errorf("exposition missing cached fetch counter:\n%s", body)
	}
}
