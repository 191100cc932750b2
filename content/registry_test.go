package content_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/content"
	"github.com/bobg/tokensync/content/logging"
	"github.com/bobg/tokensync/content/lru"
	"github.com/bobg/tokensync/content/mem"
)

func TestKeys(t *testing.T) {
	want := []string{"logging", "lru", "mem"}
	if diff := cmp.Diff(want, content.Keys()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateFromConfig(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	cases := []struct {
		name  string
		fc    tokensync.FetcherConfig
		check func(tokensync.Fetcher) bool
	}{
		{
			name:  "plain",
			fc:    tokensync.FetcherConfig{Type: "mem"},
			check: func(f tokensync.Fetcher) bool { _, ok := f.(*mem.Fetcher); return ok },
		},
		{
			name:  "cached",
			fc:    tokensync.FetcherConfig{Type: "mem", CacheSize: 10},
			check: func(f tokensync.Fetcher) bool { _, ok := f.(*lru.Fetcher); return ok },
		},
		{
			name:  "logged",
			fc:    tokensync.FetcherConfig{Type: "mem", CacheSize: 10, Log: true},
			check: func(f tokensync.Fetcher) bool { _, ok := f.(*logging.Fetcher); return ok },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conf := content.ConfigMap(tc.fc, logger)
			f, err := content.Create(ctx, conf["type"].(string), conf)
			if err != nil {
				t.Fatal(err)
			}
			if !tc.check(f) {
				t.Errorf("got %T", f)
			}
		})
	}
}

func TestCreateUnknown(t *testing.T) {
	if _, err := content.Create(context.Background(), "carrier-pigeon", nil); err == nil {
		t.Error("expected error for unknown key")
	}
	conf := map[string]interface{}{"type": "lru", "size": 1}
	if _, err := content.Create(context.Background(), "lru", conf); err == nil {
		t.Error("expected error for missing nested config")
	}
}
