package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/tokensync"
)

const testConfigYAML = `
root: /data
status_filter: [1, 2]
fetch_timeout: 5s
store:
  driver: sqlite3
  dsn: /var/lib/tokensync/central.db
fetcher:
  cache_size: 0
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokensync.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOKENSYNC_BATCH_SIZE", "50")
	t.Setenv("TOKENSYNC_STORE_POOL_SIZE", "7")

	got, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	want := tokensync.DefaultConfig()
	want.Root = "/data"
	want.StatusFilter = []int{1, 2}
	want.FetchTimeout = 5 * time.Second
	want.BatchSize = 50
	want.Store.Driver = "sqlite3"
	want.Store.DSN = "/var/lib/tokensync/central.db"
	want.Store.PoolSize = 7
	want.Fetcher.CacheSize = 0

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	// No config file is found in the package directory.
	if _, err := loadConfig(""); err == nil {
		t.Error("expected a validation error without a store DSN")
	}

	t.Setenv("TOKENSYNC_STORE_DSN", "postgres://localhost/tokensync")
	got, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	want := tokensync.DefaultConfig()
	want.Store.DSN = "postgres://localhost/tokensync"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for an explicit missing file")
	}
}
