package tokensync

import (
	"runtime"
	"time"

	"github.com/pkg/errors"
)

// Config holds every tunable of a sync run.
// It is built once by the caller and passed down explicitly.
type Config struct {
	// Root is the directory scanned for source databases.
	Root string `mapstructure:"root"`

	// SourceSubdir and SourceFile name the fixed layout <node>/<SourceSubdir>/<SourceFile>.
	SourceSubdir string `mapstructure:"source_subdir"`
	SourceFile   string `mapstructure:"source_file"`

	// EndpointDir is the name of the content-store runtime directory
	// looked for under (and one level above) each node directory.
	EndpointDir string `mapstructure:"endpoint_dir"`

	// SourceIdentity is the network address recorded on every row.
	// Empty means detect it.
	SourceIdentity string `mapstructure:"source_identity"`

	// StatusFilter restricts extracted rows to these token_status values.
	// Empty disables the filter.
	StatusFilter []int `mapstructure:"status_filter"`

	Store   StoreConfig   `mapstructure:"store"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`

	// FetchWorkers bounds concurrent enrichment calls per source.
	FetchWorkers int `mapstructure:"fetch_workers"`

	// FetchTimeout is the absolute limit on one enrichment call.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`

	// FetchAttempts bounds attempts for transport-class fetch failures.
	FetchAttempts int `mapstructure:"fetch_attempts"`

	// SourceWorkers bounds sources processed concurrently.
	SourceWorkers int `mapstructure:"source_workers"`

	// BatchSize is the number of extracted records enriched and upserted together.
	BatchSize int `mapstructure:"batch_size"`

	// StateDir holds the run lock file.
	StateDir string `mapstructure:"state_dir"`
}

// StoreConfig configures the central store gateway.
type StoreConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	PoolSize     int           `mapstructure:"pool_size"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// FetcherConfig selects and configures the enrichment transport.
type FetcherConfig struct {
	Type      string `mapstructure:"type"`
	Binary    string `mapstructure:"binary"`
	CacheSize int    `mapstructure:"cache_size"`
	Log       bool   `mapstructure:"log"`
}

// DefaultStatusFilter is the set of token states worth syncing.
var DefaultStatusFilter = []int{0, 1, 2, 3, 5, 9, 12, 13, 14, 15, 16, 17}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		Root:          ".",
		SourceSubdir:  "Rubix",
		SourceFile:    "rubix.db",
		EndpointDir:   ".ipfs",
		StatusFilter:  append([]int(nil), DefaultStatusFilter...),
		FetchWorkers:  runtime.NumCPU() * 2,
		FetchTimeout:  15 * time.Second,
		FetchAttempts: 3,
		SourceWorkers: 1,
		BatchSize:     1000,
		StateDir:      ".",
		Store: StoreConfig{
			Driver:       "postgres",
			PoolSize:     5,
			ChunkSize:    1000,
			MaxAttempts:  5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     60 * time.Second,
		},
		Fetcher: FetcherConfig{
			Type:      "ipfs",
			Binary:    "ipfs",
			CacheSize: 10000,
		},
	}
}

// Validate reports the first configuration problem, if any.
func (c Config) Validate() error {
	switch {
	case c.Root == "":
		return errors.New("root not set")
	case c.SourceSubdir == "" || c.SourceFile == "":
		return errors.New("source layout not set")
	case c.EndpointDir == "":
		return errors.New("endpoint_dir not set")
	case c.Store.Driver == "":
		return errors.New("store.driver not set")
	case c.Store.DSN == "":
		return errors.New("store.dsn not set")
	case c.Store.PoolSize < 1:
		return errors.Errorf("store.pool_size %d must be positive", c.Store.PoolSize)
	case c.Store.ChunkSize < 1:
		return errors.Errorf("store.chunk_size %d must be positive", c.Store.ChunkSize)
	case c.Store.MaxAttempts < 1:
		return errors.Errorf("store.max_attempts %d must be positive", c.Store.MaxAttempts)
	case c.FetchWorkers < 1:
		return errors.Errorf("fetch_workers %d must be positive", c.FetchWorkers)
	case c.FetchTimeout <= 0:
		return errors.New("fetch_timeout must be positive")
	case c.FetchAttempts < 1:
		return errors.Errorf("fetch_attempts %d must be positive", c.FetchAttempts)
	case c.SourceWorkers < 1:
		return errors.Errorf("source_workers %d must be positive", c.SourceWorkers)
	case c.BatchSize < 1:
		return errors.Errorf("batch_size %d must be positive", c.BatchSize)
	}
	return nil
}
