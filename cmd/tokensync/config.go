package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/bobg/tokensync"
)

const envPrefix = "TOKENSYNC"

// loadConfig builds the run configuration from defaults,
// the config file (filename, or tokensync.{yaml,json,toml} in . or /etc/tokensync when empty)
// and TOKENSYNC_* environment variables, in increasing priority.
func loadConfig(filename string) (tokensync.Config, error) {
	v := viper.New()
	setDefaults(v, tokensync.DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
	} else {
		v.SetConfigName("tokensync")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tokensync")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return tokensync.Config{}, errors.Wrap(err, "reading config file")
		}
	}

	var conf tokensync.Config
	if err := v.Unmarshal(&conf); err != nil {
		return tokensync.Config{}, errors.Wrap(err, "decoding config")
	}
	return conf, errors.Wrap(conf.Validate(), "validating config")
}

// setDefaults registers every key, which also lets AutomaticEnv find it.
func setDefaults(v *viper.Viper, d tokensync.Config) {
	v.SetDefault("root", d.Root)
	v.SetDefault("source_subdir", d.SourceSubdir)
	v.SetDefault("source_file", d.SourceFile)
	v.SetDefault("endpoint_dir", d.EndpointDir)
	v.SetDefault("source_identity", d.SourceIdentity)
	v.SetDefault("status_filter", d.StatusFilter)
	v.SetDefault("fetch_workers", d.FetchWorkers)
	v.SetDefault("fetch_timeout", d.FetchTimeout)
	v.SetDefault("fetch_attempts", d.FetchAttempts)
	v.SetDefault("source_workers", d.SourceWorkers)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("state_dir", d.StateDir)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.pool_size", d.Store.PoolSize)
	v.SetDefault("store.chunk_size", d.Store.ChunkSize)
	v.SetDefault("store.max_attempts", d.Store.MaxAttempts)
	v.SetDefault("store.initial_delay", d.Store.InitialDelay)
	v.SetDefault("store.max_delay", d.Store.MaxDelay)

	v.SetDefault("fetcher.type", d.Fetcher.Type)
	v.SetDefault("fetcher.binary", d.Fetcher.Binary)
	v.SetDefault("fetcher.cache_size", d.Fetcher.CacheSize)
	v.SetDefault("fetcher.log", d.Fetcher.Log)
}
