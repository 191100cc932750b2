// Package content constructs enrichment fetchers by name.
// Transports and wrappers live in subpackages
// and register themselves here when imported.
package content

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/tokensync"
)

// Factory builds a Fetcher from a configuration map.
type Factory func(context.Context, map[string]interface{}) (tokensync.Fetcher, error)

var registry = make(map[string]Factory)

// Register makes a Factory available to Create under key.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create builds the Fetcher registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (tokensync.Fetcher, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// Keys lists the registered keys, sorted.
func Keys() []string {
	var keys []string
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Nested builds the Fetcher described by conf["nested"],
// a map with its own "type" key.
// Wrapper factories use it.
func Nested(ctx context.Context, conf map[string]interface{}) (tokensync.Fetcher, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, errors.New(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, errors.New(`"nested" parameter missing "type"`)
	}
	f, err := Create(ctx, nestedType, nested)
	return f, errors.Wrap(err, "creating nested fetcher")
}

// ConfigMap translates fc into the nested configuration map understood by Create,
// wrapping the transport in "lru" when fc.CacheSize is positive
// and in "logging" when fc.Log is set.
// The logger is passed to every layer under the "logger" key.
func ConfigMap(fc tokensync.FetcherConfig, logger *zap.Logger) map[string]interface{} {
	conf := map[string]interface{}{
		"type":   fc.Type,
		"binary": fc.Binary,
		"logger": logger,
	}
	if fc.CacheSize > 0 {
		conf = map[string]interface{}{
			"type":   "lru",
			"size":   fc.CacheSize,
			"nested": conf,
			"logger": logger,
		}
	}
	if fc.Log {
		conf = map[string]interface{}{
			"type":   "logging",
			"nested": conf,
			"logger": logger,
		}
	}
	return conf
}

// LoggerFrom returns conf["logger"], or a no-op logger.
func LoggerFrom(conf map[string]interface{}) *zap.Logger {
	if l, ok := conf["logger"].(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
