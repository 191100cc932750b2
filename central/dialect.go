package central

import (
	"fmt"
	"sort"
)

// Dialect adapts the gateway to one database backend.
type Dialect interface {
	// DriverName is the database/sql driver to open.
	DriverName() string

	// Schema is the DDL executed by EnsureSchema.
	// It must be idempotent.
	Schema() string

	// MaxParams is the largest number of bind parameters in one statement.
	MaxParams() int

	// Retryable reports whether err is transient for this backend.
	// Errors it does not recognize are treated as fatal
	// unless they are generically transient (see Retryable).
	Retryable(err error) bool
}

var dialects = make(map[string]Dialect)

// Register makes a Dialect available under key (the store.driver setting).
func Register(key string, d Dialect) {
	dialects[key] = d
}

// Lookup finds the Dialect registered under key.
func Lookup(key string) (Dialect, error) {
	d, ok := dialects[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return d, nil
}

// Dialects lists the registered keys, sorted.
func Dialects() []string {
	var keys []string
	for k := range dialects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
