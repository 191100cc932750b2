// Package lru implements a fetcher that acts as a least-recently-used cache for a nested fetcher.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/content"
)

var _ tokensync.Fetcher = &Fetcher{}

// Fetcher caches successful payloads, keyed by endpoint directory and id.
// Failures are not cached.
type Fetcher struct {
	c *lru.Cache // key->string
	f tokensync.Fetcher
}

type key struct {
	dir, id string
}

// New produces a new Fetcher backed by f and caching up to size payloads.
func New(f tokensync.Fetcher, size int) (*Fetcher, error) {
	c, err := lru.New(size)
	return &Fetcher{f: f, c: c}, err
}

// Fetch implements tokensync.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, ep tokensync.Endpoint, id string) (string, error) {
	k := key{dir: ep.Dir, id: id}
	if got, ok := f.c.Get(k); ok {
		return got.(string), nil
	}
	payload, err := f.f.Fetch(ctx, ep, id)
	if err != nil {
		return "", err
	}
	f.c.Add(k, payload)
	return payload, nil
}

// Purge empties the cache.
func (f *Fetcher) Purge() {
	f.c.Purge()
}

func init() {
	content.Register("lru", func(ctx context.Context, conf map[string]interface{}) (tokensync.Fetcher, error) {
		size, ok := conf["size"].(int)
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, err := content.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested, size)
	})
}
