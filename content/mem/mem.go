// Package mem implements an in-memory fetcher.
package mem

import (
	"context"
	"sync"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/content"
)

var _ tokensync.Fetcher = &Fetcher{}

// Fetcher answers from a map of id to payload, regardless of endpoint.
type Fetcher struct {
	mu       sync.Mutex
	payloads map[string]string
}

// New produces a new, empty Fetcher.
func New() *Fetcher {
	return &Fetcher{payloads: make(map[string]string)}
}

// Put sets the payload for id.
func (f *Fetcher) Put(id, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[id] = payload
}

// Fetch implements tokensync.Fetcher.
// Unknown ids fail with tokensync.FetchNotFound.
func (f *Fetcher) Fetch(ctx context.Context, _ tokensync.Endpoint, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	payload, ok := f.payloads[id]
	if !ok {
		return "", &tokensync.FetchError{Kind: tokensync.FetchNotFound, Detail: id}
	}
	return payload, nil
}

func init() {
	content.Register("mem", func(context.Context, map[string]interface{}) (tokensync.Fetcher, error) {
		return New(), nil
	})
}
